package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/assettelematics/finbot/config"
	"github.com/assettelematics/finbot/server/mocks"
)

func testConfig(port int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Port = port
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.TestMode = true
	cfg.LLM.HealthCheck = nil
	return cfg
}

func portInUse(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return true
	}
	ln.Close()
	return false
}

func waitForPortAvailable(port int) error {
	for i := 0; i < 50; i++ {
		if !portInUse(port) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("port %d is still in use after timeout", port)
}

func waitForHealthy(t *testing.T, port int) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", port))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 100*time.Millisecond, "server did not become healthy on port %d", port)
}

func TestServerLifecycle(t *testing.T) {
	ports := []int{19081, 19082}
	for _, port := range ports {
		require.NoError(t, waitForPortAvailable(port))
	}

	logger := zaptest.NewLogger(t)
	watcher := mocks.NewMockConfigWatcher(testConfig(ports[0]))

	srv, err := NewServerWithConfig(watcher, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()

	waitForHealthy(t, ports[0])

	t.Run("health endpoint", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/health", ports[0]))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("customers listing", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/v1/customers", ports[0]))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Len(t, body["customers"], 3)
	})

	t.Run("conversation history requires key", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/v1/conversations/conv-1", ports[0]))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("metrics endpoint requires key", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/metrics", ports[0]))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("chat without providers returns upstream error", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{
			"customerId": "CUST001",
			"message":     "What do I owe?",
		})
		resp, err := http.Post(
			fmt.Sprintf("http://localhost:%d/v1/chat", ports[0]),
			"application/json",
			bytes.NewReader(body),
		)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})

	t.Run("configuration update moves listener", func(t *testing.T) {
		watcher.UpdateConfig(testConfig(ports[1]))

		waitForHealthy(t, ports[1])
		require.NoError(t, waitForPortAvailable(ports[0]), "old port should be released")
	})

	cancel()

	select {
	case err := <-serverErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server failed to shut down")
	}

	for _, port := range ports {
		require.NoError(t, waitForPortAvailable(port))
	}
}

func TestNewServerWithConfig_InvalidConfig(t *testing.T) {
	cfg := testConfig(19083)
	cfg.Server.Port = -1

	_, err := NewServerWithConfig(mocks.NewMockConfigWatcher(cfg), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNewServer_MissingConfigFile(t *testing.T) {
	_, err := NewServer("/nonexistent/finbot.yaml", zaptest.NewLogger(t))
	assert.Error(t, err)
}
