// Package provider implements completion provider management: provider
// construction from configuration, per-provider circuit breakers, health
// monitoring, failover, and in-flight request deduplication.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/teilomillet/gollm"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/assettelematics/finbot/config"
	"github.com/assettelematics/finbot/server/circuitbreaker"
)

// Manager handles completion provider management and selection.
type Manager struct {
	providers    map[string]gollm.LLM
	breakers     map[string]*circuitbreaker.CircuitBreaker
	healthStates sync.Map // map[string]HealthStatus
	group        singleflight.Group
	logger       *zap.Logger
	cfg          *config.Config
	mu           sync.RWMutex

	// Metrics
	healthCheckDuration  prometheus.Histogram
	healthCheckErrors    *prometheus.CounterVec
	requestLatency       *prometheus.HistogramVec
	deduplicatedRequests prometheus.Counter
	healthyProviders     *prometheus.GaugeVec
}

// NewManager creates a new provider manager.
func NewManager(cfg *config.Config, logger *zap.Logger, registry *prometheus.Registry) (*Manager, error) {
	m := &Manager{
		providers: make(map[string]gollm.LLM),
		breakers:  make(map[string]*circuitbreaker.CircuitBreaker),
		logger:    logger,
		cfg:       cfg,
	}

	m.initializeMetrics(registry)

	if cfg.TestMode {
		return m, nil
	}

	if err := m.initializeProviders(registry); err != nil {
		return nil, err
	}

	if cfg.LLM.HealthCheck != nil && cfg.LLM.HealthCheck.Enabled {
		go m.startHealthChecks(context.Background())
	}

	return m, nil
}

// breakerConfig derives the per-provider breaker settings. Content blocks
// and caller cancellations never count as provider failures.
func (m *Manager) breakerConfig() circuitbreaker.Config {
	cfg := circuitbreaker.Config{
		MaxRequests:      m.cfg.CircuitBreaker.MaxRequests,
		Interval:         m.cfg.CircuitBreaker.Interval,
		Timeout:          m.cfg.CircuitBreaker.Timeout,
		FailureThreshold: m.cfg.CircuitBreaker.FailureThreshold,
		TestMode:         m.cfg.CircuitBreaker.TestMode,
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return IsContentBlocked(err) || errors.Is(err, context.Canceled)
		},
	}

	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}

	return cfg
}

// initializeProviders sets up completion providers based on configuration.
// The providers map takes precedence; the llm section plus its backups is
// the fallback for single-provider deployments.
func (m *Manager) initializeProviders(registry *prometheus.Registry) error {
	cbConfig := m.breakerConfig()

	for name, providerCfg := range m.cfg.Providers {
		llm, err := gollm.NewLLM(
			gollm.SetProvider(providerCfg.Type),
			gollm.SetModel(providerCfg.Model),
			gollm.SetAPIKey(providerCfg.APIKey),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize provider %s: %w", name, err)
		}
		m.addProvider(name, llm, cbConfig, registry)
	}

	if len(m.providers) == 0 && m.cfg.LLM.Provider != "" {
		primary, err := gollm.NewLLM(
			gollm.SetProvider(m.cfg.LLM.Provider),
			gollm.SetModel(m.cfg.LLM.Model),
			gollm.SetAPIKey(m.cfg.LLM.APIKey),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize primary provider: %w", err)
		}
		m.addProvider(m.cfg.LLM.Provider, primary, cbConfig, registry)

		for _, backup := range m.cfg.LLM.BackupProviders {
			llm, err := gollm.NewLLM(
				gollm.SetProvider(backup.Provider),
				gollm.SetModel(backup.Model),
				gollm.SetAPIKey(backup.APIKey),
			)
			if err != nil {
				m.logger.Warn("Failed to initialize backup provider",
					zap.String("provider", backup.Provider),
					zap.Error(err))
				continue
			}
			m.addProvider(backup.Provider, llm, cbConfig, registry)
		}
	}

	return nil
}

func (m *Manager) addProvider(name string, llm gollm.LLM, cbConfig circuitbreaker.Config, registry *prometheus.Registry) {
	m.providers[name] = llm
	m.breakers[name] = circuitbreaker.New(
		name,
		cbConfig,
		m.logger.With(zap.String("provider", name)),
		registry,
	)
}

// preference returns the provider order to try. Falls back to whatever is
// configured when no explicit preference is set.
func (m *Manager) preference() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.cfg.ProviderPreference) > 0 {
		out := make([]string, len(m.cfg.ProviderPreference))
		copy(out, m.cfg.ProviderPreference)
		return out
	}

	out := make([]string, 0, len(m.providers))
	for name := range m.providers {
		out = append(out, name)
	}
	return out
}

// getProviderResources safely retrieves provider-related resources.
func (m *Manager) getProviderResources(name string) (gollm.LLM, *circuitbreaker.CircuitBreaker) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providers[name], m.breakers[name]
}

// SetProviders replaces the current providers and their breakers (for
// testing).
func (m *Manager) SetProviders(providers map[string]gollm.LLM) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cbConfig := m.breakerConfig()
	cbConfig.TestMode = true

	m.providers = make(map[string]gollm.LLM, len(providers))
	m.breakers = make(map[string]*circuitbreaker.CircuitBreaker, len(providers))
	for name, llm := range providers {
		m.providers[name] = llm
		m.breakers[name] = circuitbreaker.New(name, cbConfig, m.logger, nil)
	}
}
