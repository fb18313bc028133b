package provider

import (
	"context"
	"time"

	"github.com/teilomillet/gollm"
	"go.uber.org/zap"
)

// HealthStatus represents the current health state of a provider.
type HealthStatus struct {
	Healthy          bool          // Whether the provider is currently healthy
	LastCheck        time.Time     // When the last health check was performed
	ConsecutiveFails int           // Number of consecutive failures
	Latency          time.Duration // Last observed latency
	ErrorCount       int64         // Total number of errors
	RequestCount     int64         // Total number of requests
}

// startHealthChecks probes all providers on the configured interval.
func (m *Manager) startHealthChecks(ctx context.Context) {
	interval := time.Minute
	if m.cfg.LLM.HealthCheck != nil && m.cfg.LLM.HealthCheck.Interval > 0 {
		interval = m.cfg.LLM.HealthCheck.Interval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.PerformHealthCheck()
		}
	}
}

// PerformHealthCheck probes every provider once and records the results.
func (m *Manager) PerformHealthCheck() {
	m.mu.RLock()
	providers := make(map[string]gollm.LLM, len(m.providers))
	for name, llm := range m.providers {
		providers[name] = llm
	}
	m.mu.RUnlock()

	for name, llm := range providers {
		status := m.checkProviderHealth(name, llm)
		m.UpdateHealthStatus(name, status)
	}
}

// CheckProviderHealth performs a health check on a single provider.
func (m *Manager) CheckProviderHealth(name string, llm gollm.LLM) HealthStatus {
	return m.checkProviderHealth(name, llm)
}

func (m *Manager) checkProviderHealth(name string, llm gollm.LLM) HealthStatus {
	start := time.Now()
	status := HealthStatus{
		LastCheck: start,
		Healthy:   true,
	}

	// Carry forward cumulative counters
	if val, ok := m.healthStates.Load(name); ok {
		prev := val.(HealthStatus)
		status.ConsecutiveFails = prev.ConsecutiveFails
		status.ErrorCount = prev.ErrorCount
		status.RequestCount = prev.RequestCount
	}

	prompt := &gollm.Prompt{
		Messages: []gollm.PromptMessage{
			{Role: "user", Content: "health check"},
		},
	}

	timeout := 5 * time.Second
	if m.cfg.LLM.HealthCheck != nil && m.cfg.LLM.HealthCheck.Timeout > 0 {
		timeout = m.cfg.LLM.HealthCheck.Timeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := llm.Generate(ctx, prompt)
	status.Latency = time.Since(start)
	m.healthCheckDuration.Observe(status.Latency.Seconds())

	if err != nil {
		status.Healthy = false
		status.ConsecutiveFails++
		status.ErrorCount++
		m.healthCheckErrors.WithLabelValues(name).Inc()
		m.logger.Warn("Provider health check failed",
			zap.String("provider", name),
			zap.Error(err),
			zap.Duration("latency", status.Latency),
		)
	} else {
		status.ConsecutiveFails = 0
	}

	status.RequestCount++
	return status
}

// GetHealthStatus returns the recorded health status for a provider.
// A provider that has never been probed reports healthy: requests decide.
func (m *Manager) GetHealthStatus(name string) HealthStatus {
	if val, ok := m.healthStates.Load(name); ok {
		return val.(HealthStatus)
	}
	return HealthStatus{Healthy: true}
}

// UpdateHealthStatus records a new health status for a provider.
func (m *Manager) UpdateHealthStatus(name string, status HealthStatus) {
	prev := m.GetHealthStatus(name)

	// Recovery resets the error counters
	if status.Healthy && !prev.Healthy {
		status.ErrorCount = 0
		status.ConsecutiveFails = 0
	}

	m.healthStates.Store(name, status)

	if status.Healthy {
		m.healthyProviders.WithLabelValues(name).Set(1)
	} else {
		m.healthyProviders.WithLabelValues(name).Set(0)
	}
}

// HealthSnapshot returns the last known health status of every configured
// provider.
func (m *Manager) HealthSnapshot() map[string]HealthStatus {
	m.mu.RLock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	snapshot := make(map[string]HealthStatus, len(names))
	for _, name := range names {
		snapshot[name] = m.GetHealthStatus(name)
	}
	return snapshot
}
