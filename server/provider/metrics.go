package provider

import "github.com/prometheus/client_golang/prometheus"

// initializeMetrics sets up Prometheus metrics
func (m *Manager) initializeMetrics(registry *prometheus.Registry) {
	m.healthCheckDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "finbot_health_check_duration_seconds",
		Help: "Duration of provider health checks",
	})

	m.healthCheckErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finbot_health_check_errors_total",
		Help: "Number of health check errors by provider",
	}, []string{"provider"})

	m.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "finbot_provider_request_latency_seconds",
		Help: "Latency of completion provider requests",
	}, []string{"provider"})

	m.deduplicatedRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finbot_deduplicated_requests_total",
		Help: "Number of in-flight requests coalesced with an identical one",
	})

	m.healthyProviders = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "finbot_healthy_providers",
		Help: "Provider health (1 healthy, 0 unhealthy)",
	}, []string{"provider"})

	if registry != nil {
		registry.MustRegister(m.healthCheckDuration)
		registry.MustRegister(m.healthCheckErrors)
		registry.MustRegister(m.requestLatency)
		registry.MustRegister(m.deduplicatedRequests)
		registry.MustRegister(m.healthyProviders)
	}
}
