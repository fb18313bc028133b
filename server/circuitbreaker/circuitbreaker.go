// Package circuitbreaker wraps sony/gobreaker with logging and Prometheus
// instrumentation. One breaker guards one upstream provider.
package circuitbreaker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// MaxRequests allowed through while half-open
	MaxRequests uint32

	// Interval is the cyclic period for clearing counts while closed
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that trips
	// the breaker
	FailureThreshold uint32

	// IsSuccessful optionally classifies an operation error as a
	// non-failure. Used to keep deliberate upstream refusals (content
	// blocks) from tripping the breaker.
	IsSuccessful func(err error) bool

	// TestMode skips Prometheus metric registration
	TestMode bool
}

// CircuitBreaker guards calls to a single upstream.
type CircuitBreaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	stateGauge prometheus.Gauge
	tripsTotal prometheus.Counter
}

// New creates a named circuit breaker.
func New(name string, cfg Config, logger *zap.Logger, registry *prometheus.Registry) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		logger: logger,
	}

	cb.stateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "finbot_circuit_breaker_state",
		Help:        "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		ConstLabels: prometheus.Labels{"name": name},
	})
	cb.tripsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "finbot_circuit_breaker_trips_total",
		Help:        "Total number of times the circuit breaker has tripped open",
		ConstLabels: prometheus.Labels{"name": name},
	})

	if !cfg.TestMode && registry != nil {
		registry.MustRegister(cb.stateGauge, cb.tripsTotal)
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 3
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: cfg.IsSuccessful,
		OnStateChange: func(_ string, from, to gobreaker.State) {
			cb.stateGauge.Set(float64(to))
			if to == gobreaker.StateOpen {
				cb.tripsTotal.Inc()
			}
			cb.logger.Warn("Circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	cb.breaker = gobreaker.NewCircuitBreaker(settings)
	return cb
}

// Execute runs f under the breaker. While the breaker is open the call is
// rejected with ErrCircuitOpen without invoking f.
func (cb *CircuitBreaker) Execute(f func() error) error {
	_, err := cb.breaker.Execute(func() (interface{}, error) {
		return nil, f()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return ErrCircuitOpen
	}
	return err
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}

// Counts returns the breaker's internal counters.
func (cb *CircuitBreaker) Counts() gobreaker.Counts {
	return cb.breaker.Counts()
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}
