package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/assettelematics/finbot/server/provider"
)

// ProviderHealth reports the status of all completion providers.
// Satisfied by provider.Manager.
type ProviderHealth interface {
	HealthSnapshot() map[string]provider.HealthStatus
}

// HealthResponse is the body returned by the health endpoint.
type HealthResponse struct {
	Status    string                    `json:"status"`
	Uptime    string                    `json:"uptime"`
	Providers map[string]providerState `json:"providers,omitempty"`
}

type providerState struct {
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms"`
	LastCheck string `json:"last_check,omitempty"`
}

// HealthHandler reports gateway liveness and provider health. The endpoint
// returns 503 only when every configured provider is marked unhealthy.
type HealthHandler struct {
	providers ProviderHealth
	started   time.Time
	logger    *zap.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(providers ProviderHealth, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		providers: providers,
		started:   time.Now(),
		logger:    logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")

	if h.providers != nil {
		snapshot := h.providers.HealthSnapshot()
		if len(snapshot) > 0 {
			resp.Providers = make(map[string]providerState, len(snapshot))
			anyHealthy := false
			for name, status := range snapshot {
				if status.Healthy {
					anyHealthy = true
				}
				state := providerState{
					Healthy:   status.Healthy,
					LatencyMS: status.Latency.Milliseconds(),
				}
				if !status.LastCheck.IsZero() {
					state.LastCheck = status.LastCheck.UTC().Format(time.RFC3339)
				}
				resp.Providers[name] = state
			}
			if !anyHealthy {
				resp.Status = "degraded"
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		}
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
