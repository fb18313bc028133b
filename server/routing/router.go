// Package routing provides configuration-driven routing for the gateway.
// Routes, their methods, and their middleware stacks are declared in YAML
// and bound to named handlers at startup.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/assettelematics/finbot/config"
	"github.com/assettelematics/finbot/errors"
	"github.com/assettelematics/finbot/server/metrics"
	"github.com/assettelematics/finbot/server/middleware"
	"github.com/assettelematics/finbot/server/validation"
)

// Options carries the optional router collaborators.
type Options struct {
	// Metrics enables HTTP instrumentation and rate limit accounting.
	Metrics *metrics.Metrics

	// Validator, when set, screens chat request bodies before the
	// chat handler runs.
	Validator *validation.Validator
}

// Router handles dynamic HTTP routing with versioning and health checks.
type Router struct {
	router      chi.Router
	handlers    map[string]http.Handler
	healthState sync.Map
	logger      *zap.Logger
	cfg         *config.Config
	opts        Options
	queue       *middleware.QueueMiddleware
}

// NewRouter creates a router for the configured routes. Handlers are bound
// by the name used in the route configuration; routes naming an unknown
// handler are skipped with an error log.
func NewRouter(cfg *config.Config, handlers map[string]http.Handler, logger *zap.Logger, opts Options) *Router {
	r := &Router{
		router:   chi.NewRouter(),
		handlers: handlers,
		logger:   logger,
		cfg:      cfg,
		opts:     opts,
	}

	for _, route := range cfg.Routes {
		if route.HealthCheck != nil && route.HealthCheck.Enabled {
			r.healthState.Store(route.Path, true)
		}
	}

	// Global middleware stack
	r.router.Use(middleware.RequestID)
	r.router.Use(middleware.RequestTimer)
	r.router.Use(middleware.Recovery(logger))
	if opts.Metrics != nil {
		r.router.Use(middleware.PrometheusMetrics(opts.Metrics))
	}

	if cfg.Queue.Enabled {
		r.queue = middleware.NewQueueMiddleware(middleware.QueueConfig{
			InitialSize:  cfg.Queue.InitialSize,
			Metrics:      opts.Metrics,
			StatePath:    cfg.Queue.StatePath,
			SaveInterval: cfg.Queue.SaveInterval,
		})
		r.router.Use(r.queue.Handler)
	}

	r.setupRoutes()

	return r
}

// setupRoutes configures all routes based on the configuration.
func (r *Router) setupRoutes() {
	for _, route := range r.cfg.Routes {
		handler, ok := r.handlers[route.Handler]
		if !ok {
			r.logger.Error("handler not found", zap.String("handler", route.Handler))
			continue
		}

		path := versionedPath(route)

		r.router.Group(func(router chi.Router) {
			for _, mw := range route.Middleware {
				switch mw {
				case "auth":
					router.Use(middleware.Authentication(r.cfg.Server.APIKeys...))
				case "timeout":
					router.Use(middleware.Timeout(r.requestTimeout()))
				case "rate-limit":
					router.Use(middleware.RateLimit(r.opts.Metrics))
				case "cors":
					router.Use(corsHandler())
				case "logging":
					router.Use(middleware.Logging(r.logger))
				default:
					r.logger.Warn("unknown middleware requested", zap.String("middleware", mw))
				}
			}

			if route.Handler == "chat" && r.opts.Validator != nil {
				router.Use(r.opts.Validator.ValidateChat)
			}

			if len(route.Headers) > 0 {
				router.Use(requireHeaders(route.Headers))
			}

			methods := route.Methods
			if len(methods) == 0 {
				methods = []string{"GET"}
			}

			for _, method := range methods {
				router.Method(method, path, handler)
			}

			if route.HealthCheck != nil && route.HealthCheck.Enabled {
				router.Get(path+"/health", r.healthCheckHandler(route))
				go r.startHealthCheck(route)
			}
		})
	}
}

// versionedPath prefixes the route path with its API version unless the
// path already carries it.
func versionedPath(route config.RouteConfig) string {
	if route.Version == "" {
		return route.Path
	}
	prefix := "/" + route.Version
	if route.Path == prefix || strings.HasPrefix(route.Path, prefix+"/") {
		return route.Path
	}
	return prefix + route.Path
}

// requestTimeout derives the per-request deadline from the listener's
// write timeout.
func (r *Router) requestTimeout() time.Duration {
	if t := r.cfg.Server.WriteTimeout; t > 0 {
		return t
	}
	return 30 * time.Second
}

// corsHandler builds the CORS policy for browser-facing routes. The chat
// widget is embedded on customer portal pages, so origins stay open.
func corsHandler() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders: []string{"X-Request-ID", "X-Response-Time"},
		MaxAge:         300,
	})
}

// requireHeaders rejects requests missing the route's mandatory headers.
func requireHeaders(headers map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			for key, value := range headers {
				if req.Header.Get(key) != value {
					errors.ErrorWithType(w, fmt.Sprintf("missing or invalid header: %s", key),
						errors.ValidationError, http.StatusBadRequest)
					return
				}
			}
			next.ServeHTTP(w, req)
		})
	}
}

// healthCheckHandler returns a handler for route-specific health checks.
func (r *Router) healthCheckHandler(route config.RouteConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		status := "healthy"
		if v, ok := r.healthState.Load(route.Path); ok && !v.(bool) {
			status = "unhealthy"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(map[string]string{"status": status}); err != nil {
			r.logger.Error("failed to encode health status", zap.Error(err))
		}
	}
}

// startHealthCheck probes a route on its configured interval and flips its
// health state after the failure threshold is reached.
func (r *Router) startHealthCheck(route config.RouteConfig) {
	if route.HealthCheck == nil || !route.HealthCheck.Enabled {
		return
	}

	ticker := time.NewTicker(route.HealthCheck.Interval)
	failures := 0

	for range ticker.C {
		healthy := true
		for name, checkType := range route.HealthCheck.Checks {
			switch checkType {
			case "http":
				healthy = r.checkHTTPHealth(route)
			default:
				r.logger.Warn("unknown health check type",
					zap.String("type", checkType),
					zap.String("check", name))
			}

			if !healthy {
				failures++
				if failures >= route.HealthCheck.Threshold {
					r.healthState.Store(route.Path, false)
				}
				break
			}
		}

		if healthy {
			failures = 0
			r.healthState.Store(route.Path, true)
		}
	}
}

// checkHTTPHealth verifies the route answers 200 on the local listener.
func (r *Router) checkHTTPHealth(route config.RouteConfig) bool {
	client := &http.Client{
		Timeout: route.HealthCheck.Timeout,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d%s", r.cfg.Server.Port, route.Path))
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Shutdown drains the request queue when one is configured.
func (r *Router) Shutdown(ctx context.Context) error {
	if r.queue == nil {
		return nil
	}
	return r.queue.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}
