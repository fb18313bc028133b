package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/assettelematics/finbot/errors"
	"github.com/assettelematics/finbot/server/metrics"
)

const (
	rateLimitBurst  = 10
	rateLimitWindow = time.Minute
)

type rateLimiters struct {
	visitors map[string]*rate.Limiter
	mu       sync.Mutex
}

var limiters = &rateLimiters{
	visitors: make(map[string]*rate.Limiter),
}

func (l *rateLimiters) GetOrCreate(ip string, create func() *rate.Limiter) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.visitors[ip]
	if !exists {
		limiter = create()
		l.visitors[ip] = limiter
	}

	return limiter
}

// RateLimit implements per-IP rate limiting. Each client gets a token
// bucket of rateLimitBurst requests refilling over rateLimitWindow.
func RateLimit(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if idx := strings.LastIndex(ip, ":"); idx != -1 {
				ip = ip[:idx] // Strip port number if present
			}

			limiter := limiters.GetOrCreate(ip, func() *rate.Limiter {
				return rate.NewLimiter(rate.Every(rateLimitWindow/rateLimitBurst), rateLimitBurst)
			})

			if !limiter.Allow() {
				if m != nil {
					m.RateLimitHits.WithLabelValues(ip).Inc()
				}

				retryAfter := int(rateLimitWindow.Seconds() / rateLimitBurst)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				errors.WriteError(w, errors.NewRateLimitError(GetRequestID(r.Context()), retryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ResetRateLimiters resets all rate limiters. Only used for testing.
func ResetRateLimiters() {
	limiters.mu.Lock()
	defer limiters.mu.Unlock()
	limiters.visitors = make(map[string]*rate.Limiter)
}
