package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/assettelematics/finbot/errors"
)

// timeoutWriter wraps http.ResponseWriter to track if a response has been written
type timeoutWriter struct {
	http.ResponseWriter
	written chan bool
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	n, err := tw.ResponseWriter.Write(b)
	if n > 0 {
		select {
		case tw.written <- true:
		default:
		}
	}
	return n, err
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.ResponseWriter.WriteHeader(code)
	select {
	case tw.written <- true:
	default:
	}
}

func (tw *timeoutWriter) hasWritten() bool {
	select {
	case <-tw.written:
		return true
	default:
		return false
	}
}

// Timeout middleware adds a timeout to the request context
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})

			tw := &timeoutWriter{
				ResponseWriter: w,
				written:        make(chan bool, 1),
			}

			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
				return
			case <-ctx.Done():
				if !tw.hasWritten() {
					errResp := errors.NewError(
						errors.InternalError,
						"Request timeout",
						http.StatusGatewayTimeout,
						GetRequestID(r.Context()),
						map[string]interface{}{
							"timeout": timeout.String(),
						},
						ctx.Err(),
					)

					errors.WriteError(tw, errResp)
				}
				cancel()
				return
			}
		})
	}
}
