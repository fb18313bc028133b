package errors

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorHandler wraps an http.Handler and recovers panics into a structured
// internal error response.
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					stack := debug.Stack()
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.ByteString("stacktrace", stack),
						zap.String("request_id", r.Header.Get("X-Request-ID")),
					)

					finbotErr := NewInternalError(r.Header.Get("X-Request-ID"), nil)
					WriteError(w, finbotErr)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// LogError logs an error with its context
func LogError(logger *zap.Logger, err error, requestID string) {
	if finbotErr, ok := err.(*FinbotError); ok {
		logger.Error("request error",
			zap.String("error_type", string(finbotErr.Type)),
			zap.String("message", finbotErr.Message),
			zap.Int("code", finbotErr.Code),
			zap.String("request_id", requestID),
			zap.Any("details", finbotErr.Details),
		)
	} else {
		logger.Error("unexpected error",
			zap.Error(err),
			zap.String("request_id", requestID),
		)
	}
}
