package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/assettelematics/finbot/errors"
)

// Authentication validates the X-API-Key header against the configured keys.
// With no keys configured, any non-empty key is accepted. Intended for
// operator-facing routes; the chat surface is public like the rest of the
// customer portal.
func Authentication(keys ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				errors.ErrorWithType(w, "Missing API key", errors.AuthenticationError, http.StatusUnauthorized)
				return
			}

			if len(keys) > 0 && !keyAllowed(apiKey, keys) {
				errors.ErrorWithType(w, "Invalid API key", errors.AuthenticationError, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func keyAllowed(apiKey string, keys []string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(k)) == 1 {
			return true
		}
	}
	return false
}
