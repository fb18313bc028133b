// Package validation rejects malformed chat requests before they reach
// the processing pipeline: schema validation via struct tags and a token
// budget check against the configured context window.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/assettelematics/finbot/config"
	"github.com/assettelematics/finbot/errors"
	"github.com/assettelematics/finbot/server/middleware"
	"github.com/assettelematics/finbot/server/processing"
)

// ValidationErrorDetail describes one failed validation rule.
type ValidationErrorDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Value   string `json:"value,omitempty"`
}

// Validator validates chat request bodies.
type Validator struct {
	validate         *validator.Validate
	counter          *TokenCounter
	maxContextTokens int
}

// New creates a Validator for the configured primary model.
func New(cfg *config.Config) (*Validator, error) {
	v := validator.New()

	// Report json field names, not Go struct fields
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("json")
	})

	counter, err := NewTokenCounter(cfg.LLM.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token counter: %v", err)
	}

	return &Validator{
		validate:         v,
		counter:          counter,
		maxContextTokens: cfg.LLM.MaxContextTokens,
	}, nil
}

// ValidateChat validates chat request bodies. The decoded body is
// replaced on the request so the handler can decode it again.
func (v *Validator) ValidateChat(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetRequestID(r.Context())

		sendError := func(message string, details []ValidationErrorDetail, code int) {
			errResp := errors.NewError(
				errors.ValidationError,
				message,
				code,
				requestID,
				map[string]interface{}{"validation_errors": details},
				nil,
			)
			errors.WriteError(w, errResp)
		}

		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			sendError(
				"Invalid or missing Content-Type header",
				[]ValidationErrorDetail{{
					Field:   "header:Content-Type",
					Message: "Content-Type must be application/json",
					Code:    "invalid_content_type",
					Value:   r.Header.Get("Content-Type"),
				}},
				http.StatusBadRequest,
			)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			sendError(
				"Failed to read request body",
				nil,
				http.StatusBadRequest,
			)
			return
		}

		var req processing.ChatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			sendError(
				"Invalid request format",
				[]ValidationErrorDetail{{
					Field:   "body",
					Message: err.Error(),
					Code:    "invalid_json",
				}},
				http.StatusBadRequest,
			)
			return
		}

		if err := v.validate.Struct(req); err != nil {
			var details []ValidationErrorDetail
			for _, verr := range err.(validator.ValidationErrors) {
				details = append(details, ValidationErrorDetail{
					Field:   verr.Field(),
					Message: fmt.Sprintf("field '%s' failed the '%s' rule", verr.Field(), verr.Tag()),
					Code:    fmt.Sprintf("%s_validation_failed", verr.Tag()),
					Value:   fmt.Sprintf("%v", verr.Value()),
				})
			}

			sendError("Request validation failed", details, http.StatusBadRequest)
			return
		}

		if err := v.counter.ValidateTokens(&req, v.maxContextTokens); err != nil {
			sendError(
				"Token limit exceeded",
				[]ValidationErrorDetail{{
					Field:   "history",
					Message: err.Error(),
					Code:    "token_limit_exceeded",
					Value:   fmt.Sprintf("%d", v.maxContextTokens),
				}},
				http.StatusBadRequest,
			)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
