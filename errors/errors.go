// Package errors provides the structured error handling system for the
// finbot gateway. It includes typed error values, JSON response formatting,
// request ID tracking, and integrated logging with Uber's zap logger.
//
// The package is used throughout the finbot codebase to keep error reporting
// consistent across handlers and the processing pipeline:
//
//	// Simple error response
//	errors.Error(w, "Something went wrong", http.StatusBadRequest)
//
//	// Type-specific error with context
//	errors.ErrorWithType(w, "Invalid input", errors.ValidationError, http.StatusBadRequest)
//
// For more complex scenarios, use the error constructors in types.go:
//
//	err := errors.NewValidationError(requestID, "Invalid input", map[string]interface{}{
//	    "field": "message",
//	    "error": "required",
//	})
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the default zap logger instance used throughout the
// package. It is initialized to a production configuration but can be
// overridden using SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger allows setting a custom zap logger instance.
// Passing nil does nothing, so logging can never be accidentally disabled.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType categorizes the errors that can occur in the finbot system.
// Each type maps to a specific failure scenario and HTTP status range.
type ErrorType string

const (
	// ValidationError represents bad or missing caller input
	ValidationError ErrorType = "validation_error"

	// NotFoundError represents an unknown customer or resource
	NotFoundError ErrorType = "not_found"

	// InternalError represents unexpected internal defects, including
	// transcript invariant violations
	InternalError ErrorType = "internal_error"

	// UpstreamError represents a transient completion/speech provider
	// failure that is safe for the caller to retry
	UpstreamError ErrorType = "upstream_unavailable"

	// ContentBlockedError represents a provider safety filter rejection.
	// It is surfaced distinctly and must never be retried or substituted.
	ContentBlockedError ErrorType = "content_blocked"

	// RateLimitError represents rate limiting rejections
	RateLimitError ErrorType = "rate_limit_error"

	// AuthenticationError represents API key authentication failures
	AuthenticationError ErrorType = "api_key_error"

	// ConfigError represents configuration-related errors
	ConfigError ErrorType = "config_error"
)

// FinbotError is the custom error type used across the gateway. It
// implements the error interface and serializes to JSON for API responses
// while keeping the underlying cause for logging.
type FinbotError struct {
	// Type categorizes the error for client handling
	Type ErrorType `json:"type"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Code is the HTTP status code (not exposed in JSON)
	Code int `json:"-"`

	// RequestID links the error to a specific request
	RequestID string `json:"request_id"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	// err is the underlying error (not exposed in JSON)
	err error
}

// Error implements the error interface. It combines the error type,
// message, and underlying error (if any).
func (e *FinbotError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, implementing the unwrap
// interface for error chains.
func (e *FinbotError) Unwrap() error {
	return e.err
}

// Is implements error matching for errors.Is, matching on Type while
// ignoring other fields.
func (e *FinbotError) Is(target error) bool {
	t, ok := target.(*FinbotError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WriteError formats and writes a FinbotError to an http.ResponseWriter.
// It sets the appropriate content type and status code, then writes
// the error as a JSON response.
func WriteError(w http.ResponseWriter, err *FinbotError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	if encErr := json.NewEncoder(w).Encode(err); encErr != nil {
		DefaultLogger.Error("failed to encode error response", zap.Error(encErr))
	}
}

// Error is a drop-in replacement for http.Error that creates and writes
// a FinbotError with the InternalError type. It automatically includes
// the request ID from the response headers if available.
func Error(w http.ResponseWriter, message string, code int) {
	requestID := w.Header().Get("X-Request-ID")
	err := &FinbotError{
		Type:      InternalError,
		Message:   message,
		Code:      code,
		RequestID: requestID,
	}
	WriteError(w, err)
}

// ErrorWithType is like Error but allows specifying the error type,
// keeping the simple interface of http.Error while indicating the
// error category to the client.
func ErrorWithType(w http.ResponseWriter, message string, errType ErrorType, code int) {
	requestID := w.Header().Get("X-Request-ID")
	err := &FinbotError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
	}
	WriteError(w, err)
}
