package errors

import (
	"net/http"
)

// NewError creates a new FinbotError with the given parameters.
// It is a general-purpose constructor that allows full control over the
// error's fields. For most cases, use one of the specialized constructors
// below.
//
// Example:
//
//	err := NewError(InternalError, "archive write failed", 500, "req_123", nil, dbErr)
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *FinbotError {
	return &FinbotError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewValidationError creates a validation error with appropriate defaults.
// Use this for any request validation failure, such as:
//   - Missing message or customer id
//   - Malformed history payloads
//   - Value constraint violations
//
// Example:
//
//	err := NewValidationError("req_123", "Missing message", map[string]interface{}{
//	    "field": "message",
//	    "error": "must not be empty",
//	})
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *FinbotError {
	return &FinbotError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

// NewNotFoundError creates a not-found error. Used when a caller supplies
// a customer id that does not exist in the directory.
func NewNotFoundError(requestID, message string) *FinbotError {
	return &FinbotError{
		Type:      NotFoundError,
		Message:   message,
		Code:      http.StatusNotFound,
		RequestID: requestID,
	}
}

// NewUpstreamError creates an upstream error with appropriate defaults.
// Use this when the completion or speech provider fails transiently.
// The caller may retry; the gateway itself never does.
//
// Example:
//
//	err := NewUpstreamError("req_123", "Completion provider unavailable", providerErr)
func NewUpstreamError(requestID string, message string, err error) *FinbotError {
	return &FinbotError{
		Type:      UpstreamError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewContentBlockedError creates a content-blocked error. The provider's
// safety filter rejected the request; this is surfaced distinctly and
// must never be retried or silently substituted.
func NewContentBlockedError(requestID string, err error) *FinbotError {
	return &FinbotError{
		Type:      ContentBlockedError,
		Message:   "The provider declined to answer this request",
		Code:      http.StatusUnprocessableEntity,
		RequestID: requestID,
		err:       err,
	}
}

// NewRateLimitError creates a rate limit error with appropriate defaults.
//
// Example:
//
//	err := NewRateLimitError("req_123", 30)
func NewRateLimitError(requestID string, retryAfter int) *FinbotError {
	return &FinbotError{
		Type:      RateLimitError,
		Message:   "Rate limit exceeded",
		Code:      http.StatusTooManyRequests,
		RequestID: requestID,
		Details: map[string]interface{}{
			"retry_after": retryAfter,
		},
	}
}

// NewAuthError creates an authentication error with appropriate defaults.
// Use this for missing or invalid API keys.
func NewAuthError(requestID, message string, err error) *FinbotError {
	return &FinbotError{
		Type:      AuthenticationError,
		Message:   message,
		Code:      http.StatusUnauthorized,
		RequestID: requestID,
		err:       err,
		Details: map[string]interface{}{
			"suggestion": "Please check your authentication credentials",
		},
	}
}

// NewInternalError creates an internal server error with appropriate
// defaults. Use this for defects that must never occur given valid inputs:
//   - Panics
//   - Transcript invariant violations
//   - Unexpected system failures
//
// Example:
//
//	err := NewInternalError("req_123", consistencyErr)
func NewInternalError(requestID string, err error) *FinbotError {
	return &FinbotError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}
