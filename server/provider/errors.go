package provider

import (
	"errors"
	"strings"
)

var (
	// ErrNoHealthyProvider indicates that no healthy provider is available
	ErrNoHealthyProvider = errors.New("no healthy provider available")

	// ErrContentBlocked indicates the provider's safety filter declined to
	// answer. This is a deliberate upstream decision: it is surfaced to the
	// caller unchanged, never retried against another provider, and never
	// counted as a provider failure.
	ErrContentBlocked = errors.New("provider declined to answer")
)

// Markers found in safety-refusal errors across provider SDKs.
var blockedMarkers = []string{
	"content_filter",
	"content filter",
	"content policy",
	"content management policy",
	"safety",
	"blocked",
	"refused to respond",
}

// IsContentBlocked reports whether err represents a safety refusal rather
// than a transient provider failure.
func IsContentBlocked(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContentBlocked) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range blockedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
