// Package processing implements the chat pipeline: customer lookup,
// message analysis, context prompt rendering, transcript normalization,
// completion, response formatting, optional speech synthesis, and
// background archiving.
package processing

import (
	"github.com/assettelematics/finbot/server/transcript"
)

// ChatRequest is an incoming chat turn. History is the client's view of
// the conversation so far; it is reconciled server-side and is never
// trusted as-is.
type ChatRequest struct {
	CustomerID     string                  `json:"customerId" validate:"required"`
	Message        string                  `json:"message" validate:"required"`
	ConversationID string                  `json:"conversation_id,omitempty"`
	History        []transcript.ClientTurn `json:"history,omitempty"`
}

// ChatResponse is the completed turn returned to the client.
type ChatResponse struct {
	// Response is the agent's reply text
	Response string `json:"response"`

	// RequestID echoes the request correlation id
	RequestID string `json:"request_id"`

	// AudioBase64 is the reply rendered as speech, when synthesis is
	// enabled and succeeded. Absence is not an error.
	AudioBase64 string `json:"audio_base64,omitempty"`

	// AudioFormat names the audio container, e.g. "wav"
	AudioFormat string `json:"audio_format,omitempty"`

	// DroppedHistory reports client history entries that were removed or
	// folded during normalization
	DroppedHistory []transcript.Drop `json:"dropped_history,omitempty"`
}
