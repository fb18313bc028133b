// Package handlers provides the HTTP handlers for the gateway.
//
// The package follows these design principles:
// 1. Consistent error handling using the errors package
// 2. Structured logging with request IDs
// 3. Clear separation between request parsing and processing
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/assettelematics/finbot/errors"
	"github.com/assettelematics/finbot/server/middleware"
	"github.com/assettelematics/finbot/server/processing"
)

// ChatProcessor executes one chat turn. Satisfied by processing.Processor.
type ChatProcessor interface {
	ProcessChat(ctx context.Context, req *processing.ChatRequest, requestID string) (*processing.ChatResponse, *errors.FinbotError)
}

// ChatHandler handles customer chat requests.
type ChatHandler struct {
	processor ChatProcessor
	logger    *zap.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(processor ChatProcessor, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		processor: processor,
		logger:    logger,
	}
}

// ServeHTTP implements http.Handler. The request body has already passed
// schema validation by the time it reaches this handler; decode failures
// here mean the validation middleware was not wired in front of it.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		errors.WriteError(w, errors.NewValidationError(
			requestID,
			"Method not allowed",
			map[string]interface{}{
				"method":          r.Method,
				"allowed_methods": []string{"POST"},
			},
		))
		return
	}

	logger := h.logger.With(
		zap.String("request_id", requestID),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	)

	var req processing.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, errors.NewValidationError(
			requestID,
			"Invalid chat request format",
			map[string]interface{}{"error": err.Error()},
		))
		return
	}

	logger.Info("Processing chat request",
		zap.String("customer_id", req.CustomerID),
		zap.String("conversation_id", req.ConversationID),
		zap.Int("history_turns", len(req.History)),
	)

	resp, ferr := h.processor.ProcessChat(r.Context(), &req, requestID)
	if ferr != nil {
		logger.Warn("Chat request failed",
			zap.String("error_type", string(ferr.Type)),
			zap.Int("status", ferr.Code),
		)
		errors.WriteError(w, ferr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("Failed to encode chat response", zap.Error(err))
	}
}
