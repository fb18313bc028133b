package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/assettelematics/finbot/errors"
	"github.com/assettelematics/finbot/server/archive"
	"github.com/assettelematics/finbot/server/middleware"
)

// ConversationReader retrieves archived turns. Satisfied by
// archive.DynamoStore.
type ConversationReader interface {
	History(ctx context.Context, conversationID string, limit int) ([]archive.Turn, error)
}

// HistoryResponse is the body returned for a conversation lookup.
type HistoryResponse struct {
	ConversationID string         `json:"conversation_id"`
	Turns          []archive.Turn `json:"turns"`
}

// HistoryHandler serves archived conversation transcripts to operators.
type HistoryHandler struct {
	reader ConversationReader
	logger *zap.Logger
}

// NewHistoryHandler creates a new conversation history handler. A nil
// reader means archiving is disabled.
func NewHistoryHandler(reader ConversationReader, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{
		reader: reader,
		logger: logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	if h.reader == nil {
		errors.WriteError(w, errors.NewError(
			errors.UpstreamError,
			"Conversation archive is not configured",
			http.StatusServiceUnavailable,
			requestID,
			nil,
			nil,
		))
		return
	}

	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		errors.WriteError(w, errors.NewValidationError(
			requestID,
			"Missing conversation id",
			map[string]interface{}{"field": "id"},
		))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errors.WriteError(w, errors.NewValidationError(
				requestID,
				"limit must be a positive integer",
				map[string]interface{}{"limit": raw},
			))
			return
		}
		limit = n
	}

	turns, err := h.reader.History(r.Context(), conversationID, limit)
	if err != nil {
		errors.WriteError(w, errors.NewUpstreamError(
			requestID,
			"Conversation archive unavailable",
			err,
		))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := HistoryResponse{ConversationID: conversationID, Turns: turns}
	if resp.Turns == nil {
		resp.Turns = []archive.Turn{}
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode conversation history",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}
