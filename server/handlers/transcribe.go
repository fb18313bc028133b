package handlers

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/assettelematics/finbot/config"
	"github.com/assettelematics/finbot/errors"
	"github.com/assettelematics/finbot/server/middleware"
	"github.com/assettelematics/finbot/server/speech"
)

// audioFieldName is the multipart form field carrying the recording.
const audioFieldName = "audio_data"

// Transcriber converts audio to text. Satisfied by speech.Service.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// TranscribeResponse is the body returned for successful transcriptions.
type TranscribeResponse struct {
	Transcript string `json:"transcript"`
}

// TranscribeHandler accepts multipart audio uploads and returns the
// recognized text.
type TranscribeHandler struct {
	transcriber Transcriber
	cfg         config.SpeechConfig
	logger      *zap.Logger
}

// NewTranscribeHandler creates a new transcription handler.
func NewTranscribeHandler(transcriber Transcriber, cfg config.SpeechConfig, logger *zap.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		transcriber: transcriber,
		cfg:         cfg,
		logger:      logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *TranscribeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	if !h.cfg.Enabled || h.transcriber == nil {
		errors.WriteError(w, errors.NewError(
			errors.UpstreamError,
			"Speech recognition is not configured",
			http.StatusServiceUnavailable,
			requestID,
			nil,
			nil,
		))
		return
	}

	maxBytes := h.cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if goerrors.As(err, &maxBytesErr) {
			errors.WriteError(w, errors.NewValidationError(
				requestID,
				"Audio upload too large",
				map[string]interface{}{"max_bytes": maxBytes},
			))
			return
		}
		errors.WriteError(w, errors.NewValidationError(
			requestID,
			"Request must be multipart/form-data",
			map[string]interface{}{"error": err.Error()},
		))
		return
	}

	file, header, err := r.FormFile(audioFieldName)
	if err != nil {
		errors.WriteError(w, errors.NewValidationError(
			requestID,
			"No audio file provided",
			map[string]interface{}{"field": audioFieldName},
		))
		return
	}
	defer file.Close()

	h.logger.Info("Transcribing audio upload",
		zap.String("request_id", requestID),
		zap.String("filename", header.Filename),
		zap.Int64("size", header.Size),
	)

	text, err := h.transcriber.Transcribe(r.Context(), header.Filename, file)
	if err != nil {
		switch {
		case goerrors.Is(err, speech.ErrUnintelligible):
			errors.WriteError(w, errors.NewValidationError(
				requestID,
				"Audio could not be transcribed",
				map[string]interface{}{"field": audioFieldName},
			))
		default:
			errors.WriteError(w, errors.NewUpstreamError(
				requestID,
				"Speech recognition unavailable",
				err,
			))
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(TranscribeResponse{Transcript: text}); err != nil {
		h.logger.Error("Failed to encode transcription response",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}
