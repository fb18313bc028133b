// Package speech provides speech-to-text and text-to-speech through an
// OpenAI-compatible audio API.
//
// Transcription failures are classified for the HTTP surface: audio the
// model cannot make out is a client problem, an unreachable provider is
// not. Synthesis is best-effort; callers treat a missing audio payload as
// a degraded but successful response.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/assettelematics/finbot/config"
)

var (
	// ErrUnintelligible indicates the audio decoded but produced no
	// usable text.
	ErrUnintelligible = errors.New("speech: could not understand audio")

	// ErrServiceUnavailable indicates the speech provider could not be
	// reached or rejected the call.
	ErrServiceUnavailable = errors.New("speech: service unavailable")
)

// audioAPI is the slice of the OpenAI client the service uses.
type audioAPI interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// Service performs transcription and synthesis calls.
type Service struct {
	client audioAPI
	cfg    config.SpeechConfig
	logger *zap.Logger
}

// New creates a speech service backed by the configured provider.
func New(cfg config.SpeechConfig, logger *zap.Logger) *Service {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}

	return NewWithClient(cfg, openai.NewClientWithConfig(clientCfg), logger)
}

// NewWithClient creates a speech service with an injected client (for
// tests).
func NewWithClient(cfg config.SpeechConfig, client audioAPI, logger *zap.Logger) *Service {
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = openai.Whisper1
	}
	if cfg.SynthesisModel == "" {
		cfg.SynthesisModel = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}

	return &Service{client: client, cfg: cfg, logger: logger}
}

// Transcribe converts uploaded audio to text. The filename carries the
// container format hint for the provider.
func (s *Service) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.cfg.TranscriptionModel,
		FilePath: filename,
		Reader:   audio,
	})
	if err != nil {
		s.logger.Warn("Transcription request failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrUnintelligible
	}
	return text, nil
}

// Synthesize renders text as WAV audio. The returned format string names
// the container for the client ("wav").
func (s *Service) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("speech: nothing to synthesize")
	}

	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.SynthesisModel),
		Input:          text,
		Voice:          openai.SpeechVoice(s.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		s.logger.Warn("Synthesis request failed", zap.Error(err))
		return nil, "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read audio stream: %v", ErrServiceUnavailable, err)
	}

	return audio, "wav", nil
}
