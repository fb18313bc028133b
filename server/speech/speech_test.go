package speech

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/assettelematics/finbot/config"
)

type fakeAudioClient struct {
	transcription openai.AudioResponse
	transcribeErr error
	speech        string
	speechErr     error

	gotAudioReq  openai.AudioRequest
	gotSpeechReq openai.CreateSpeechRequest
}

func (f *fakeAudioClient) CreateTranscription(_ context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.gotAudioReq = req
	return f.transcription, f.transcribeErr
}

func (f *fakeAudioClient) CreateSpeech(_ context.Context, req openai.CreateSpeechRequest) (openai.RawResponse, error) {
	f.gotSpeechReq = req
	if f.speechErr != nil {
		return openai.RawResponse{}, f.speechErr
	}
	return openai.RawResponse{ReadCloser: io.NopCloser(strings.NewReader(f.speech))}, nil
}

func testConfig() config.SpeechConfig {
	return config.SpeechConfig{
		Enabled:            true,
		TranscriptionModel: "whisper-1",
		SynthesisModel:     "tts-1",
		Voice:              "alloy",
		MaxUploadBytes:     1 << 20,
		RequestTimeout:     5 * time.Second,
	}
}

func TestService_Transcribe(t *testing.T) {
	client := &fakeAudioClient{
		transcription: openai.AudioResponse{Text: "  I want to pay my balance  "},
	}
	svc := NewWithClient(testConfig(), client, zap.NewNop())

	got, err := svc.Transcribe(context.Background(), "upload.wav", strings.NewReader("fake-audio"))
	require.NoError(t, err)
	assert.Equal(t, "I want to pay my balance", got)
	assert.Equal(t, "whisper-1", client.gotAudioReq.Model)
	assert.Equal(t, "upload.wav", client.gotAudioReq.FilePath)
}

func TestService_TranscribeUnintelligible(t *testing.T) {
	client := &fakeAudioClient{
		transcription: openai.AudioResponse{Text: "   "},
	}
	svc := NewWithClient(testConfig(), client, zap.NewNop())

	_, err := svc.Transcribe(context.Background(), "upload.wav", strings.NewReader("noise"))
	assert.ErrorIs(t, err, ErrUnintelligible)
}

func TestService_TranscribeProviderDown(t *testing.T) {
	client := &fakeAudioClient{
		transcribeErr: errors.New("connection refused"),
	}
	svc := NewWithClient(testConfig(), client, zap.NewNop())

	_, err := svc.Transcribe(context.Background(), "upload.wav", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestService_Synthesize(t *testing.T) {
	client := &fakeAudioClient{speech: "RIFF-wav-bytes"}
	svc := NewWithClient(testConfig(), client, zap.NewNop())

	audio, format, err := svc.Synthesize(context.Background(), "Hello, I'm FinBot.")
	require.NoError(t, err)
	assert.Equal(t, "wav", format)
	assert.Equal(t, []byte("RIFF-wav-bytes"), audio)
	assert.Equal(t, openai.SpeechResponseFormatWav, client.gotSpeechReq.ResponseFormat)
	assert.Equal(t, openai.SpeechVoice("alloy"), client.gotSpeechReq.Voice)
}

func TestService_SynthesizeEmptyText(t *testing.T) {
	svc := NewWithClient(testConfig(), &fakeAudioClient{}, zap.NewNop())

	_, _, err := svc.Synthesize(context.Background(), "   ")
	assert.Error(t, err)
}

func TestService_SynthesizeProviderDown(t *testing.T) {
	client := &fakeAudioClient{speechErr: errors.New("timeout")}
	svc := NewWithClient(testConfig(), client, zap.NewNop())

	_, _, err := svc.Synthesize(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestNewWithClient_Defaults(t *testing.T) {
	svc := NewWithClient(config.SpeechConfig{}, &fakeAudioClient{}, zap.NewNop())
	assert.Equal(t, openai.Whisper1, svc.cfg.TranscriptionModel)
	assert.Equal(t, string(openai.TTSModel1), svc.cfg.SynthesisModel)
	assert.Equal(t, string(openai.VoiceAlloy), svc.cfg.Voice)
}
