package processing

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/assettelematics/finbot/config"
	finboterrors "github.com/assettelematics/finbot/errors"
	"github.com/assettelematics/finbot/server/analysis"
	"github.com/assettelematics/finbot/server/archive"
	"github.com/assettelematics/finbot/server/customer"
	"github.com/assettelematics/finbot/server/metrics"
	"github.com/assettelematics/finbot/server/prompt"
	"github.com/assettelematics/finbot/server/provider"
	"github.com/assettelematics/finbot/server/transcript"
)

type fakeGenerator struct {
	reply string
	err   error
	got   []transcript.Message
}

func (f *fakeGenerator) Generate(_ context.Context, msgs []transcript.Message) (string, error) {
	f.got = msgs
	return f.reply, f.err
}

type fakeSynth struct {
	audio []byte
	err   error
	calls int
}

func (f *fakeSynth) Synthesize(context.Context, string) ([]byte, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.audio, "wav", nil
}

type recordingStore struct {
	mu    sync.Mutex
	turns []archive.Turn
	err   error
	done  chan struct{}
}

func newRecordingStore(err error) *recordingStore {
	return &recordingStore{err: err, done: make(chan struct{}, 1)}
}

func (s *recordingStore) Append(_ context.Context, turn archive.Turn) error {
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
	select {
	case s.done <- struct{}{}:
	default:
	}
	return s.err
}

func (s *recordingStore) wait(t *testing.T) archive.Turn {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("archive write never happened")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.turns)
	return s.turns[len(s.turns)-1]
}

func testProcessor(t *testing.T, gen Generator, synth Synthesizer, store archive.Store, mutate func(*config.Config)) *Processor {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Archive.Enabled = store != nil
	if mutate != nil {
		mutate(cfg)
	}

	prompts, err := prompt.NewBuilder(cfg.Company, "")
	require.NoError(t, err)

	return NewProcessor(cfg, customer.NewDirectory(), prompts, analysis.NewLexicon(), gen, synth, store, zap.NewNop())
}

func TestProcessChat_Success(t *testing.T) {
	gen := &fakeGenerator{reply: "Your balance is $1250.75."}
	p := testProcessor(t, gen, nil, nil, nil)

	resp, ferr := p.ProcessChat(context.Background(), &ChatRequest{
		CustomerID: "CUST001",
		Message:    "What do I owe?",
	}, "req_1")
	require.Nil(t, ferr)

	assert.Equal(t, "Your balance is $1250.75.", resp.Response)
	assert.Equal(t, "req_1", resp.RequestID)
	assert.Empty(t, resp.AudioBase64)

	// The transcript sent upstream starts with the merged context+message
	// turn and ends on an outward user turn.
	require.NotEmpty(t, gen.got)
	first := gen.got[0]
	assert.Equal(t, transcript.RoleUser, first.Role)
	assert.Contains(t, first.Content, "Alice Wonderland")
	assert.Contains(t, first.Content, "What do I owe?")
	assert.Equal(t, transcript.RoleUser, gen.got[len(gen.got)-1].Role)
}

func TestProcessChat_UnknownCustomer(t *testing.T) {
	p := testProcessor(t, &fakeGenerator{reply: "x"}, nil, nil, nil)

	_, ferr := p.ProcessChat(context.Background(), &ChatRequest{
		CustomerID: "CUST999",
		Message:    "hello",
	}, "req_1")
	require.NotNil(t, ferr)
	assert.Equal(t, finboterrors.NotFoundError, ferr.Type)
	assert.Equal(t, http.StatusNotFound, ferr.Code)
}

func TestProcessChat_EmptyMessage(t *testing.T) {
	p := testProcessor(t, &fakeGenerator{reply: "x"}, nil, nil, nil)

	_, ferr := p.ProcessChat(context.Background(), &ChatRequest{
		CustomerID: "CUST001",
		Message:    "   ",
	}, "req_1")
	require.NotNil(t, ferr)
	assert.Equal(t, finboterrors.ValidationError, ferr.Type)
}

func TestProcessChat_ContentBlocked(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("wrapped: %w", provider.ErrContentBlocked)}
	p := testProcessor(t, gen, nil, nil, nil)

	_, ferr := p.ProcessChat(context.Background(), &ChatRequest{
		CustomerID: "CUST001",
		Message:    "hello",
	}, "req_1")
	require.NotNil(t, ferr)
	assert.Equal(t, finboterrors.ContentBlockedError, ferr.Type)
	assert.Equal(t, http.StatusUnprocessableEntity, ferr.Code)
}

func TestProcessChat_UpstreamFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("connection refused")}
	p := testProcessor(t, gen, nil, nil, nil)

	_, ferr := p.ProcessChat(context.Background(), &ChatRequest{
		CustomerID: "CUST001",
		Message:    "hello",
	}, "req_1")
	require.NotNil(t, ferr)
	assert.Equal(t, finboterrors.UpstreamError, ferr.Type)
	assert.Equal(t, http.StatusBadGateway, ferr.Code)
}

func TestProcessChat_AudioAttached(t *testing.T) {
	synth := &fakeSynth{audio: []byte("wav-bytes")}
	p := testProcessor(t, &fakeGenerator{reply: "Hello Alice."}, synth, nil, nil)

	resp, ferr := p.ProcessChat(context.Background(), &ChatRequest{
		CustomerID: "CUST001",
		Message:    "hi",
	}, "req_1")
	require.Nil(t, ferr)

	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("wav-bytes")), resp.AudioBase64)
	assert.Equal(t, "wav", resp.AudioFormat)
}

func TestProcessChat_SynthesisFailureIsNotFatal(t *testing.T) {
	synth := &fakeSynth{err: errors.New("tts down")}
	p := testProcessor(t, &fakeGenerator{reply: "Hello."}, synth, nil, nil)

	resp, ferr := p.ProcessChat(context.Background(), &ChatRequest{
		CustomerID: "CUST001",
		Message:    "hi",
	}, "req_1")
	require.Nil(t, ferr)

	assert.Equal(t, "Hello.", resp.Response)
	assert.Empty(t, resp.AudioBase64)
	assert.Equal(t, 1, synth.calls)
}

func TestProcessChat_ArchivesInBackground(t *testing.T) {
	store := newRecordingStore(nil)
	p := testProcessor(t, &fakeGenerator{reply: "Noted."}, nil, store, nil)

	resp, ferr := p.ProcessChat(context.Background(), &ChatRequest{
		CustomerID:     "CUST003",
		ConversationID: "conv-42",
		Message:        "I can pay next friday",
	}, "req_9")
	require.Nil(t, ferr)
	assert.Equal(t, "Noted.", resp.Response)

	turn := store.wait(t)
	assert.Equal(t, "conv-42", turn.ConversationID)
	assert.Equal(t, "CUST003", turn.CustomerID)
	assert.Equal(t, "req_9", turn.RequestID)
	assert.Equal(t, "I can pay next friday", turn.UserMessage)
	assert.Equal(t, "Noted.", turn.AgentReply)
}

func TestProcessChat_ArchiveFailureIsNotFatal(t *testing.T) {
	store := newRecordingStore(errors.New("dynamodb down"))
	p := testProcessor(t, &fakeGenerator{reply: "ok"}, nil, store, nil)

	resp, ferr := p.ProcessChat(context.Background(), &ChatRequest{
		CustomerID: "CUST001",
		Message:    "hi",
	}, "req_1")
	require.Nil(t, ferr)
	assert.Equal(t, "ok", resp.Response)
	store.wait(t)
}

func TestProcessChat_StaleContextDropReported(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	p := testProcessor(t, gen, nil, nil, func(cfg *config.Config) {
		// Analysis hints vary the rendered context, so pin them off to
		// reproduce the exact prompt a previous request built.
		cfg.Analysis.Enabled = false
	})

	rec, err := customer.NewDirectory().Lookup("CUST002")
	require.NoError(t, err)
	prompts, err := prompt.NewBuilder(config.DefaultConfig().Company, "")
	require.NoError(t, err)
	contextText, err := prompts.Context(rec, prompt.Hints{})
	require.NoError(t, err)

	resp, ferr := p.ProcessChat(context.Background(), &ChatRequest{
		CustomerID: "CUST002",
		Message:    "thanks",
		History: []transcript.ClientTurn{
			{Role: "user", Text: contextText},
			{Role: "agent", Text: "Hello Bob."},
		},
	}, "req_1")
	require.Nil(t, ferr)

	require.Len(t, resp.DroppedHistory, 1)
	assert.Equal(t, 0, resp.DroppedHistory[0].Index)
	assert.Contains(t, resp.DroppedHistory[0].Reason, "stale context")
}

func TestProcessChat_ResponseFormatting(t *testing.T) {
	p := testProcessor(t, &fakeGenerator{reply: "  padded reply  "}, nil, nil, func(cfg *config.Config) {
		cfg.Processing.ResponseFormatting.TrimWhitespace = true
		cfg.Processing.ResponseFormatting.MaxLength = 6
	})

	resp, ferr := p.ProcessChat(context.Background(), &ChatRequest{
		CustomerID: "CUST001",
		Message:    "hi",
	}, "req_1")
	require.Nil(t, ferr)
	assert.Equal(t, "padded", resp.Response)
}

func TestProcessChat_DropAccounting(t *testing.T) {
	p := testProcessor(t, &fakeGenerator{reply: "ok"}, nil, nil, nil)
	m := metrics.NewMetrics()
	p.SetMetrics(m)

	resp, ferr := p.ProcessChat(context.Background(), &ChatRequest{
		CustomerID: "CUST001",
		Message:    "hi",
		History: []transcript.ClientTurn{
			{Role: "narrator", Text: "once upon a time"},
			{Role: "agent", Text: "   "},
		},
	}, "req_1")
	require.Nil(t, ferr)
	require.Len(t, resp.DroppedHistory, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedTurns.WithLabelValues("unrecognized_role")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedTurns.WithLabelValues("empty_content")))
}
