package processing

import (
	"context"
	"encoding/base64"
	goerrors "errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/assettelematics/finbot/config"
	"github.com/assettelematics/finbot/errors"
	"github.com/assettelematics/finbot/server/analysis"
	"github.com/assettelematics/finbot/server/archive"
	"github.com/assettelematics/finbot/server/customer"
	"github.com/assettelematics/finbot/server/metrics"
	"github.com/assettelematics/finbot/server/prompt"
	"github.com/assettelematics/finbot/server/provider"
	"github.com/assettelematics/finbot/server/transcript"
)

// Generator produces the agent's reply for a normalized transcript.
// Satisfied by provider.Manager.
type Generator interface {
	Generate(ctx context.Context, msgs []transcript.Message) (string, error)
}

// Synthesizer renders reply text as audio. Satisfied by speech.Service.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, string, error)
}

// Processor executes chat turns. All dependencies are injected; a nil
// Synthesizer disables audio, a nil Analyzer disables hints.
type Processor struct {
	cfg       *config.Config
	directory *customer.Directory
	prompts   *prompt.Builder
	analyzer  analysis.Analyzer
	generator Generator
	synth     Synthesizer
	store     archive.Store
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewProcessor creates the chat pipeline.
func NewProcessor(
	cfg *config.Config,
	directory *customer.Directory,
	prompts *prompt.Builder,
	analyzer analysis.Analyzer,
	generator Generator,
	synth Synthesizer,
	store archive.Store,
	logger *zap.Logger,
) *Processor {
	if store == nil {
		store = archive.NopStore{}
	}

	return &Processor{
		cfg:       cfg,
		directory: directory,
		prompts:   prompts,
		analyzer:  analyzer,
		generator: generator,
		synth:     synth,
		store:     store,
		logger:    logger,
	}
}

// SetMetrics attaches gateway metrics. Drop accounting is skipped when unset.
func (p *Processor) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// ProcessChat runs one chat turn end to end. Errors are returned as
// *errors.FinbotError carrying the HTTP mapping for the handler.
func (p *Processor) ProcessChat(ctx context.Context, req *ChatRequest, requestID string) (*ChatResponse, *errors.FinbotError) {
	rec, err := p.directory.Lookup(req.CustomerID)
	if err != nil {
		return nil, errors.NewNotFoundError(requestID, "Unknown customer id: "+req.CustomerID)
	}

	hints := p.analyzeMessage(ctx, req)

	contextText, err := p.prompts.Context(rec, hints)
	if err != nil {
		errors.LogError(p.logger, err, requestID)
		return nil, errors.NewInternalError(requestID, err)
	}

	tr, drops, err := transcript.Normalize(contextText, req.History, req.Message)
	if err != nil {
		switch {
		case goerrors.Is(err, transcript.ErrEmptyMessage):
			return nil, errors.NewValidationError(requestID, "Message must not be empty", map[string]interface{}{
				"field": "message",
			})
		default:
			// Empty context and a non-user-terminated transcript are both
			// server-side consistency defects.
			errors.LogError(p.logger, err, requestID)
			return nil, errors.NewInternalError(requestID, err)
		}
	}

	if len(drops) > 0 {
		p.logger.Info("History entries dropped during normalization",
			zap.String("request_id", requestID),
			zap.String("customer_id", req.CustomerID),
			zap.Int("dropped", len(drops)),
			zap.Any("drops", drops),
		)
		if p.metrics != nil {
			for _, d := range drops {
				p.metrics.DroppedTurns.WithLabelValues(dropReasonLabel(d.Reason)).Inc()
			}
		}
	}

	reply, err := p.generator.Generate(ctx, tr.Messages())
	if err != nil {
		if goerrors.Is(err, provider.ErrContentBlocked) {
			return nil, errors.NewContentBlockedError(requestID, err)
		}
		return nil, errors.NewUpstreamError(requestID, "Completion provider unavailable", err)
	}

	reply = p.formatReply(reply)

	resp := &ChatResponse{
		Response:       reply,
		RequestID:      requestID,
		DroppedHistory: drops,
	}

	p.attachAudio(ctx, resp, requestID)
	p.archiveTurn(req, rec, reply, hints, drops, requestID)

	return resp, nil
}

// analyzeMessage extracts advisory hints. Failures degrade to no hints.
func (p *Processor) analyzeMessage(ctx context.Context, req *ChatRequest) prompt.Hints {
	if p.analyzer == nil || !p.cfg.Analysis.Enabled {
		return prompt.Hints{}
	}

	res, err := p.analyzer.Analyze(ctx, req.Message)
	if err != nil {
		p.logger.Debug("Message analysis failed", zap.Error(err))
		return prompt.Hints{}
	}

	p.directory.AppendSentiment(req.CustomerID, res.Sentiment)

	return prompt.Hints{
		Sentiment: res.Sentiment,
		Amounts:   res.Amounts,
		Dates:     res.Dates,
	}
}

// attachAudio renders the reply as speech. Synthesis failure leaves the
// response text-only.
func (p *Processor) attachAudio(ctx context.Context, resp *ChatResponse, requestID string) {
	if p.synth == nil || !p.cfg.Speech.Enabled {
		return
	}

	audio, format, err := p.synth.Synthesize(ctx, resp.Response)
	if err != nil {
		p.logger.Warn("Speech synthesis failed, returning text only",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return
	}

	resp.AudioBase64 = base64.StdEncoding.EncodeToString(audio)
	resp.AudioFormat = format
}

// archiveTurn persists the completed turn in the background. The write
// has its own deadline and its failure is only logged.
func (p *Processor) archiveTurn(req *ChatRequest, rec customer.Record, reply string, hints prompt.Hints, drops []transcript.Drop, requestID string) {
	if !p.cfg.Archive.Enabled {
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = rec.ID
	}

	turn := archive.Turn{
		ConversationID: conversationID,
		CustomerID:     rec.ID,
		RequestID:      requestID,
		UserMessage:    req.Message,
		AgentReply:     reply,
		Sentiment:      hints.Sentiment,
		DroppedTurns:   len(drops),
		Timestamp:      time.Now(),
	}

	timeout := p.cfg.Archive.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := p.store.Append(ctx, turn); err != nil {
			p.logger.Warn("Conversation archive write failed",
				zap.String("request_id", requestID),
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}()
}

// dropReasonLabel collapses free-form drop reasons into a bounded label set.
func dropReasonLabel(reason string) string {
	switch {
	case strings.HasPrefix(reason, "unrecognized role"):
		return "unrecognized_role"
	case reason == "empty content":
		return "empty_content"
	case strings.HasPrefix(reason, "stale context"):
		return "stale_context"
	case strings.HasPrefix(reason, "merged into"):
		return "merged"
	default:
		return "other"
	}
}

// formatReply applies the configured response formatting.
func (p *Processor) formatReply(reply string) string {
	f := p.cfg.Processing.ResponseFormatting
	if f.TrimWhitespace {
		reply = strings.TrimSpace(reply)
	}
	if f.MaxLength > 0 && len(reply) > f.MaxLength {
		reply = reply[:f.MaxLength]
	}
	return reply
}
