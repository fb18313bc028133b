package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/teilomillet/gollm"
	"go.uber.org/zap"

	"github.com/assettelematics/finbot/server/circuitbreaker"
	"github.com/assettelematics/finbot/server/transcript"
)

// result represents the outcome of one completion attempt chain.
type result struct {
	text   string
	err    error
	status HealthStatus
	name   string
}

// Generate submits a normalized transcript to the preferred healthy
// provider and returns the agent's reply.
//
// Identical concurrent requests are deduplicated: callers with the same
// transcript share a single upstream call. Provider failures fail over
// down the preference list, except content blocks, which return
// immediately wrapped in ErrContentBlocked.
func (m *Manager) Generate(ctx context.Context, msgs []transcript.Message) (string, error) {
	if len(msgs) == 0 {
		return "", fmt.Errorf("empty transcript")
	}

	prompt := &gollm.Prompt{
		Messages: make([]gollm.PromptMessage, len(msgs)),
	}
	for i, msg := range msgs {
		prompt.Messages[i] = gollm.PromptMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	key := requestKey(msgs)
	v, err, shared := m.group.Do(key, func() (interface{}, error) {
		r := m.executeWithFailover(ctx, prompt)
		return r, r.err
	})

	if shared {
		m.deduplicatedRequests.Inc()
	}

	if err != nil {
		return "", err
	}

	r := v.(*result)
	if r.name != "" {
		m.UpdateHealthStatus(r.name, r.status)
	}
	return r.text, nil
}

// executeWithFailover tries providers in preference order. A provider
// whose breaker trips open mid-request hands over to the next one; a
// provider that fails while its breaker stays closed returns the failure
// directly so the caller sees the primary error, and the accumulated
// breaker state decides failover on subsequent requests.
func (m *Manager) executeWithFailover(ctx context.Context, prompt *gollm.Prompt) *result {
	preference := m.preference()
	if len(preference) == 0 {
		return &result{err: ErrNoHealthyProvider}
	}

	var last *result
	for i, name := range preference {
		llm, breaker := m.getProviderResources(name)
		if llm == nil || breaker == nil {
			continue
		}
		if status, ok := m.healthStates.Load(name); ok && !status.(HealthStatus).Healthy {
			continue
		}

		current := m.executeOperation(ctx, llm, breaker, prompt, name)
		last = current

		if current.err == nil {
			return current
		}

		// Content blocks are final: no failover, no substitution.
		if errors.Is(current.err, ErrContentBlocked) {
			return current
		}

		// Rejected without an attempt: move straight to the next provider.
		if errors.Is(current.err, circuitbreaker.ErrCircuitOpen) {
			continue
		}

		// The attempt ran and failed. If it tripped the breaker open there
		// is no point returning the same error from this provider again;
		// hand over unless this was the last option.
		if breaker.State() == gobreaker.StateOpen && i < len(preference)-1 {
			continue
		}
		return current
	}

	if last == nil {
		return &result{err: ErrNoHealthyProvider}
	}
	if errors.Is(last.err, circuitbreaker.ErrCircuitOpen) {
		last.err = fmt.Errorf("%w: %v", ErrNoHealthyProvider, last.err)
	}
	return last
}

// executeOperation runs a single completion attempt through the breaker.
func (m *Manager) executeOperation(
	ctx context.Context,
	llm gollm.LLM,
	breaker *circuitbreaker.CircuitBreaker,
	prompt *gollm.Prompt,
	name string,
) *result {
	start := time.Now()
	prev := m.GetHealthStatus(name)

	var text string
	err := breaker.Execute(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, genErr := llm.Generate(ctx, prompt)
		if genErr != nil {
			if IsContentBlocked(genErr) {
				return fmt.Errorf("%w: %v", ErrContentBlocked, genErr)
			}
			return genErr
		}

		// An empty completion means the provider withheld its answer
		// without an explicit error.
		if resp == "" {
			return ErrContentBlocked
		}

		text = resp
		return nil
	})

	duration := time.Since(start)
	m.requestLatency.WithLabelValues(name).Observe(duration.Seconds())

	if err != nil {
		m.logger.Debug("completion attempt failed",
			zap.String("provider", name),
			zap.Error(err),
			zap.Duration("duration", duration),
			zap.Uint32("consecutive_failures", breaker.Counts().ConsecutiveFailures))

		return &result{
			err: err,
			status: HealthStatus{
				// Content blocks are upstream decisions, not outages.
				Healthy:          errors.Is(err, ErrContentBlocked),
				LastCheck:        time.Now(),
				ErrorCount:       prev.ErrorCount + 1,
				ConsecutiveFails: int(breaker.Counts().ConsecutiveFailures),
				Latency:          duration,
				RequestCount:     prev.RequestCount + 1,
			},
			name: name,
		}
	}

	return &result{
		text: text,
		status: HealthStatus{
			Healthy:      true,
			LastCheck:    time.Now(),
			Latency:      duration,
			RequestCount: prev.RequestCount + 1,
		},
		name: name,
	}
}

// requestKey derives a deduplication key covering every turn of the
// transcript, so only byte-identical requests coalesce.
func requestKey(msgs []transcript.Message) string {
	h := sha256.New()
	for _, msg := range msgs {
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
