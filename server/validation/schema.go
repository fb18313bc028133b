package validation

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/assettelematics/finbot/server/processing"
)

// Tokenizer defines the interface for token counting
type Tokenizer interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
	Decode(tokens []int) string
	CountTokens(text string) int
}

// tiktokenWrapper wraps tiktoken to implement our Tokenizer interface
type tiktokenWrapper struct {
	*tiktoken.Tiktoken
}

func (t *tiktokenWrapper) CountTokens(text string) int {
	tokens := t.Encode(text, nil, nil)
	return len(tokens)
}

// TokenCounter handles token counting for chat requests using tiktoken
type TokenCounter struct {
	encoding Tokenizer
}

// NewTokenCounter creates a token counter for the configured model.
// Models without a tiktoken encoding (e.g. Anthropic) fall back to
// cl100k_base, which is close enough for budget enforcement.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding for model %s: %v", model, err)
		}
	}
	return &TokenCounter{encoding: &tiktokenWrapper{encoding}}, nil
}

// CountText counts the tokens in a single piece of text.
func (tc *TokenCounter) CountText(text string) int {
	return tc.encoding.CountTokens(text)
}

// CountRequestTokens counts the total number of tokens a chat request
// contributes to the transcript: the replayed history plus the new message.
func (tc *TokenCounter) CountRequestTokens(req *processing.ChatRequest) int {
	total := tc.CountText(req.Message)
	for _, turn := range req.History {
		total += tc.CountText(turn.Text)
	}
	return total
}

// ValidateTokens checks if the request's token count is within limits.
// The context prompt is rendered server-side after validation, so a
// fraction of the budget is held back for it.
func (tc *TokenCounter) ValidateTokens(req *processing.ChatRequest, maxContextTokens int) error {
	if maxContextTokens <= 0 {
		return fmt.Errorf("invalid max_context_tokens: must be greater than 0")
	}

	totalTokens := tc.CountRequestTokens(req)
	budget := maxContextTokens - contextPromptReserve
	if budget < 1 {
		budget = 1
	}

	if totalTokens > budget {
		return fmt.Errorf("total tokens (%d) exceeds max context length (%d)", totalTokens, budget)
	}

	return nil
}

// contextPromptReserve is the token headroom kept for the rendered
// context prompt, which is not part of the client request.
const contextPromptReserve = 1024
