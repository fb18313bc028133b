package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assettelematics/finbot/server/processing"
	"github.com/assettelematics/finbot/server/transcript"
)

func TestNewTokenCounter_UnknownModelFallsBack(t *testing.T) {
	tc, err := NewTokenCounter("claude-3-haiku-20240307")
	require.NoError(t, err)
	assert.Greater(t, tc.CountText("Hello, how can I help you today?"), 0)
}

func TestCountRequestTokens(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4o-mini")
	require.NoError(t, err)

	req := &processing.ChatRequest{
		CustomerID: "CUST001",
		Message:    "What is my balance?",
		History: []transcript.ClientTurn{
			{Role: "user", Text: "Hello"},
			{Role: "agent", Text: "Hello Alice, how can I help?"},
		},
	}

	total := tc.CountRequestTokens(req)
	messageOnly := tc.CountText(req.Message)
	assert.Greater(t, total, messageOnly)
}

func TestValidateTokens(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4o-mini")
	require.NoError(t, err)

	req := &processing.ChatRequest{Message: "short message"}

	assert.NoError(t, tc.ValidateTokens(req, contextPromptReserve+100))
	assert.Error(t, tc.ValidateTokens(req, 0))

	// A budget no larger than the reserve leaves almost nothing for the
	// request itself.
	assert.Error(t, tc.ValidateTokens(req, contextPromptReserve))
}
