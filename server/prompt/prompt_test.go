package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assettelematics/finbot/config"
	"github.com/assettelematics/finbot/server/customer"
)

func testCompany() config.CompanyConfig {
	return config.CompanyConfig{
		Name:          "Asset Telematics",
		AgentName:     "FinBot",
		PaymentPortal: "https://pay.example/portal",
		SupportPhone:  "1-800-555-0134",
	}
}

func TestBuilder_Context(t *testing.T) {
	b, err := NewBuilder(testCompany(), "")
	require.NoError(t, err)

	rec := customer.Record{
		ID:                 "CUST001",
		Name:               "Alice Wonderland",
		OutstandingBalance: 1250.75,
		LastPaymentDate:    "2023-04-15",
		PaymentDueDate:     "2023-05-20",
		AccountStatus:      "active",
		Notes:              "Prefers email communication.",
		SentimentHistory:   []string{"neutral", "slightly_anxious"},
	}

	got, err := b.Context(rec, Hints{})
	require.NoError(t, err)

	assert.Contains(t, got, "You are FinBot")
	assert.Contains(t, got, "from Asset Telematics")
	assert.Contains(t, got, "Alice Wonderland")
	assert.Contains(t, got, "Outstanding Balance: $1250.75")
	assert.Contains(t, got, "Account Status: active")
	assert.Contains(t, got, "Recent Sentiment: neutral, slightly_anxious")
	assert.Contains(t, got, "https://pay.example/portal")
	assert.NotContains(t, got, "Live Analysis")
}

func TestBuilder_ContextWithHints(t *testing.T) {
	b, err := NewBuilder(testCompany(), "")
	require.NoError(t, err)

	rec := customer.Record{Name: "Charlie Brown", AccountStatus: "overdue"}
	got, err := b.Context(rec, Hints{
		Sentiment: "frustrated",
		Amounts:   []string{"$300.50"},
		Dates:     []string{"next Friday"},
	})
	require.NoError(t, err)

	assert.Contains(t, got, "Detected Sentiment: frustrated")
	assert.Contains(t, got, "Amounts Mentioned: $300.50")
	assert.Contains(t, got, "Dates Mentioned: next Friday")
}

func TestBuilder_Deterministic(t *testing.T) {
	b, err := NewBuilder(testCompany(), "")
	require.NoError(t, err)

	rec := customer.Record{Name: "Bob The Builder"}
	first, err := b.Context(rec, Hints{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := b.Context(rec, Hints{})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBuilder_Override(t *testing.T) {
	b, err := NewBuilder(testCompany(), "Agent {{.Company.AgentName}} for {{.Customer.Name}}")
	require.NoError(t, err)

	got, err := b.Context(customer.Record{Name: "Alice"}, Hints{})
	require.NoError(t, err)
	assert.Equal(t, "Agent FinBot for Alice", got)
}

func TestBuilder_InvalidTemplate(t *testing.T) {
	_, err := NewBuilder(testCompany(), "{{.Unclosed")
	assert.Error(t, err)
}
