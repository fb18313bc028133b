package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexicon_Sentiment(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "frustrated",
			text: "This is ridiculous, I already paid!",
			want: "frustrated",
		},
		{
			name: "anxious",
			text: "I'm really worried, I can't pay the full amount right now",
			want: "anxious",
		},
		{
			name: "positive",
			text: "Great, thanks for your help",
			want: "positive",
		},
		{
			name: "neutral",
			text: "What is my current balance",
			want: "neutral",
		},
		{
			name: "frustrated outranks anxious",
			text: "I'm worried but honestly this is unacceptable",
			want: "frustrated",
		},
	}

	a := NewLexicon()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := a.Analyze(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Sentiment)
		})
	}
}

func TestLexicon_Amounts(t *testing.T) {
	a := NewLexicon()

	res, err := a.Analyze(context.Background(), "I can pay $300.50 now and maybe 200 dollars next month")
	require.NoError(t, err)
	assert.Equal(t, []string{"$300.50", "200 dollars"}, res.Amounts)

	res, err = a.Analyze(context.Background(), "I owe $1,250.75 total, yes $1,250.75")
	require.NoError(t, err)
	assert.Equal(t, []string{"$1,250.75"}, res.Amounts)
}

func TestLexicon_Dates(t *testing.T) {
	a := NewLexicon()

	res, err := a.Analyze(context.Background(), "Can I pay next friday or by 2023-05-20?")
	require.NoError(t, err)
	require.Len(t, res.Dates, 2)
	assert.Equal(t, "next friday", res.Dates[0])
	assert.Equal(t, "2023-05-20", res.Dates[1])

	res, err = a.Analyze(context.Background(), "I get paid at end of the month")
	require.NoError(t, err)
	assert.Equal(t, []string{"end of the month"}, res.Dates)
}

func TestLexicon_EmptyText(t *testing.T) {
	a := NewLexicon()

	res, err := a.Analyze(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "neutral", res.Sentiment)
	assert.Empty(t, res.Amounts)
	assert.Empty(t, res.Dates)
}
