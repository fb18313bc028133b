// Package analysis extracts advisory signals from customer messages:
// a sentiment label plus any monetary amounts and date expressions. The
// results feed the context prompt as hints. Analysis is best-effort: a
// failure or an empty result never affects request handling.
package analysis

import (
	"context"
	"regexp"
	"strings"
)

// Result holds the signals extracted from one message.
type Result struct {
	// Sentiment is one of "positive", "neutral", "anxious", "frustrated"
	Sentiment string

	// Amounts are monetary amounts as written, e.g. "$300.50"
	Amounts []string

	// Dates are date expressions as written, e.g. "next Friday"
	Dates []string
}

// Analyzer produces advisory signals for a message. Implementations must
// be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Result, error)
}

var (
	amountPattern = regexp.MustCompile(`\$\s?\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?|\b\d+(?:\.\d{1,2})?\s+(?:dollars|bucks|usd)\b`)
	datePattern   = regexp.MustCompile(`(?i)\b(?:\d{4}-\d{2}-\d{2}|(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(?:st|nd|rd|th)?|(?:next|this|last)\s+(?:week|month|monday|tuesday|wednesday|thursday|friday|saturday|sunday|payday)|tomorrow|tonight|today|end of (?:the )?month)\b`)
)

// Sentiment word lists, checked against lowercased whole words. Frustrated
// outranks anxious outranks positive when several match.
var (
	frustratedWords = []string{
		"angry", "furious", "ridiculous", "unacceptable", "fed", "scam",
		"harassment", "harassing", "lawyer", "sue", "complaint", "outrageous",
		"frustrated", "frustrating", "annoyed", "terrible", "worst",
	}
	anxiousWords = []string{
		"worried", "worry", "anxious", "scared", "afraid", "stress",
		"stressed", "struggling", "hardship", "difficult", "tight", "broke",
		"unemployed", "laid", "cant", "can't", "cannot", "behind", "overdue",
		"sorry", "apologize",
	}
	positiveWords = []string{
		"thanks", "thank", "great", "perfect", "sure", "happy", "glad",
		"appreciate", "yes", "agreed", "deal", "wonderful", "awesome",
	}
)

// LexiconAnalyzer scores sentiment with fixed word lists and extracts
// entities with regular expressions. No network calls, no state.
type LexiconAnalyzer struct{}

// NewLexicon returns the lexicon-based analyzer.
func NewLexicon() *LexiconAnalyzer {
	return &LexiconAnalyzer{}
}

// Analyze implements Analyzer. It never returns an error; the signature
// carries one so network-backed analyzers can share the interface.
func (a *LexiconAnalyzer) Analyze(_ context.Context, text string) (Result, error) {
	res := Result{
		Sentiment: classifySentiment(text),
		Amounts:   dedupe(amountPattern.FindAllString(text, -1)),
		Dates:     dedupe(datePattern.FindAllString(text, -1)),
	}
	return res, nil
}

func classifySentiment(text string) string {
	words := tokenize(text)

	var frustrated, anxious, positive int
	for _, w := range words {
		switch {
		case contains(frustratedWords, w):
			frustrated++
		case contains(anxiousWords, w):
			anxious++
		case contains(positiveWords, w):
			positive++
		}
	}

	switch {
	case frustrated > 0:
		return "frustrated"
	case anxious > 0:
		return "anxious"
	case positive > 0:
		return "positive"
	default:
		return "neutral"
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && r != '\''
	})
}

func contains(list []string, w string) bool {
	for _, item := range list {
		if item == w {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
