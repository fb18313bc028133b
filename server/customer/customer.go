// Package customer provides the customer account directory consulted when
// building the per-request context prompt.
package customer

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound indicates the requested customer id is not in the directory.
var ErrNotFound = errors.New("customer: not found")

// Record holds the account state the agent is allowed to reference.
type Record struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	OutstandingBalance float64  `json:"outstanding_balance"`
	LastPaymentDate    string   `json:"last_payment_date"`
	PaymentDueDate     string   `json:"payment_due_date"`
	AccountStatus      string   `json:"account_status"`
	AccountRef         string   `json:"account_ref"`
	Notes              string   `json:"-"` // internal, never sent to clients
	SentimentHistory   []string `json:"-"`
}

// RecentSentiment returns the last n recorded sentiment labels joined for
// prompt display, or "N/A" when there is no history.
func (r Record) RecentSentiment(n int) string {
	if len(r.SentimentHistory) == 0 {
		return "N/A"
	}
	if n > len(r.SentimentHistory) {
		n = len(r.SentimentHistory)
	}
	return strings.Join(r.SentimentHistory[len(r.SentimentHistory)-n:], ", ")
}

// Directory is an in-memory customer store. Reads dominate; the mutex
// exists for AppendSentiment updates during live conversations.
type Directory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewDirectory returns a directory seeded with the demo accounts.
func NewDirectory() *Directory {
	return &Directory{
		records: map[string]Record{
			"CUST001": {
				ID:                 "CUST001",
				AccountRef:         "AT-88421",
				Name:               "Alice Wonderland",
				OutstandingBalance: 1250.75,
				LastPaymentDate:    "2023-04-15",
				PaymentDueDate:     "2023-05-20",
				AccountStatus:      "active",
				Notes:              "Inquired about payment plan options last month. Prefers email communication.",
				SentimentHistory:   []string{"neutral", "slightly_anxious"},
			},
			"CUST002": {
				ID:                 "CUST002",
				AccountRef:         "AT-90115",
				Name:               "Bob The Builder",
				OutstandingBalance: 0.00,
				LastPaymentDate:    "2023-05-01",
				PaymentDueDate:     "N/A",
				AccountStatus:      "paid_in_full",
				Notes:              "Long-term customer, always pays on time. Expressed interest in new services.",
				SentimentHistory:   []string{"positive", "neutral"},
			},
			"CUST003": {
				ID:                 "CUST003",
				AccountRef:         "AT-87302",
				Name:               "Charlie Brown",
				OutstandingBalance: 300.50,
				LastPaymentDate:    "2023-03-10",
				PaymentDueDate:     "2023-04-05",
				AccountStatus:      "overdue",
				Notes:              "Has been sent two reminder notices. Previously mentioned temporary financial hardship.",
				SentimentHistory:   []string{"anxious", "frustrated", "anxious"},
			},
		},
	}
}

// Lookup returns the record for id, or ErrNotFound.
func (d *Directory) Lookup(id string) (Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	// Copy the slice so callers cannot mutate directory state.
	rec.SentimentHistory = append([]string(nil), rec.SentimentHistory...)
	return rec, nil
}

// List returns all records ordered by id, for the account selection UI.
func (d *Directory) List() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Record, 0, len(d.records))
	for _, rec := range d.records {
		rec.SentimentHistory = append([]string(nil), rec.SentimentHistory...)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AppendSentiment records an observed sentiment label for a customer.
// Unknown ids are ignored; sentiment tracking is advisory only.
func (d *Directory) AppendSentiment(id, sentiment string) {
	if sentiment == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[id]
	if !ok {
		return
	}
	rec.SentimentHistory = append(rec.SentimentHistory, sentiment)
	d.records[id] = rec
}
