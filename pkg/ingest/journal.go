package ingest

import (
	"sync"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

const DefaultJournalSize = 100

// Entry describes one handled delivery.
type Entry struct {
	At             time.Time        `json:"at"`
	EventID        string           `json:"event_id,omitempty"`
	Type           string           `json:"type,omitempty"`
	Provider       string           `json:"provider"`
	CustomerID     string           `json:"customer_id,omitempty"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	UserID         string           `json:"user_id,omitempty"`
	Tier           entitlement.Tier `json:"tier,omitempty"`
	Outcome        Outcome          `json:"outcome"`
	Note           string           `json:"note,omitempty"`
}

// Journal keeps the most recent entries in a fixed-size ring.
type Journal struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewJournal creates a journal holding up to size entries.
// A non-positive size falls back to DefaultJournalSize.
func NewJournal(size int) *Journal {
	if size <= 0 {
		size = DefaultJournalSize
	}
	return &Journal{entries: make([]Entry, size)}
}

func (j *Journal) Record(e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[j.next] = e
	j.next = (j.next + 1) % len(j.entries)
	if j.next == 0 {
		j.full = true
	}
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (j *Journal) Recent(limit int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := j.next
	if j.full {
		n = len(j.entries)
	}
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (j.next - i + len(j.entries)) % len(j.entries)
		out = append(out, j.entries[idx])
	}
	return out
}
