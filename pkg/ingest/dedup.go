package ingest

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// ClaimState is the result of claiming an event id.
type ClaimState int

const (
	// ClaimAcquired means the caller owns the event and must Complete or
	// Release it.
	ClaimAcquired ClaimState = iota
	// ClaimInFlight means another caller owns the event.
	ClaimInFlight
	// ClaimDone means the event was already processed.
	ClaimDone
)

func (s ClaimState) String() string {
	switch s {
	case ClaimAcquired:
		return "acquired"
	case ClaimInFlight:
		return "in_flight"
	case ClaimDone:
		return "done"
	}
	return "unknown"
}

// Deduper is the processed-event log. Claims that are never completed or
// released expire, so a crashed processor does not block redelivery forever.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (ClaimState, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

const (
	DefaultDedupCapacity = 10_000
	DefaultClaimTTL      = 10 * time.Minute
)

type dedupEntry struct {
	id        string
	done      bool
	claimedAt time.Time
}

// MemoryDeduper remembers the most recent event ids in process memory.
// The oldest ids are forgotten once capacity is reached.
type MemoryDeduper struct {
	capacity int
	claimTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List
}

// MemoryDeduperOption configures a MemoryDeduper.
type MemoryDeduperOption func(*MemoryDeduper)

// WithDedupCapacity panics if n is not positive.
func WithDedupCapacity(n int) MemoryDeduperOption {
	if n <= 0 {
		panic("ingest: dedup capacity must be positive")
	}
	return func(d *MemoryDeduper) { d.capacity = n }
}

func WithClaimTTL(ttl time.Duration) MemoryDeduperOption {
	return func(d *MemoryDeduper) {
		if ttl > 0 {
			d.claimTTL = ttl
		}
	}
}

func WithDedupClock(now func() time.Time) MemoryDeduperOption {
	return func(d *MemoryDeduper) {
		if now != nil {
			d.now = now
		}
	}
}

func NewMemoryDeduper(opts ...MemoryDeduperOption) *MemoryDeduper {
	d := &MemoryDeduper{
		capacity: DefaultDedupCapacity,
		claimTTL: DefaultClaimTTL,
		now:      time.Now,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *MemoryDeduper) Claim(ctx context.Context, eventID string) (ClaimState, error) {
	if eventID == "" {
		return 0, ErrEmptyEventID
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if elem, ok := d.items[eventID]; ok {
		d.eviction.MoveToFront(elem)
		entry := elem.Value.(*dedupEntry)
		if entry.done {
			return ClaimDone, nil
		}
		if now.Sub(entry.claimedAt) <= d.claimTTL {
			return ClaimInFlight, nil
		}
		entry.claimedAt = now
		return ClaimAcquired, nil
	}

	d.items[eventID] = d.eviction.PushFront(&dedupEntry{id: eventID, claimedAt: now})
	for d.eviction.Len() > d.capacity {
		d.removeElement(d.eviction.Back())
	}
	return ClaimAcquired, nil
}

func (d *MemoryDeduper) Complete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return ErrEmptyEventID
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.items[eventID]; ok {
		elem.Value.(*dedupEntry).done = true
		d.eviction.MoveToFront(elem)
		return nil
	}
	d.items[eventID] = d.eviction.PushFront(&dedupEntry{id: eventID, done: true, claimedAt: d.now()})
	for d.eviction.Len() > d.capacity {
		d.removeElement(d.eviction.Back())
	}
	return nil
}

// Release drops an unfinished claim. Completed events stay recorded.
func (d *MemoryDeduper) Release(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.items[eventID]; ok && !elem.Value.(*dedupEntry).done {
		d.removeElement(elem)
	}
	return nil
}

func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eviction.Len()
}

func (d *MemoryDeduper) removeElement(elem *list.Element) {
	d.eviction.Remove(elem)
	delete(d.items, elem.Value.(*dedupEntry).id)
}
