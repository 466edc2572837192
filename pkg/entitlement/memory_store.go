package entitlement

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. It is meant for tests and
// single-instance deployments.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[string]*Record
	byCustomer map[string]string
	now        func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock overrides the clock used for UpdatedAt stamps.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if now != nil {
			ms.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		records:    make(map[string]*Record),
		byCustomer: make(map[string]string),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

func (ms *MemoryStore) Get(ctx context.Context, userID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.records[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (ms *MemoryStore) Create(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || rec.UserID == "" {
		return ErrEmptyUserID
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.records[rec.UserID]; ok {
		return ErrRecordExists
	}
	stored := rec.Clone()
	stored.Version = 1
	ms.records[rec.UserID] = stored
	if stored.BillingCustomerID != "" {
		ms.byCustomer[stored.BillingCustomerID] = stored.UserID
	}
	rec.Version = stored.Version
	return nil
}

func (ms *MemoryStore) CompareAndSwap(ctx context.Context, rec *Record, expected int64) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	current, ok := ms.records[rec.UserID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if current.Version != expected {
		return nil, ErrVersionConflict
	}

	next := rec.Clone()
	next.Quotas = current.Quotas
	next.CreatedAt = current.CreatedAt
	next.Version = expected + 1
	next.UpdatedAt = ms.now().UTC()

	if current.BillingCustomerID != "" && current.BillingCustomerID != next.BillingCustomerID {
		if ms.byCustomer[current.BillingCustomerID] == next.UserID {
			delete(ms.byCustomer, current.BillingCustomerID)
		}
	}
	if next.BillingCustomerID != "" {
		ms.byCustomer[next.BillingCustomerID] = next.UserID
	}
	ms.records[rec.UserID] = next
	return next.Clone(), nil
}

func (ms *MemoryStore) FindByCustomerID(ctx context.Context, customerID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	userID, ok := ms.byCustomer[customerID]
	if !ok || customerID == "" {
		return nil, ErrRecordNotFound
	}
	return ms.records[userID].Clone(), nil
}

func (ms *MemoryStore) IncrementQuota(ctx context.Context, userID string, key FeatureKey, windowKey string, limit Limit) (IncrementResult, error) {
	if err := ctx.Err(); err != nil {
		return IncrementResult{}, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	rec, ok := ms.records[userID]
	if !ok {
		return IncrementResult{}, ErrRecordNotFound
	}
	if rec.Quotas == nil {
		rec.Quotas = make(map[FeatureKey]Bucket)
	}
	b, applied := ApplyIncrement(rec.Quotas[key], windowKey, limit)
	if applied {
		rec.Quotas[key] = b
	}
	return IncrementResult{Used: b.Used, WindowKey: b.WindowKey, Applied: applied}, nil
}

// Len returns the number of stored records.
func (ms *MemoryStore) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.records)
}
