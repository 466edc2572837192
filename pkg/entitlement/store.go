package entitlement

import "context"

// IncrementResult is the outcome of a conditional quota increment.
// Used and WindowKey reflect the stored bucket after the operation.
type IncrementResult struct {
	Used      int64
	WindowKey string
	Applied   bool
}

// Store persists entitlement records.
//
// CompareAndSwap writes every record field except Quotas and succeeds only when
// the stored version equals expected; the stored version is then expected+1.
// Quota counters change only through IncrementQuota, which in one atomic step
// resets a bucket whose window key is older than windowKey, refuses to move
// used past a positive limit, never increments when limit is 0, and always
// increments when limit is Unlimited.
type Store interface {
	Get(ctx context.Context, userID string) (*Record, error)
	Create(ctx context.Context, rec *Record) error
	CompareAndSwap(ctx context.Context, rec *Record, expected int64) (*Record, error)
	FindByCustomerID(ctx context.Context, customerID string) (*Record, error)
	IncrementQuota(ctx context.Context, userID string, key FeatureKey, windowKey string, limit Limit) (IncrementResult, error)
}

// ApplyIncrement is the reference increment rule shared by store adapters
// that evaluate it in process under their own lock.
func ApplyIncrement(b Bucket, windowKey string, limit Limit) (Bucket, bool) {
	if b.WindowKey < windowKey {
		b = Bucket{WindowKey: windowKey}
	}
	switch {
	case limit == 0:
		return b, false
	case limit.IsUnlimited():
	case b.Used >= int64(limit):
		return b, false
	}
	b.Used++
	return b, true
}
