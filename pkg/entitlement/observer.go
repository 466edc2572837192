package entitlement

import "context"

// Observer receives entitlement events worth counting or alerting on.
type Observer interface {
	ConsistencyRepaired(ctx context.Context, userID string, tier Tier)
	MarkedStale(ctx context.Context, userID string)
	QuotaDecision(ctx context.Context, key FeatureKey, allowed bool)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) ConsistencyRepaired(context.Context, string, Tier) {}
func (NopObserver) MarkedStale(context.Context, string)               {}
func (NopObserver) QuotaDecision(context.Context, FeatureKey, bool)   {}
