package entitlement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/entitlements/pkg/logger"
)

const defaultGuardAttempts = 3

// Guard keeps LegacyPremium equal to (Tier == TierPremium). It runs after
// every record mutation; the tier always wins.
type Guard struct {
	store    Store
	observer Observer
	logger   *slog.Logger
	attempts int
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

func WithGuardObserver(o Observer) GuardOption {
	return func(g *Guard) {
		if o != nil {
			g.observer = o
		}
	}
}

func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGuard panics when store is nil.
func NewGuard(store Store, opts ...GuardOption) *Guard {
	if store == nil {
		panic("entitlement: Store is required")
	}
	g := &Guard{
		store:    store,
		observer: NopObserver{},
		logger:   logger.Discard(),
		attempts: defaultGuardAttempts,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Repair returns a copy of rec with the legacy flag derived from the tier and
// reports whether anything changed.
func Repair(rec *Record) (*Record, bool) {
	fixed := rec.Clone()
	if fixed.Consistent() {
		return fixed, false
	}
	fixed.LegacyPremium = fixed.IsPremium()
	return fixed, true
}

// Check loads the record of userID and repairs it if needed.
func (g *Guard) Check(ctx context.Context, userID string) (*Record, error) {
	rec, err := g.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return g.Ensure(ctx, rec)
}

// Ensure persists a repaired legacy flag when rec is inconsistent and returns
// the stored record. Concurrent writers are handled by reloading on conflict.
func (g *Guard) Ensure(ctx context.Context, rec *Record) (*Record, error) {
	for range g.attempts {
		fixed, changed := Repair(rec)
		if !changed {
			return rec, nil
		}

		g.logger.WarnContext(ctx, "repairing legacy premium flag",
			logger.UserID(rec.UserID),
			logger.Tier(string(rec.Tier)),
			slog.Bool("legacy_premium", rec.LegacyPremium),
			logger.Error(ErrConsistencyViolation),
		)

		saved, err := g.store.CompareAndSwap(ctx, fixed, rec.Version)
		if err == nil {
			g.observer.ConsistencyRepaired(ctx, saved.UserID, saved.Tier)
			return saved, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}

		rec, err = g.store.Get(ctx, rec.UserID)
		if err != nil {
			return nil, err
		}
	}
	return nil, ErrVersionConflict
}

// ApplyLegacyOverride writes only the legacy flag, as an administrative
// override would, and then runs the guard over the result.
func (g *Guard) ApplyLegacyOverride(ctx context.Context, userID string, premium bool) (*Record, error) {
	for range g.attempts {
		rec, err := g.store.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		next := rec.Clone()
		next.LegacyPremium = premium
		saved, err := g.store.CompareAndSwap(ctx, next, rec.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return g.Ensure(ctx, saved)
	}
	return nil, ErrVersionConflict
}
