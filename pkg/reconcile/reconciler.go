package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/entitlements/pkg/billing"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/logger"
)

const casAttempts = 5

// Reconciler derives entitlement records from provider subscription state.
type Reconciler struct {
	store    entitlement.Store
	provider billing.Provider
	catalog  *entitlement.Catalog
	guard    *entitlement.Guard
	observer entitlement.Observer
	logger   *slog.Logger
	now      func() time.Time
	cfg      Config
	group    singleflight.Group
}

// New creates a Reconciler. Panics if store or provider is nil.
func New(store entitlement.Store, provider billing.Provider, opts ...Option) *Reconciler {
	if store == nil {
		panic("reconcile: Store is required")
	}
	if provider == nil {
		panic("reconcile: billing Provider is required")
	}
	r := &Reconciler{
		store:    store,
		provider: provider,
		catalog:  entitlement.DefaultCatalog(),
		observer: entitlement.NopObserver{},
		logger:   logger.Discard(),
		now:      time.Now,
		cfg:      defaultConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.guard == nil {
		r.guard = entitlement.NewGuard(store,
			entitlement.WithGuardObserver(r.observer),
			entitlement.WithGuardLogger(r.logger),
		)
	}
	r.logger = r.logger.With(logger.Component("reconciler"))
	return r
}

// Reconcile brings the record of the user behind customerID in line with the
// provider. userHint, when set, names the user directly and establishes the
// customer mapping; otherwise the user is looked up by customer id.
func (r *Reconciler) Reconcile(ctx context.Context, customerID, userHint string) (*entitlement.Record, error) {
	if customerID == "" {
		return nil, ErrMissingCustomerID
	}

	rec, err := r.resolve(ctx, customerID, userHint)
	if err != nil {
		return nil, err
	}

	for range casAttempts {
		subs, err := r.listSubscriptions(ctx, customerID)
		if err != nil {
			r.logger.ErrorContext(ctx, "subscription listing exhausted retries, keeping last known state",
				logger.UserID(rec.UserID),
				logger.CustomerID(customerID),
				logger.Error(err),
			)
			if markErr := r.markStale(ctx, rec); markErr != nil {
				return nil, errors.Join(billing.ErrProviderUnavailable, err, markErr)
			}
			return nil, errors.Join(billing.ErrProviderUnavailable, err)
		}

		saved, changed, err := r.apply(ctx, rec, customerID, subs)
		if errors.Is(err, entitlement.ErrVersionConflict) {
			// A concurrent run wrote first; its listing may be newer than ours.
			if rec, err = r.store.Get(ctx, rec.UserID); err != nil {
				return nil, storeError(err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		saved, err = r.guard.Ensure(ctx, saved)
		if err != nil {
			return nil, storeError(err)
		}

		r.logger.InfoContext(ctx, "entitlement reconciled",
			logger.UserID(saved.UserID),
			logger.CustomerID(customerID),
			logger.SubscriptionID(saved.BillingSubscriptionID),
			logger.Tier(string(saved.Tier)),
			slog.Bool("changed", changed),
			slog.Int("subscriptions", len(subs)),
		)
		return saved, nil
	}
	return nil, storeError(entitlement.ErrVersionConflict)
}

// resolve finds the record of the user behind customerID, creating it when
// a hinted user has none yet.
func (r *Reconciler) resolve(ctx context.Context, customerID, userHint string) (*entitlement.Record, error) {
	if userHint == "" {
		rec, err := r.store.FindByCustomerID(ctx, customerID)
		if errors.Is(err, entitlement.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		if err != nil {
			return nil, storeError(err)
		}
		return rec, nil
	}

	rec, err := r.store.Get(ctx, userHint)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, entitlement.ErrRecordNotFound) {
		return nil, storeError(err)
	}

	rec = entitlement.NewRecord(userHint, r.catalog, r.now())
	rec.BillingCustomerID = customerID
	err = r.store.Create(ctx, rec)
	if errors.Is(err, entitlement.ErrRecordExists) {
		if rec, err = r.store.Get(ctx, userHint); err != nil {
			return nil, storeError(err)
		}
		return rec, nil
	}
	if err != nil {
		return nil, storeError(err)
	}
	return rec, nil
}

func (r *Reconciler) listSubscriptions(ctx context.Context, customerID string) ([]billing.Subscription, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() ([]billing.Subscription, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()

		subs, err := r.provider.ListSubscriptions(attemptCtx, customerID)
		if errors.Is(err, billing.ErrMissingCustomerID) {
			return nil, backoff.Permanent(err)
		}
		return subs, err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.WarnContext(ctx, "subscription listing failed, retrying",
			logger.CustomerID(customerID),
			logger.Attempt(attempt),
			slog.Duration("wait", wait),
			logger.Error(err),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(r.cfg.MaxAttempts-1, 0))), ctx)
	return backoff.RetryNotifyWithData(op, policy, notify)
}

// derive computes the record implied by subs. It never touches quotas.
func (r *Reconciler) derive(rec *entitlement.Record, customerID string, subs []billing.Subscription) *entitlement.Record {
	next := rec.Clone()
	next.Tier = entitlement.TierFor(billing.HasPremium(subs))
	next.LegacyPremium = next.IsPremium()
	next.BillingCustomerID = customerID
	next.Features = r.catalog.Features(next.Tier)
	next.Stale = false
	next.StaleSince = nil
	next.BillingSubscriptionID = ""
	next.Since = nil
	next.Until = nil

	if canonical, ok := billing.Canonical(subs); ok {
		next.BillingSubscriptionID = canonical.ID
		if !canonical.CreatedAt.IsZero() {
			since := canonical.CreatedAt.UTC()
			next.Since = &since
		}
		if canonical.CurrentPeriodEnd != nil {
			until := canonical.CurrentPeriodEnd.UTC()
			next.Until = &until
		}
	}
	return next
}

// apply writes the state derived from subs unless it equals the stored
// state. A lost compare-and-swap is returned as ErrVersionConflict so the
// caller can list again before retrying.
func (r *Reconciler) apply(ctx context.Context, rec *entitlement.Record, customerID string, subs []billing.Subscription) (*entitlement.Record, bool, error) {
	next := r.derive(rec, customerID, subs)
	if sameState(rec, next) {
		return rec, false, nil
	}
	if _, transition := entitlement.NextTier(rec.Tier, next.IsPremium()); transition {
		r.logger.InfoContext(ctx, "tier transition",
			logger.UserID(rec.UserID),
			slog.String("from", string(rec.Tier)),
			slog.String("to", string(next.Tier)),
		)
	}

	saved, err := r.store.CompareAndSwap(ctx, next, rec.Version)
	if err == nil {
		return saved, true, nil
	}
	if errors.Is(err, entitlement.ErrVersionConflict) {
		return nil, false, entitlement.ErrVersionConflict
	}
	return nil, false, storeError(err)
}

// markStale flags rec as last-known-good without touching its tier.
func (r *Reconciler) markStale(ctx context.Context, rec *entitlement.Record) error {
	for range casAttempts {
		if rec.Stale {
			break
		}
		next := rec.Clone()
		now := r.now().UTC()
		next.Stale = true
		next.StaleSince = &now

		_, err := r.store.CompareAndSwap(ctx, next, rec.Version)
		if err == nil {
			break
		}
		if !errors.Is(err, entitlement.ErrVersionConflict) {
			return storeError(err)
		}
		if rec, err = r.store.Get(ctx, rec.UserID); err != nil {
			return storeError(err)
		}
	}
	r.observer.MarkedStale(ctx, rec.UserID)
	return nil
}

func sameState(a, b *entitlement.Record) bool {
	return a.Tier == b.Tier &&
		a.LegacyPremium == b.LegacyPremium &&
		a.BillingCustomerID == b.BillingCustomerID &&
		a.BillingSubscriptionID == b.BillingSubscriptionID &&
		a.Stale == b.Stale &&
		sameTime(a.Since, b.Since) &&
		sameTime(a.Until, b.Until) &&
		maps.Equal(a.Features, b.Features)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func storeError(err error) error {
	if errors.Is(err, entitlement.ErrStoreUnavailable) {
		return err
	}
	return errors.Join(entitlement.ErrStoreUnavailable, err)
}
