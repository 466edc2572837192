package quota

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/logger"
)

// Result is the outcome of a consume attempt. Remaining is Unlimited for
// unmetered features. ResetAt is the start of the next window.
type Result struct {
	Allowed   bool              `json:"allowed"`
	Remaining entitlement.Limit `json:"remaining"`
	Limit     entitlement.Limit `json:"limit"`
	Used      int64             `json:"used"`
	WindowKey string            `json:"window_key"`
	ResetAt   time.Time         `json:"reset_at"`
}

// Enforcer meters feature usage against per-window limits.
type Enforcer struct {
	store    entitlement.Store
	catalog  *entitlement.Catalog
	window   entitlement.Window
	observer entitlement.Observer
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration

	windowSet bool
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithCatalog sets the catalog used for fallbacks and window periods.
func WithCatalog(c *entitlement.Catalog) Option {
	return func(e *Enforcer) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithWindow overrides the catalog's window periods for every feature.
func WithWindow(w entitlement.Window) Option {
	return func(e *Enforcer) {
		e.window = w
		e.windowSet = true
	}
}

func WithObserver(o entitlement.Observer) Option {
	return func(e *Enforcer) {
		if o != nil {
			e.observer = o
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Enforcer) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTimeout bounds each store call.
func WithTimeout(d time.Duration) Option {
	return func(e *Enforcer) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New creates an Enforcer. Panics if store is nil.
func New(store entitlement.Store, opts ...Option) *Enforcer {
	if store == nil {
		panic("quota: Store is required")
	}
	e := &Enforcer{
		store:    store,
		catalog:  entitlement.DefaultCatalog(),
		observer: entitlement.NopObserver{},
		logger:   logger.Discard(),
		now:      time.Now,
		timeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logger.Component("quota"))
	return e
}

// WindowFor returns the accounting window of key.
func (e *Enforcer) WindowFor(key entitlement.FeatureKey) entitlement.Window {
	if e.windowSet {
		return e.window
	}
	return e.catalog.WindowFor(key)
}

// Usage reports the effective usage of key without consuming anything.
func (e *Enforcer) Usage(rec *entitlement.Record, key entitlement.FeatureKey) Result {
	now := e.now()
	window := e.WindowFor(key)
	current := window.Key(now)
	limit := e.catalog.Resolve(rec, key)

	b := rec.Bucket(key)
	used := b.Used
	if b.WindowKey < current {
		used = 0
	}
	return Result{
		Allowed:   allows(limit, used),
		Remaining: remaining(limit, used),
		Limit:     limit,
		Used:      used,
		WindowKey: entitlement.LaterKey(current, b.WindowKey),
		ResetAt:   window.Next(now),
	}
}

// Consume records one use of key for rec's user if the limit allows it.
func (e *Enforcer) Consume(ctx context.Context, rec *entitlement.Record, key entitlement.FeatureKey) (Result, error) {
	if rec == nil || rec.UserID == "" {
		return Result{}, entitlement.ErrEmptyUserID
	}
	if key == "" {
		return Result{}, entitlement.ErrEmptyFeatureKey
	}

	pre := e.Usage(rec, key)
	if !pre.Allowed {
		e.decide(ctx, rec.UserID, key, pre)
		return pre, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.store.IncrementQuota(opCtx, rec.UserID, key, pre.WindowKey, pre.Limit)
	if err != nil {
		e.logger.ErrorContext(ctx, "quota increment failed, denying",
			logger.UserID(rec.UserID),
			logger.FeatureKey(string(key)),
			logger.Error(err),
		)
		denied := Result{Limit: pre.Limit, WindowKey: pre.WindowKey, ResetAt: pre.ResetAt}
		e.observer.QuotaDecision(ctx, key, false)
		if errors.Is(err, entitlement.ErrStoreUnavailable) {
			return denied, err
		}
		return denied, errors.Join(entitlement.ErrStoreUnavailable, err)
	}

	out := Result{
		Allowed:   res.Applied,
		Remaining: remaining(pre.Limit, res.Used),
		Limit:     pre.Limit,
		Used:      res.Used,
		WindowKey: res.WindowKey,
		ResetAt:   pre.ResetAt,
	}
	if !res.Applied {
		out.Remaining = 0
	}
	e.decide(ctx, rec.UserID, key, out)
	return out, nil
}

func (e *Enforcer) decide(ctx context.Context, userID string, key entitlement.FeatureKey, r Result) {
	e.observer.QuotaDecision(ctx, key, r.Allowed)
	e.logger.DebugContext(ctx, "quota decision",
		logger.UserID(userID),
		logger.FeatureKey(string(key)),
		slog.Bool("allowed", r.Allowed),
		slog.Int64("used", r.Used),
		slog.String("limit", r.Limit.String()),
	)
}

func allows(limit entitlement.Limit, used int64) bool {
	switch {
	case limit == 0:
		return false
	case limit.IsUnlimited():
		return true
	default:
		return used < int64(limit)
	}
}

// remaining clamps at zero so a lowered limit never reports negative headroom.
func remaining(limit entitlement.Limit, used int64) entitlement.Limit {
	if limit.IsUnlimited() {
		return entitlement.Unlimited
	}
	return entitlement.Limit(max(int64(limit)-used, 0))
}
