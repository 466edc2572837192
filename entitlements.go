package entitlements

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/billing"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/ingest"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/quota"
	"github.com/dmitrymomot/entitlements/pkg/reconcile"
)

const defaultReadTimeout = 2 * time.Second

// Engine is the entitlement service exposed to feature code and to the
// billing provider.
type Engine struct {
	store      entitlement.Store
	catalog    *entitlement.Catalog
	guard      *entitlement.Guard
	reconciler *reconcile.Reconciler
	enforcer   *quota.Enforcer
	ingestor   *ingest.Ingestor
	webhook    http.Handler
	logger     *slog.Logger
	timeout    time.Duration
	now        func() time.Time
}

// New assembles an Engine. Panics if store or provider is nil.
func New(store entitlement.Store, provider billing.Provider, opts ...Option) *Engine {
	if store == nil {
		panic("entitlements: Store is required")
	}
	if provider == nil {
		panic("entitlements: billing Provider is required")
	}
	o := options{
		catalog:     entitlement.DefaultCatalog(),
		logger:      logger.Discard(),
		observer:    entitlement.NopObserver{},
		journalSize: ingest.DefaultJournalSize,
		readTimeout: defaultReadTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	guard := entitlement.NewGuard(store,
		entitlement.WithGuardObserver(o.observer),
		entitlement.WithGuardLogger(o.logger.With(logger.Component("guard"))),
	)
	reconciler := reconcile.New(store, provider,
		reconcile.WithConfig(o.reconcile),
		reconcile.WithCatalog(o.catalog),
		reconcile.WithObserver(o.observer),
		reconcile.WithGuard(guard),
		reconcile.WithLogger(o.logger),
		reconcile.WithClock(o.now),
	)
	enforcer := quota.New(store,
		quota.WithCatalog(o.catalog),
		quota.WithObserver(o.observer),
		quota.WithLogger(o.logger),
		quota.WithClock(o.now),
	)
	ingestor := ingest.New(provider, reconciler,
		ingest.WithDeduper(o.dedup),
		ingest.WithJournal(ingest.NewJournal(o.journalSize)),
		ingest.WithObserver(o.eventObserver),
		ingest.WithLogger(o.logger),
		ingest.WithClock(o.now),
	)

	return &Engine{
		store:      store,
		catalog:    o.catalog,
		guard:      guard,
		reconciler: reconciler,
		enforcer:   enforcer,
		ingestor:   ingestor,
		webhook:    ingest.NewHandler(ingestor),
		logger:     o.logger.With(logger.Component("engine")),
		timeout:    o.readTimeout,
		now:        o.now,
	}
}

// CheckFeature reports whether key is unlocked for userID according to the
// last reconciled state. Unknown users and store failures read as locked.
func (e *Engine) CheckFeature(ctx context.Context, userID string, key entitlement.FeatureKey) bool {
	if userID == "" || key == "" {
		return false
	}
	rec, err := e.read(ctx, userID)
	if err != nil {
		if !errors.Is(err, entitlement.ErrRecordNotFound) {
			e.logger.WarnContext(ctx, "feature check denied, record unavailable",
				logger.UserID(userID),
				logger.FeatureKey(string(key)),
				logger.Error(err),
			)
		}
		return false
	}
	return e.catalog.Resolve(rec, key).Enabled()
}

// ConsumeQuota records one use of key for userID when the window allows it.
// A free record is created for users seen for the first time. Any store
// failure denies and returns entitlement.ErrStoreUnavailable.
func (e *Engine) ConsumeQuota(ctx context.Context, userID string, key entitlement.FeatureKey) (quota.Result, error) {
	if userID == "" {
		return quota.Result{}, entitlement.ErrEmptyUserID
	}
	rec, err := e.readOrCreate(ctx, userID)
	if err != nil {
		return quota.Result{}, err
	}
	return e.enforcer.Consume(ctx, rec, key)
}

// Usage reports the state of key for userID without consuming it.
func (e *Engine) Usage(ctx context.Context, userID string, key entitlement.FeatureKey) (quota.Result, error) {
	rec, err := e.read(ctx, userID)
	if errors.Is(err, entitlement.ErrRecordNotFound) {
		rec = entitlement.NewRecord(userID, e.catalog, e.now())
	} else if err != nil {
		return quota.Result{}, err
	}
	return e.enforcer.Usage(rec, key), nil
}

// Record returns the stored entitlement of userID.
func (e *Engine) Record(ctx context.Context, userID string) (*entitlement.Record, error) {
	return e.read(ctx, userID)
}

// TriggerReconcile re-derives the entitlement of customerID now. It returns
// reconcile.ErrReconcilePending when the sync outlives the configured wait;
// the sync then completes in the background.
func (e *Engine) TriggerReconcile(ctx context.Context, customerID string) (*entitlement.Record, error) {
	return e.reconciler.Trigger(ctx, customerID)
}

// SyncUser is TriggerReconcile for the billing customer of userID.
func (e *Engine) SyncUser(ctx context.Context, userID string) (*entitlement.Record, error) {
	rec, err := e.read(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.BillingCustomerID == "" {
		return nil, ErrNoBillingCustomer
	}
	return e.reconciler.Trigger(ctx, rec.BillingCustomerID)
}

// SetLegacyPremium writes the legacy premium flag the way an administrative
// override would. The tier is not changed, so the guard reverts a flag that
// disagrees with it.
func (e *Engine) SetLegacyPremium(ctx context.Context, userID string, premium bool) (*entitlement.Record, error) {
	return e.guard.ApplyLegacyOverride(ctx, userID, premium)
}

// HandleWebhook processes one billing delivery.
func (e *Engine) HandleWebhook(ctx context.Context, payload []byte, signature string) (ingest.Result, error) {
	return e.ingestor.Accept(ctx, payload, signature)
}

// WebhookHandler serves HandleWebhook over HTTP.
func (e *Engine) WebhookHandler() http.Handler { return e.webhook }

// SignatureHeader names the header the provider signs deliveries in.
func (e *Engine) SignatureHeader() string { return e.ingestor.Provider().SignatureHeader() }

// RecentEvents returns up to limit recent deliveries, newest first.
func (e *Engine) RecentEvents(limit int) []ingest.Entry {
	return e.ingestor.Journal().Recent(limit)
}

// read loads a record and repairs its legacy flag when it disagrees with the
// tier. A failed repair is logged; the tier is authoritative either way.
func (e *Engine) read(ctx context.Context, userID string) (*entitlement.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rec, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	if rec.Consistent() {
		return rec, nil
	}
	fixed, err := e.guard.Ensure(ctx, rec)
	if err != nil {
		e.logger.WarnContext(ctx, "legacy flag repair failed", logger.UserID(userID), logger.Error(err))
		return rec, nil
	}
	return fixed, nil
}

func (e *Engine) readOrCreate(ctx context.Context, userID string) (*entitlement.Record, error) {
	rec, err := e.read(ctx, userID)
	if !errors.Is(err, entitlement.ErrRecordNotFound) {
		return rec, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	rec = entitlement.NewRecord(userID, e.catalog, e.now())
	err = e.store.Create(ctx, rec)
	if errors.Is(err, entitlement.ErrRecordExists) {
		rec, err = e.store.Get(ctx, userID)
	}
	if err != nil {
		return nil, storeError(err)
	}
	return rec, nil
}

func storeError(err error) error {
	if errors.Is(err, entitlement.ErrRecordNotFound) || errors.Is(err, entitlement.ErrStoreUnavailable) {
		return err
	}
	return errors.Join(entitlement.ErrStoreUnavailable, err)
}
