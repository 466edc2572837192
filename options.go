package entitlements

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/ingest"
	"github.com/dmitrymomot/entitlements/pkg/reconcile"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	catalog       *entitlement.Catalog
	logger        *slog.Logger
	observer      entitlement.Observer
	eventObserver ingest.Observer
	dedup         ingest.Deduper
	journalSize   int
	reconcile     reconcile.Config
	readTimeout   time.Duration
	now           func() time.Time
}

// WithCatalog sets the tier feature catalog. Its window period also sets the
// quota window.
func WithCatalog(c *entitlement.Catalog) Option {
	return func(o *options) {
		if c != nil {
			o.catalog = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver receives consistency repairs, stale marks and quota decisions.
// When obs also implements ingest.Observer it receives webhook outcomes too.
func WithObserver(obs entitlement.Observer) Option {
	return func(o *options) {
		if obs == nil {
			return
		}
		o.observer = obs
		if eo, ok := obs.(ingest.Observer); ok && o.eventObserver == nil {
			o.eventObserver = eo
		}
	}
}

func WithEventObserver(obs ingest.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.eventObserver = obs
		}
	}
}

// WithDeduper replaces the in-memory processed-event log.
func WithDeduper(d ingest.Deduper) Option {
	return func(o *options) {
		if d != nil {
			o.dedup = d
		}
	}
}

func WithJournalSize(n int) Option {
	return func(o *options) { o.journalSize = n }
}

// WithReconcileConfig sets provider retry and manual sync timings.
func WithReconcileConfig(cfg reconcile.Config) Option {
	return func(o *options) { o.reconcile = cfg }
}

// WithReadTimeout bounds the store read behind CheckFeature and ConsumeQuota.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
