package reconcile

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

// Config holds retry and timeout settings.
type Config struct {
	MaxAttempts    int           `env:"RECONCILE_MAX_ATTEMPTS" envDefault:"4"`
	InitialBackoff time.Duration `env:"RECONCILE_INITIAL_BACKOFF" envDefault:"200ms"`
	MaxBackoff     time.Duration `env:"RECONCILE_MAX_BACKOFF" envDefault:"2s"`
	AttemptTimeout time.Duration `env:"RECONCILE_ATTEMPT_TIMEOUT" envDefault:"5s"`
	SyncWait       time.Duration `env:"RECONCILE_SYNC_WAIT" envDefault:"3s"`
	SyncTimeout    time.Duration `env:"RECONCILE_SYNC_TIMEOUT" envDefault:"30s"`
}

func defaultConfig() Config {
	return Config{
		MaxAttempts:    4,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		AttemptTimeout: 5 * time.Second,
		SyncWait:       3 * time.Second,
		SyncTimeout:    30 * time.Second,
	}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithConfig replaces retry and timeout settings. Zero fields keep defaults.
func WithConfig(cfg Config) Option {
	return func(r *Reconciler) {
		def := r.cfg
		if cfg.MaxAttempts > 0 {
			def.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.InitialBackoff > 0 {
			def.InitialBackoff = cfg.InitialBackoff
		}
		if cfg.MaxBackoff > 0 {
			def.MaxBackoff = cfg.MaxBackoff
		}
		if cfg.AttemptTimeout > 0 {
			def.AttemptTimeout = cfg.AttemptTimeout
		}
		if cfg.SyncWait > 0 {
			def.SyncWait = cfg.SyncWait
		}
		if cfg.SyncTimeout > 0 {
			def.SyncTimeout = cfg.SyncTimeout
		}
		r.cfg = def
	}
}

func WithCatalog(c *entitlement.Catalog) Option {
	return func(r *Reconciler) {
		if c != nil {
			r.catalog = c
		}
	}
}

func WithObserver(o entitlement.Observer) Option {
	return func(r *Reconciler) {
		if o != nil {
			r.observer = o
		}
	}
}

func WithGuard(g *entitlement.Guard) Option {
	return func(r *Reconciler) {
		if g != nil {
			r.guard = g
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}
