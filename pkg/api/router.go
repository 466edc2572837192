package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/httpserver"
	"github.com/dmitrymomot/entitlements/pkg/ingest"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/quota"
)

// DefaultWebhookPath is where provider deliveries are accepted.
const DefaultWebhookPath = "/webhooks/billing"

// Service is the engine surface the router serves. *entitlements.Engine
// implements it.
type Service interface {
	CheckFeature(ctx context.Context, userID string, key entitlement.FeatureKey) bool
	ConsumeQuota(ctx context.Context, userID string, key entitlement.FeatureKey) (quota.Result, error)
	Usage(ctx context.Context, userID string, key entitlement.FeatureKey) (quota.Result, error)
	Record(ctx context.Context, userID string) (*entitlement.Record, error)
	TriggerReconcile(ctx context.Context, customerID string) (*entitlement.Record, error)
	SyncUser(ctx context.Context, userID string) (*entitlement.Record, error)
	SetLegacyPremium(ctx context.Context, userID string, premium bool) (*entitlement.Record, error)
	WebhookHandler() http.Handler
	RecentEvents(limit int) []ingest.Entry
}

// Option configures the router.
type Option func(*options)

type options struct {
	webhookPath string
	logger      *slog.Logger
	metrics     http.Handler
	checks      []httpserver.Check
}

func WithWebhookPath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.webhookPath = path
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

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) { o.metrics = h }
}

// WithReadinessChecks adds dependencies probed by /health/ready.
func WithReadinessChecks(checks ...httpserver.Check) Option {
	return func(o *options) { o.checks = append(o.checks, checks...) }
}

// NewRouter builds the HTTP surface of svc. Panics if svc is nil.
func NewRouter(svc Service, opts ...Option) chi.Router {
	if svc == nil {
		panic("api: Service is required")
	}
	o := options{
		webhookPath: DefaultWebhookPath,
		logger:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	h := &handlers{svc: svc, logger: o.logger.With(logger.Component("api"))}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLog(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health/live", httpserver.Liveness())
	r.Get("/health/ready", httpserver.Readiness(h.logger, o.checks...))
	if o.metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.metrics)
	}

	r.Method(http.MethodPost, o.webhookPath, svc.WebhookHandler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Route("/users/{userID}", func(u chi.Router) {
			u.Get("/", h.getRecord)
			u.Get("/features/{feature}", h.checkFeature)
			u.Get("/quotas/{feature}", h.usage)
			u.Post("/quotas/{feature}/consume", h.consume)
			u.Post("/sync", h.syncUser)
			u.Put("/legacy-premium", h.setLegacyPremium)
		})
		v1.Post("/customers/{customerID}/reconcile", h.reconcileCustomer)
		v1.Get("/billing/events", h.recentEvents)
	})

	return r
}

func accessLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			log.Log(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				logger.Duration(time.Since(start)),
			)
		})
	}
}
