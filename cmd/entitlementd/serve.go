package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/entitlements"
	"github.com/dmitrymomot/entitlements/pkg/api"
	"github.com/dmitrymomot/entitlements/pkg/billing"
	"github.com/dmitrymomot/entitlements/pkg/config"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/httpserver"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/metrics"
)

func serve(ctx context.Context, app config.App, log *slog.Logger) error {
	catalog := entitlement.DefaultCatalog()
	if app.CatalogFile != "" {
		var err error
		if catalog, err = entitlement.LoadCatalogFile(app.CatalogFile); err != nil {
			return err
		}
		log.InfoContext(ctx, "feature catalog loaded", slog.String("path", app.CatalogFile))
	}

	provider, err := newProvider(app.Provider)
	if err != nil {
		return err
	}

	backend, err := openStore(ctx, app.Store, log)
	if err != nil {
		return err
	}
	defer backend.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)

	opts := []entitlements.Option{
		entitlements.WithCatalog(catalog),
		entitlements.WithLogger(log),
		entitlements.WithObserver(collector),
		entitlements.WithJournalSize(app.JournalSize),
		entitlements.WithReconcileConfig(app.Reconcile),
	}
	if backend.dedup != nil {
		opts = append(opts, entitlements.WithDeduper(backend.dedup))
	}
	engine := entitlements.New(backend.store, provider, opts...)

	router := api.NewRouter(engine,
		api.WithWebhookPath(app.WebhookPath),
		api.WithLogger(log),
		api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		api.WithReadinessChecks(backend.checks...),
	)

	log.InfoContext(ctx, "starting entitlement service",
		logger.Provider(provider.Name()),
		slog.String("store", app.Store),
		slog.String("webhook_path", app.WebhookPath),
	)
	return httpserver.NewFromConfig(app.HTTP, httpserver.WithLogger(log)).Run(ctx, router)
}

func newProvider(name string) (billing.Provider, error) {
	switch name {
	case config.ProviderPaddle:
		var cfg billing.PaddleConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		p, err := billing.NewPaddleProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderSigned:
		var cfg billing.SignedConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		lister := billing.HTTPSubscriptionLister(cfg.SubscriptionsURL, &http.Client{Timeout: cfg.ListTimeout})
		p, err := billing.NewSignedProvider(cfg, lister)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		var cfg billing.StripeConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		p, err := billing.NewStripeProvider(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
