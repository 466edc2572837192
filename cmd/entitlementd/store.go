package main

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/entitlements/pkg/config"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/httpserver"
	"github.com/dmitrymomot/entitlements/pkg/ingest"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/store/mongostore"
	"github.com/dmitrymomot/entitlements/pkg/store/pgstore"
	"github.com/dmitrymomot/entitlements/pkg/store/redisstore"
)

// backend is the selected store plus what the server needs around it.
type backend struct {
	store  entitlement.Store
	dedup  ingest.Deduper
	checks []httpserver.Check
	close  func()
}

func openStore(ctx context.Context, driver string, log *slog.Logger) (*backend, error) {
	switch driver {
	case config.StoreRedis:
		var cfg redisstore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := redisstore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:  redisstore.New(client, redisstore.WithConfig(cfg)),
			dedup:  redisstore.NewDeduper(client, redisstore.WithConfig(cfg)),
			checks: []httpserver.Check{{Name: "redis", Fn: redisstore.Healthcheck(client)}},
			close:  func() { _ = client.Close() },
		}, nil

	case config.StoreMongo:
		var cfg mongostore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := mongostore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		db := client.Database(cfg.Database)
		store, err := mongostore.New(ctx, db, mongostore.WithCollection(cfg.Collection))
		if err != nil {
			_ = client.Disconnect(context.WithoutCancel(ctx))
			return nil, err
		}
		dedup, err := mongostore.NewDeduper(ctx, db, mongostore.WithDedupConfig(cfg))
		if err != nil {
			_ = client.Disconnect(context.WithoutCancel(ctx))
			return nil, err
		}
		return &backend{
			store:  store,
			dedup:  dedup,
			checks: []httpserver.Check{{Name: "mongodb", Fn: mongostore.Healthcheck(client)}},
			close:  func() { _ = client.Disconnect(context.WithoutCancel(ctx)) },
		}, nil

	case config.StorePostgres:
		var cfg pgstore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pgstore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pgstore.Migrate(ctx, pool, cfg, log); err != nil {
			pool.Close()
			return nil, err
		}
		dedup := pgstore.NewDeduper(pool, pgstore.WithDedupConfig(cfg))
		pruned, err := dedup.Prune(ctx)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.InfoContext(ctx, "pruned processed event ids", logger.Component("store"), slog.Int64("count", pruned))
		return &backend{
			store:  pgstore.New(pool),
			dedup:  dedup,
			checks: []httpserver.Check{{Name: "postgres", Fn: pgstore.Healthcheck(pool)}},
			close:  pool.Close,
		}, nil

	default:
		log.WarnContext(ctx, "using in-memory store, state is lost on restart", logger.Component("store"))
		return &backend{store: entitlement.NewMemoryStore(), close: func() {}}, nil
	}
}

func migrate(ctx context.Context, log *slog.Logger) error {
	var cfg pgstore.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	pool, err := pgstore.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pgstore.Migrate(ctx, pool, cfg, log); err != nil {
		return err
	}
	log.InfoContext(ctx, "migrations applied", slog.String("table", cfg.MigrationsTable))
	return nil
}
