// Command entitlementd serves the entitlement engine over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/entitlements/pkg/api"
	"github.com/dmitrymomot/entitlements/pkg/config"
	"github.com/dmitrymomot/entitlements/pkg/logger"
)

// Set at build time with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "entitlementd",
		Short:         "Entitlement and quota service backed by billing provider webhooks",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var app config.App
			if err := config.Load(&app); err != nil {
				return err
			}
			log, err := newLogger(app)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), app, log)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var app config.App
			if err := config.Load(&app); err != nil {
				return err
			}
			log, err := newLogger(app)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), log)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("entitlementd %s (%s)\n", Version, GitCommit)
		},
	}
}

func newLogger(app config.App) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(app.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", app.LogLevel, err)
	}
	format := logger.Format(app.LogFormat)
	if format != logger.FormatJSON && format != logger.FormatText {
		return nil, fmt.Errorf("invalid LOG_FORMAT %q", app.LogFormat)
	}
	return logger.New(
		logger.WithEnvironment(app.Environment, app.ServiceName),
		logger.WithLevel(level),
		logger.WithFormat(format),
		logger.WithAttr(slog.String("version", Version)),
		logger.WithContextExtractors(api.RequestIDExtractor()),
	), nil
}
