package config

import (
	"fmt"

	"github.com/dmitrymomot/entitlements/pkg/httpserver"
	"github.com/dmitrymomot/entitlements/pkg/reconcile"
)

const (
	ProviderStripe = "stripe"
	ProviderPaddle = "paddle"
	ProviderSigned = "signed"

	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// App holds the settings of the entitlement service. Provider and store
// credentials are loaded separately, for the selected provider and store
// only.
type App struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"entitlementd"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	WebhookPath string `env:"WEBHOOK_PATH" envDefault:"/webhooks/billing"`

	Provider    string `env:"BILLING_PROVIDER" envDefault:"stripe"`
	Store       string `env:"STORE_DRIVER" envDefault:"memory"`
	CatalogFile string `env:"CATALOG_FILE"`
	JournalSize int    `env:"EVENT_JOURNAL_SIZE" envDefault:"100"`

	HTTP      httpserver.Config
	Reconcile reconcile.Config
}

// Validate rejects unknown provider and store names.
func (a *App) Validate() error {
	switch a.Provider {
	case ProviderStripe, ProviderPaddle, ProviderSigned:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, a.Provider)
	}
	switch a.Store {
	case StoreMemory, StoreRedis, StoreMongo, StorePostgres:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, a.Store)
	}
	return nil
}
