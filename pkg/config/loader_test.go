package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/billing"
	"github.com/dmitrymomot/entitlements/pkg/config"
)

type requiredConfig struct {
	Required string `env:"ENTITLEMENTS_TEST_REQUIRED,required"`
}

func TestLoadApp(t *testing.T) {
	t.Setenv("BILLING_PROVIDER", "paddle")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("RECONCILE_MAX_ATTEMPTS", "6")
	t.Setenv("RECONCILE_SYNC_WAIT", "1500ms")

	var app config.App
	require.NoError(t, config.Load(&app))
	assert.Equal(t, config.ProviderPaddle, app.Provider)
	assert.Equal(t, config.StorePostgres, app.Store)
	assert.Equal(t, ":8080", app.HTTP.Addr)
	assert.Equal(t, 100, app.JournalSize)
	assert.Equal(t, 6, app.Reconcile.MaxAttempts)
	assert.Equal(t, 1500*time.Millisecond, app.Reconcile.SyncWait)
	assert.Equal(t, 2*time.Second, app.Reconcile.MaxBackoff)
}

func TestLoadSignedProvider(t *testing.T) {
	t.Setenv("BILLING_PROVIDER", "signed")
	t.Setenv("SIGNED_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("SIGNED_SUBSCRIPTIONS_URL", "http://billing.internal/subscriptions")

	var app config.App
	require.NoError(t, config.Load(&app))
	assert.Equal(t, config.ProviderSigned, app.Provider)

	var cfg billing.SignedConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "signed", cfg.Name)
	assert.Equal(t, "whsec_env", cfg.WebhookSecret)
	assert.Equal(t, "http://billing.internal/subscriptions", cfg.SubscriptionsURL)
	assert.Equal(t, 5*time.Minute, cfg.Tolerance)
	assert.Equal(t, 10*time.Second, cfg.ListTimeout)
}

func TestLoadAppValidation(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		t.Setenv("BILLING_PROVIDER", "braintree")
		var app config.App
		assert.ErrorIs(t, config.Load(&app), config.ErrUnknownProvider)
	})

	t.Run("unknown store", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "sqlite")
		var app config.App
		assert.ErrorIs(t, config.Load(&app), config.ErrUnknownStore)
	})
}

func TestLoadErrors(t *testing.T) {
	assert.ErrorIs(t, config.Load[requiredConfig](nil), config.ErrNilPointer)

	var cfg requiredConfig
	assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)
	assert.Panics(t, func() { config.MustLoad(&cfg) })

	t.Setenv("ENTITLEMENTS_TEST_REQUIRED", "set")
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "set", cfg.Required)
}
