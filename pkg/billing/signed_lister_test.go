package billing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/billing"
)

func TestHTTPSubscriptionLister(t *testing.T) {
	t.Parallel()

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("customer_id") {
		case "cus_1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":[
				{"id":"sub_1","status":"active","created_at":1735689600,"current_period_end":1738368000},
				{"id":"sub_0","status":"canceled","created_at":1735689600}
			]}`))
		case "cus_garbled":
			_, _ = w.Write([]byte(`{"data":`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)

	list := billing.HTTPSubscriptionLister(srv.URL+"/subscriptions", srv.Client())
	ctx := context.Background()

	subs, err := list(ctx, "cus_1")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "sub_1", subs[0].ID)
	assert.Equal(t, billing.StatusActive, subs[0].Status)
	assert.Equal(t, created, subs[0].CreatedAt)
	require.NotNil(t, subs[0].CurrentPeriodEnd)
	assert.Equal(t, periodEnd, *subs[0].CurrentPeriodEnd)
	assert.Nil(t, subs[1].CurrentPeriodEnd)

	_, err = list(ctx, "cus_down")
	assert.Error(t, err)

	_, err = list(ctx, "cus_garbled")
	assert.Error(t, err)

	t.Run("provider wraps lister failures", func(t *testing.T) {
		t.Parallel()
		p, err := billing.NewSignedProvider(billing.SignedConfig{WebhookSecret: testSecret}, list)
		require.NoError(t, err)
		_, err = p.ListSubscriptions(ctx, "cus_down")
		assert.ErrorIs(t, err, billing.ErrProviderUnavailable)
	})
}
