package ingest_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/billing"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/ingest"
)

func post(t *testing.T, h http.Handler, body []byte, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(billing.SignedHeader, sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandler(t *testing.T) {
	t.Parallel()

	t.Run("processed and duplicate are acknowledged", func(t *testing.T) {
		t.Parallel()
		rec := &reconcilerMock{}
		rec.On("Reconcile", "cus_1", "user_1").Return(premium("user_1"), nil).Once()
		h := ingest.NewHandler(ingest.New(newProvider(t), rec))
		body, sig := delivery(t, checkout("evt_1"))

		resp := post(t, h, body, sig)
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, map[string]any{"received": true, "status": "processed"}, decode(t, resp))

		resp = post(t, h, body, sig)
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, map[string]any{"received": true, "status": "duplicate"}, decode(t, resp))
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		h := ingest.NewHandler(ingest.New(newProvider(t), &reconcilerMock{}))
		body, _ := delivery(t, checkout("evt_1"))

		resp := post(t, h, body, "")
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("invalid signature", func(t *testing.T) {
		t.Parallel()
		h := ingest.NewHandler(ingest.New(newProvider(t), &reconcilerMock{}))
		body, _ := delivery(t, checkout("evt_1"))

		resp := post(t, h, body, billing.Sign("whsec_other", body, now))
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, "invalid_signature", decode(t, resp)["error"].(map[string]any)["code"])
	})

	t.Run("malformed is acknowledged", func(t *testing.T) {
		t.Parallel()
		h := ingest.NewHandler(ingest.New(newProvider(t), &reconcilerMock{}))
		body := []byte(`not json`)

		resp := post(t, h, body, billing.Sign(secret, body, now))
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "malformed", decode(t, resp)["status"])
	})

	t.Run("in flight", func(t *testing.T) {
		t.Parallel()
		dedup := ingest.NewMemoryDeduper()
		_, err := dedup.Claim(t.Context(), "evt_1")
		require.NoError(t, err)
		h := ingest.NewHandler(ingest.New(newProvider(t), &reconcilerMock{}, ingest.WithDeduper(dedup)))
		body, sig := delivery(t, checkout("evt_1"))

		resp := post(t, h, body, sig)
		assert.Equal(t, http.StatusConflict, resp.Code)
	})

	t.Run("store unavailable", func(t *testing.T) {
		t.Parallel()
		rec := &reconcilerMock{}
		rec.On("Reconcile", "cus_1", "user_1").
			Return(nil, errors.Join(entitlement.ErrStoreUnavailable, errors.New("connection refused")))
		h := ingest.NewHandler(ingest.New(newProvider(t), rec))
		body, sig := delivery(t, checkout("evt_1"))

		resp := post(t, h, body, sig)
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		t.Parallel()
		h := ingest.NewHandler(ingest.New(newProvider(t), &reconcilerMock{}))
		body := []byte(strings.Repeat("x", ingest.MaxBodySize+1))

		resp := post(t, h, body, billing.Sign(secret, body, now))
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		t.Parallel()
		h := ingest.NewHandler(ingest.New(newProvider(t), &reconcilerMock{}))
		req := httptest.NewRequest(http.MethodGet, "/webhooks/billing", nil)
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
		assert.Equal(t, http.MethodPost, resp.Header().Get("Allow"))
	})
}
