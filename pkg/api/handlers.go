package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/ingest"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/quota"
	"github.com/dmitrymomot/entitlements/pkg/reconcile"
)

const maxEventsLimit = 1000

type handlers struct {
	svc    Service
	logger *slog.Logger
}

type featureResponse struct {
	UserID  string                 `json:"user_id"`
	Feature entitlement.FeatureKey `json:"feature"`
	Enabled bool                   `json:"enabled"`
}

type quotaResponse struct {
	UserID  string                 `json:"user_id"`
	Feature entitlement.FeatureKey `json:"feature"`
	quota.Result
}

type syncResponse struct {
	Status string              `json:"status"`
	Record *entitlement.Record `json:"record,omitempty"`
}

type legacyPremiumRequest struct {
	Premium *bool `json:"premium"`
}

type eventsResponse struct {
	Events []ingest.Entry `json:"events"`
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", slog.String("path", r.URL.Path), logger.Error(err))
	}
	writeError(w, status, code, msg)
}

func (h *handlers) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Record(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) checkFeature(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	key := entitlement.FeatureKey(chi.URLParam(r, "feature"))
	writeJSON(w, http.StatusOK, featureResponse{
		UserID:  userID,
		Feature: key,
		Enabled: h.svc.CheckFeature(r.Context(), userID, key),
	})
}

func (h *handlers) usage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	key := entitlement.FeatureKey(chi.URLParam(r, "feature"))
	res, err := h.svc.Usage(r.Context(), userID, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{UserID: userID, Feature: key, Result: res})
}

func (h *handlers) consume(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	key := entitlement.FeatureKey(chi.URLParam(r, "feature"))
	res, err := h.svc.ConsumeQuota(r.Context(), userID, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusOK
	if !res.Allowed {
		status = http.StatusTooManyRequests
		if wait := time.Until(res.ResetAt); wait > 0 && res.Limit != 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		}
	}
	writeJSON(w, status, quotaResponse{UserID: userID, Feature: key, Result: res})
}

func (h *handlers) syncUser(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.SyncUser(r.Context(), chi.URLParam(r, "userID"))
	h.writeSync(w, r, rec, err)
}

func (h *handlers) reconcileCustomer(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.TriggerReconcile(r.Context(), chi.URLParam(r, "customerID"))
	h.writeSync(w, r, rec, err)
}

func (h *handlers) writeSync(w http.ResponseWriter, r *http.Request, rec *entitlement.Record, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, syncResponse{Status: "reconciled", Record: rec})
	case errors.Is(err, reconcile.ErrReconcilePending):
		writeJSON(w, http.StatusAccepted, syncResponse{Status: "pending"})
	default:
		h.fail(w, r, err)
	}
}

func (h *handlers) setLegacyPremium(w http.ResponseWriter, r *http.Request) {
	var req legacyPremiumRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil || req.Premium == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", `Body must be {"premium": true|false}`)
		return
	}
	rec, err := h.svc.SetLegacyPremium(r.Context(), chi.URLParam(r, "userID"), *req.Premium)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := ingest.DefaultJournalSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventsLimit)
	}
	events := h.svc.RecentEvents(limit)
	if events == nil {
		events = []ingest.Entry{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}
