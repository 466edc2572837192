package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrymomot/entitlements"
	"github.com/dmitrymomot/entitlements/pkg/billing"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/reconcile"
)

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// errorStatus maps engine errors to a status and error code.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, entitlement.ErrEmptyUserID),
		errors.Is(err, entitlement.ErrEmptyFeatureKey),
		errors.Is(err, reconcile.ErrMissingCustomerID):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, entitlement.ErrRecordNotFound):
		return http.StatusNotFound, "not_found", "Entitlement record not found"
	case errors.Is(err, reconcile.ErrUserNotFound):
		return http.StatusNotFound, "not_found", "No user is mapped to this billing customer"
	case errors.Is(err, entitlements.ErrNoBillingCustomer):
		return http.StatusConflict, "no_billing_customer", "User has no billing customer"
	case errors.Is(err, billing.ErrProviderUnavailable):
		return http.StatusBadGateway, "provider_unavailable", "Billing provider unavailable; last known state kept"
	default:
		return http.StatusServiceUnavailable, "temporarily_unavailable", "Entitlement store unavailable; retry later"
	}
}
