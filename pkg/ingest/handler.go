package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmitrymomot/entitlements/pkg/billing"
	"github.com/dmitrymomot/entitlements/pkg/logger"
)

// MaxBodySize bounds a webhook delivery.
const MaxBodySize = 1 << 20

type ackBody struct {
	Received bool    `json:"received"`
	Status   Outcome `json:"status"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// Handler serves an Ingestor as a webhook endpoint.
type Handler struct {
	ingestor *Ingestor
	header   string
	logger   *slog.Logger
}

// NewHandler panics if ingestor is nil.
func NewHandler(ingestor *Ingestor) *Handler {
	if ingestor == nil {
		panic("ingest: Ingestor is required")
	}
	return &Handler{
		ingestor: ingestor,
		header:   ingestor.provider.SignatureHeader(),
		logger:   ingestor.logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST is accepted")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Webhook payload is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}

	signature := r.Header.Get(h.header)
	if strings.TrimSpace(signature) == "" {
		writeError(w, http.StatusBadRequest, "invalid_signature", "Invalid webhook signature")
		return
	}

	res, err := h.ingestor.Accept(r.Context(), payload, signature)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ackBody{Received: true, Status: res.Outcome})
	case errors.Is(err, billing.ErrVerificationFailed):
		writeError(w, http.StatusBadRequest, "invalid_signature", "Invalid webhook signature")
	case errors.Is(err, ErrEventInFlight):
		writeError(w, http.StatusConflict, "event_in_flight", "Event is being processed; retry later")
	default:
		h.logger.ErrorContext(r.Context(), "webhook delivery not acknowledged", logger.Error(err))
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "Failed to process webhook; retry later")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
