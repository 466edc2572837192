package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleHeader is the signature header of Paddle deliveries.
const PaddleHeader = "Paddle-Signature"

// PaddleConfig holds configuration for the Paddle provider.
type PaddleConfig struct {
	APIKey        string        `env:"PADDLE_API_KEY,required"`
	WebhookSecret string        `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string        `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	Tolerance     time.Duration `env:"PADDLE_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

// PaddleProvider implements Provider for Paddle Billing.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	cfg      PaddleConfig
	now      func() time.Time
}

func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

func (p *PaddleProvider) Name() string            { return "paddle" }
func (p *PaddleProvider) SignatureHeader() string { return PaddleHeader }

type paddleEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       paddleEventData `json:"data"`
}

type paddleEventData struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CreatedAt      string         `json:"created_at"`
	CustomData     map[string]any `json:"custom_data"`
}

func (d paddleEventData) custom(keys ...string) string {
	for _, k := range keys {
		if v, ok := d.CustomData[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func mapPaddleEventType(t string) EventType {
	switch t {
	case "subscription.created":
		return EventSubscriptionCreated
	case "subscription.updated", "subscription.activated", "subscription.trialing",
		"subscription.past_due", "subscription.paused", "subscription.resumed":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionDeleted
	case "transaction.completed":
		return EventCheckoutCompleted
	case "transaction.paid":
		return EventInvoicePaid
	case "transaction.payment_failed":
		return EventInvoiceFailed
	default:
		return EventType(t)
	}
}

// paddleTimestamp extracts ts from a "ts=...;h1=..." header.
func paddleTimestamp(header string) (time.Time, bool) {
	for part := range strings.SplitSeq(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && k == "ts" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return time.Time{}, false
			}
			return time.Unix(n, 0), true
		}
	}
	return time.Time{}, false
}

func (p *PaddleProvider) ParseEvent(payload []byte, signature string) (*Event, error) {
	ts, ok := paddleTimestamp(signature)
	if !ok {
		return nil, newVerificationError(ReasonBadSignature, errors.New("signature header is missing or incomplete"))
	}

	req, err := http.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, malformed("build verification request: %w", err)
	}
	req.Header.Set(PaddleHeader, signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, newVerificationError(ReasonBadSignature, err)
	}
	if !valid {
		return nil, newVerificationError(ReasonBadSignature, errors.New("signature mismatch"))
	}
	if age := p.now().Sub(ts); age > p.cfg.Tolerance || age < -maxFutureSkew {
		return nil, newVerificationError(ReasonStaleTimestamp, fmt.Errorf("timestamp outside tolerance: %v", age))
	}

	var raw paddleEnvelope
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, malformed("decode payload: %w", err)
	}

	evt := &Event{
		ID:           raw.EventID,
		Type:         mapPaddleEventType(raw.EventType),
		ProviderType: raw.EventType,
		Provider:     p.Name(),
		OccurredAt:   parseRFC3339(raw.OccurredAt),
		CustomerID:   raw.Data.CustomerID,
		Raw:          payload,
	}
	if evt.CustomerID == "" {
		evt.CustomerID = raw.Data.custom("customer_id")
	}
	userID := raw.Data.custom("userId", "user_id")

	switch evt.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		evt.SubscriptionID = raw.Data.ID
		evt.Data = SubscriptionChanged{
			Status:    Status(raw.Data.Status),
			CreatedAt: parseRFC3339(raw.Data.CreatedAt),
			UserID:    userID,
		}
	case EventCheckoutCompleted:
		evt.SubscriptionID = raw.Data.SubscriptionID
		evt.Data = CheckoutCompleted{UserID: userID}
	case EventInvoicePaid, EventInvoiceFailed:
		evt.SubscriptionID = raw.Data.SubscriptionID
		evt.Data = InvoiceSettled{InvoiceID: raw.Data.ID, Paid: evt.Type == EventInvoicePaid}
	}

	if err := evt.validate(); err != nil {
		return nil, err
	}
	return evt, nil
}

func (p *PaddleProvider) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	if customerID == "" {
		return nil, ErrMissingCustomerID
	}
	res, err := p.client.SubscriptionsClient.ListSubscriptions(ctx, &paddle.ListSubscriptionsRequest{
		CustomerID: []string{customerID},
	})
	if err != nil {
		return nil, errors.Join(ErrProviderUnavailable, err)
	}

	var subs []Subscription
	err = res.Iter(ctx, func(s *paddle.Subscription) (bool, error) {
		sub := Subscription{
			ID:        s.ID,
			Status:    Status(s.Status),
			CreatedAt: parseRFC3339(s.CreatedAt),
		}
		if s.CurrentBillingPeriod != nil {
			if end := parseRFC3339(s.CurrentBillingPeriod.EndsAt); !end.IsZero() {
				sub.CurrentPeriodEnd = &end
			}
		}
		subs = append(subs, sub)
		return true, nil
	})
	if err != nil {
		return nil, errors.Join(ErrProviderUnavailable, err)
	}
	return subs, nil
}

func parseRFC3339(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
