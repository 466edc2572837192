package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignedHeader is the signature header used by SignedProvider.
const SignedHeader = "Webhook-Signature"

// maxFutureSkew bounds how far ahead of the local clock a timestamp may be.
const maxFutureSkew = time.Minute

// SubscriptionLister returns every subscription of a customer.
type SubscriptionLister func(ctx context.Context, customerID string) ([]Subscription, error)

// SignedConfig configures SignedProvider.
type SignedConfig struct {
	Name          string        `env:"SIGNED_PROVIDER_NAME" envDefault:"signed"`
	WebhookSecret string        `env:"SIGNED_WEBHOOK_SECRET,required"`
	Tolerance     time.Duration `env:"SIGNED_WEBHOOK_TOLERANCE" envDefault:"5m"`

	// SubscriptionsURL is read by HTTPSubscriptionLister when the provider is
	// built from the environment.
	SubscriptionsURL string        `env:"SIGNED_SUBSCRIPTIONS_URL,required"`
	ListTimeout      time.Duration `env:"SIGNED_LIST_TIMEOUT" envDefault:"10s"`
}

// SignedEvent is the JSON delivery format accepted by SignedProvider.
type SignedEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    SignedEventData `json:"data"`
}

type SignedEventData struct {
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Status         string `json:"status,omitempty"`
	CreatedAt      int64  `json:"created_at,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	InvoiceID      string `json:"invoice_id,omitempty"`
}

// SignedProvider verifies HMAC-SHA256 signatures of the form
// "t=<unix>,v1=<hex>" computed over "<unix>.<payload>".
type SignedProvider struct {
	cfg    SignedConfig
	lister SubscriptionLister
	now    func() time.Time
}

// SignedOption configures a SignedProvider.
type SignedOption func(*SignedProvider)

// WithSignedClock overrides the clock used for timestamp tolerance checks.
func WithSignedClock(now func() time.Time) SignedOption {
	return func(p *SignedProvider) {
		if now != nil {
			p.now = now
		}
	}
}

func NewSignedProvider(cfg SignedConfig, lister SubscriptionLister, opts ...SignedOption) (*SignedProvider, error) {
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if lister == nil {
		return nil, ErrMissingLister
	}
	if cfg.Name == "" {
		cfg.Name = "signed"
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	p := &SignedProvider{cfg: cfg, lister: lister, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *SignedProvider) Name() string            { return p.cfg.Name }
func (p *SignedProvider) SignatureHeader() string { return SignedHeader }

// Sign returns the signature header value for payload at the given time.
func Sign(secret string, payload []byte, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeSignature(secret, ts, payload))
}

func computeSignature(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (p *SignedProvider) verify(payload []byte, header string) error {
	var (
		ts         int64
		haveTS     bool
		signatures []string
	)
	for part := range strings.SplitSeq(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return newVerificationError(ReasonBadSignature, fmt.Errorf("invalid timestamp %q", v))
			}
			ts, haveTS = n, true
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if !haveTS || len(signatures) == 0 {
		return newVerificationError(ReasonBadSignature, errors.New("signature header is missing or incomplete"))
	}

	expected := []byte(computeSignature(p.cfg.WebhookSecret, ts, payload))
	matched := false
	for _, sig := range signatures {
		if hmac.Equal(expected, []byte(sig)) {
			matched = true
			break
		}
	}
	if !matched {
		return newVerificationError(ReasonBadSignature, errors.New("no matching signature"))
	}

	age := p.now().Sub(time.Unix(ts, 0))
	if age > p.cfg.Tolerance || age < -maxFutureSkew {
		return newVerificationError(ReasonStaleTimestamp, fmt.Errorf("timestamp outside tolerance: %v", age))
	}
	return nil
}

func (p *SignedProvider) ParseEvent(payload []byte, signature string) (*Event, error) {
	if err := p.verify(payload, signature); err != nil {
		return nil, err
	}

	var raw SignedEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, malformed("decode payload: %w", err)
	}

	evt := &Event{
		ID:             raw.ID,
		Type:           EventType(raw.Type),
		ProviderType:   raw.Type,
		Provider:       p.cfg.Name,
		CustomerID:     raw.Data.CustomerID,
		SubscriptionID: raw.Data.SubscriptionID,
		OccurredAt:     unixTime(raw.Created),
		Raw:            payload,
	}
	switch evt.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		evt.Data = SubscriptionChanged{
			Status:    Status(raw.Data.Status),
			CreatedAt: unixTime(raw.Data.CreatedAt),
			UserID:    raw.Data.UserID,
		}
	case EventCheckoutCompleted:
		evt.Data = CheckoutCompleted{UserID: raw.Data.UserID}
	case EventInvoicePaid, EventInvoiceFailed:
		evt.Data = InvoiceSettled{InvoiceID: raw.Data.InvoiceID, Paid: evt.Type == EventInvoicePaid}
	}
	if err := evt.validate(); err != nil {
		return nil, err
	}
	return evt, nil
}

func (p *SignedProvider) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	if customerID == "" {
		return nil, ErrMissingCustomerID
	}
	subs, err := p.lister(ctx, customerID)
	if err != nil {
		return nil, errors.Join(ErrProviderUnavailable, err)
	}
	return subs, nil
}

func unixTime(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
