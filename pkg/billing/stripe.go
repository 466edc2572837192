package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeHeader is the signature header of Stripe deliveries.
const StripeHeader = "Stripe-Signature"

// StripeConfig configures StripeProvider.
type StripeConfig struct {
	SecretKey     string        `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	Tolerance     time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

// StripeProvider implements Provider for Stripe.
type StripeProvider struct {
	client *stripe.Client
	cfg    StripeConfig
}

func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	return &StripeProvider{
		client: stripe.NewClient(cfg.SecretKey, nil),
		cfg:    cfg,
	}, nil
}

func (p *StripeProvider) Name() string            { return "stripe" }
func (p *StripeProvider) SignatureHeader() string { return StripeHeader }

// stripeRef decodes a field that is either an object id or an expanded object.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = stripeRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = stripeRef(obj.ID)
	return nil
}

type stripeSubscriptionObject struct {
	ID       string            `json:"id"`
	Customer stripeRef         `json:"customer"`
	Status   string            `json:"status"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata"`
}

type stripeCheckoutObject struct {
	ID                string            `json:"id"`
	Customer          stripeRef         `json:"customer"`
	Subscription      stripeRef         `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeInvoiceObject struct {
	ID           string    `json:"id"`
	Customer     stripeRef `json:"customer"`
	Subscription stripeRef `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription stripeRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (o stripeInvoiceObject) subscriptionID() string {
	if o.Subscription != "" {
		return string(o.Subscription)
	}
	if o.Parent != nil && o.Parent.SubscriptionDetails != nil {
		return string(o.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

func userFromMetadata(md map[string]string, fallback string) string {
	if id := md["userId"]; id != "" {
		return id
	}
	if id := md["user_id"]; id != "" {
		return id
	}
	return fallback
}

func mapStripeEventType(t string) EventType {
	switch t {
	case "customer.subscription.created":
		return EventSubscriptionCreated
	case "customer.subscription.updated":
		return EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return EventSubscriptionDeleted
	case "checkout.session.completed":
		return EventCheckoutCompleted
	case "invoice.paid", "invoice.payment_succeeded":
		return EventInvoicePaid
	case "invoice.payment_failed":
		return EventInvoiceFailed
	default:
		return EventType(t)
	}
}

func (p *StripeProvider) ParseEvent(payload []byte, signature string) (*Event, error) {
	raw, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.cfg.Tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrTooOld):
			return nil, newVerificationError(ReasonStaleTimestamp, err)
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrNoValidSignature):
			return nil, newVerificationError(ReasonBadSignature, err)
		default:
			return nil, newVerificationError(ReasonMalformed, err)
		}
	}

	evt := &Event{
		ID:           raw.ID,
		Type:         mapStripeEventType(string(raw.Type)),
		ProviderType: string(raw.Type),
		Provider:     p.Name(),
		OccurredAt:   unixTime(raw.Created),
		Raw:          payload,
	}
	if raw.Data == nil {
		return nil, malformed("event %s has no data", raw.ID)
	}

	switch evt.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var obj stripeSubscriptionObject
		if err := json.Unmarshal(raw.Data.Raw, &obj); err != nil {
			return nil, malformed("decode subscription: %w", err)
		}
		evt.CustomerID = string(obj.Customer)
		evt.SubscriptionID = obj.ID
		evt.Data = SubscriptionChanged{
			Status:    Status(obj.Status),
			CreatedAt: unixTime(obj.Created),
			UserID:    userFromMetadata(obj.Metadata, ""),
		}
	case EventCheckoutCompleted:
		var obj stripeCheckoutObject
		if err := json.Unmarshal(raw.Data.Raw, &obj); err != nil {
			return nil, malformed("decode checkout session: %w", err)
		}
		evt.CustomerID = string(obj.Customer)
		evt.SubscriptionID = string(obj.Subscription)
		evt.Data = CheckoutCompleted{UserID: userFromMetadata(obj.Metadata, obj.ClientReferenceID)}
	case EventInvoicePaid, EventInvoiceFailed:
		var obj stripeInvoiceObject
		if err := json.Unmarshal(raw.Data.Raw, &obj); err != nil {
			return nil, malformed("decode invoice: %w", err)
		}
		evt.CustomerID = string(obj.Customer)
		evt.SubscriptionID = obj.subscriptionID()
		evt.Data = InvoiceSettled{InvoiceID: obj.ID, Paid: evt.Type == EventInvoicePaid}
	}

	if err := evt.validate(); err != nil {
		return nil, err
	}
	return evt, nil
}

func (p *StripeProvider) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	if customerID == "" {
		return nil, ErrMissingCustomerID
	}
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}

	var subs []Subscription
	for sub, err := range p.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			var serr *stripe.Error
			if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
				return nil, nil
			}
			return nil, errors.Join(ErrProviderUnavailable, err)
		}
		s := Subscription{
			ID:        sub.ID,
			Status:    Status(sub.Status),
			CreatedAt: unixTime(sub.Created),
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].CurrentPeriodEnd > 0 {
			end := unixTime(sub.Items.Data[0].CurrentPeriodEnd)
			s.CurrentPeriodEnd = &end
		}
		subs = append(subs, s)
	}
	return subs, nil
}
