package billing

import (
	"context"
	"time"
)

// DefaultTolerance is the accepted age of a webhook signature timestamp.
const DefaultTolerance = 5 * time.Minute

// EventType is the provider-neutral kind of a billing event.
type EventType string

const (
	EventSubscriptionCreated EventType = "subscription.created"
	EventSubscriptionUpdated EventType = "subscription.updated"
	EventSubscriptionDeleted EventType = "subscription.deleted"
	EventCheckoutCompleted   EventType = "checkout.completed"
	EventInvoicePaid         EventType = "invoice.paid"
	EventInvoiceFailed       EventType = "invoice.failed"
)

// Known reports whether the engine reacts to events of this type.
func (t EventType) Known() bool {
	switch t {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventCheckoutCompleted, EventInvoicePaid, EventInvoiceFailed:
		return true
	}
	return false
}

// Event is a verified billing delivery. ID is the provider's idempotency key.
type Event struct {
	ID             string
	Type           EventType
	ProviderType   string
	Provider       string
	CustomerID     string
	SubscriptionID string
	OccurredAt     time.Time
	Data           EventData
	Raw            []byte
}

// Known reports whether the engine models this event.
func (e *Event) Known() bool { return e.Type.Known() }

// UserHint returns the user id the provider attached to the event, if any.
func (e *Event) UserHint() string {
	switch d := e.Data.(type) {
	case CheckoutCompleted:
		return d.UserID
	case SubscriptionChanged:
		return d.UserID
	}
	return ""
}

// EventData is the type-specific payload of an Event.
type EventData interface {
	eventData()
}

// SubscriptionChanged accompanies subscription lifecycle events.
type SubscriptionChanged struct {
	Status    Status
	CreatedAt time.Time
	UserID    string
}

// CheckoutCompleted carries the customer to user mapping established at checkout.
type CheckoutCompleted struct {
	UserID string
}

// InvoiceSettled accompanies invoice payment outcomes.
type InvoiceSettled struct {
	InvoiceID string
	Paid      bool
}

func (SubscriptionChanged) eventData() {}
func (CheckoutCompleted) eventData()   {}
func (InvoiceSettled) eventData()      {}

// Provider authenticates webhook deliveries and lists subscriptions.
type Provider interface {
	Name() string
	// SignatureHeader is the HTTP header carrying the delivery signature.
	SignatureHeader() string
	ParseEvent(payload []byte, signature string) (*Event, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)
}

// validate rejects known events that cannot be attributed to a customer.
func (e *Event) validate() error {
	if e.ID == "" {
		return malformed("event id is missing")
	}
	if e.Known() && e.CustomerID == "" {
		return malformed("event %s of type %s has no customer", e.ID, e.ProviderType)
	}
	return nil
}
