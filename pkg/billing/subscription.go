package billing

import (
	"time"

	"github.com/samber/lo"
)

// Status is a provider subscription status.
type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusPaused            Status = "paused"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusUnpaid            Status = "unpaid"
)

// GrantsPremium reports whether a subscription in this status unlocks premium.
func (s Status) GrantsPremium() bool {
	return s == StatusActive || s == StatusTrialing
}

// Subscription is the provider's view of one subscription.
type Subscription struct {
	ID               string
	Status           Status
	CreatedAt        time.Time
	CurrentPeriodEnd *time.Time
}

// HasPremium reports whether any subscription is active or trialing.
func HasPremium(subs []Subscription) bool {
	return lo.SomeBy(subs, func(s Subscription) bool { return s.Status.GrantsPremium() })
}

// Canonical returns the most recently created active or trialing
// subscription. Equal creation times fall back to the greater id so the
// choice does not depend on listing order.
func Canonical(subs []Subscription) (Subscription, bool) {
	granting := lo.Filter(subs, func(s Subscription, _ int) bool { return s.Status.GrantsPremium() })
	if len(granting) == 0 {
		return Subscription{}, false
	}
	return lo.MaxBy(granting, func(a, b Subscription) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID > b.ID
		}
		return a.CreatedAt.After(b.CreatedAt)
	}), true
}
