package logger

import (
	"log/slog"
	"time"
)

// Error records err under "error". Nil errors yield an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func stringAttr(key, v string) slog.Attr {
	if v == "" {
		return slog.Attr{}
	}
	return slog.String(key, v)
}

// UserID records the user identifier under "user_id".
func UserID(id string) slog.Attr { return stringAttr("user_id", id) }

// CustomerID records the billing customer identifier under "customer_id".
func CustomerID(id string) slog.Attr { return stringAttr("customer_id", id) }

// SubscriptionID records the billing subscription identifier under "subscription_id".
func SubscriptionID(id string) slog.Attr { return stringAttr("subscription_id", id) }

// EventID records the provider event identifier under "event_id".
func EventID(id string) slog.Attr { return stringAttr("event_id", id) }

// EventType records the event type under "event_type".
func EventType(t string) slog.Attr { return stringAttr("event_type", t) }

// Provider records the billing provider name under "provider".
func Provider(name string) slog.Attr { return stringAttr("provider", name) }

// FeatureKey records the feature key under "feature".
func FeatureKey(key string) slog.Attr { return stringAttr("feature", key) }

// Tier records the entitlement tier under "tier".
func Tier(tier string) slog.Attr { return stringAttr("tier", tier) }

// Outcome records a processing outcome under "outcome".
func Outcome(o string) slog.Attr { return stringAttr("outcome", o) }

// Component records the component name under "component".
func Component(name string) slog.Attr { return slog.String("component", name) }

// Attempt records a retry attempt number under "attempt".
func Attempt(n int) slog.Attr { return slog.Int("attempt", n) }

// Duration records d under "duration".
func Duration(d time.Duration) slog.Attr { return slog.Duration("duration", d) }
