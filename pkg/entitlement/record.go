package entitlement

import (
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier is the coarse entitlement level derived from subscription status.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

func (t Tier) Valid() bool {
	return t == TierFree || t == TierPremium
}

// TierFor maps the "has an active or trialing subscription" verdict onto a tier.
func TierFor(hasActive bool) Tier {
	if hasActive {
		return TierPremium
	}
	return TierFree
}

// FeatureKey identifies a gated capability.
type FeatureKey string

// Known feature keys.
const (
	FeatureSeeLikedYou       FeatureKey = "seeLikedYou"
	FeatureSuperLikesPerWeek FeatureKey = "superLikesPerWeek"
	FeatureUnlimitedLikes    FeatureKey = "unlimitedLikes"
	FeatureUnlimitedRewinds  FeatureKey = "unlimitedRewinds"
	FeatureDealbreakers      FeatureKey = "dealbreakers"
	FeatureQAVisibilityAll   FeatureKey = "qaVisibilityAll"
	FeatureIntrosMessaging   FeatureKey = "introsMessaging"
	FeatureNoAds             FeatureKey = "noAds"
)

// Limit is the normalized numeric form of a feature flag or quota.
type Limit int64

// Unlimited enables a feature without metering.
const Unlimited Limit = -1

func (l Limit) Enabled() bool     { return l != 0 }
func (l Limit) IsUnlimited() bool { return l == Unlimited }

// Bool returns the legacy boolean form.
func (l Limit) Bool() bool { return l.Enabled() }

func (l Limit) Valid() bool { return l >= 0 || l == Unlimited }

func (l Limit) String() string {
	if l.IsUnlimited() {
		return "unlimited"
	}
	return strconv.FormatInt(int64(l), 10)
}

// LimitFromAny converts legacy representations into a Limit:
// true becomes Unlimited, false and nil become 0, numbers are taken as-is
// and the string "unlimited" maps to Unlimited.
func LimitFromAny(v any) (Limit, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case Limit:
		if !x.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidLimit, x)
		}
		return x, nil
	case bool:
		if x {
			return Unlimited, nil
		}
		return 0, nil
	case int:
		return LimitFromAny(Limit(x))
	case int32:
		return LimitFromAny(Limit(x))
	case int64:
		return LimitFromAny(Limit(x))
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidLimit, x)
		}
		return LimitFromAny(Limit(x))
	case string:
		s := strings.TrimSpace(strings.ToLower(x))
		switch s {
		case "unlimited", "true":
			return Unlimited, nil
		case "", "false":
			return 0, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidLimit, x)
		}
		return LimitFromAny(Limit(n))
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidLimit, v)
	}
}

// UnmarshalYAML accepts booleans, integers and "unlimited".
func (l *Limit) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := LimitFromAny(raw)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Bucket is the usage counter of one feature inside one accounting window.
type Bucket struct {
	Used      int64  `json:"used" bson:"used"`
	WindowKey string `json:"window_key" bson:"window_key"`
}

// Record is the per-user entitlement state.
type Record struct {
	UserID                string                `json:"user_id" bson:"_id"`
	Tier                  Tier                  `json:"tier" bson:"tier"`
	Since                 *time.Time            `json:"since,omitempty" bson:"since,omitempty"`
	Until                 *time.Time            `json:"until,omitempty" bson:"until,omitempty"`
	Features              map[FeatureKey]Limit  `json:"features" bson:"features"`
	Quotas                map[FeatureKey]Bucket `json:"quotas" bson:"quotas"`
	BillingCustomerID     string                `json:"billing_customer_id,omitempty" bson:"billing_customer_id,omitempty"`
	BillingSubscriptionID string                `json:"billing_subscription_id,omitempty" bson:"billing_subscription_id,omitempty"`
	LegacyPremium         bool                  `json:"legacy_premium" bson:"legacy_premium"`
	Stale                 bool                  `json:"stale" bson:"stale"`
	StaleSince            *time.Time            `json:"stale_since,omitempty" bson:"stale_since,omitempty"`
	Version               int64                 `json:"version" bson:"version"`
	CreatedAt             time.Time             `json:"created_at" bson:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at" bson:"updated_at"`
}

// NewRecord returns a free-tier record carrying the catalog's free features.
func NewRecord(userID string, catalog *Catalog, now time.Time) *Record {
	r := &Record{
		UserID:    userID,
		Tier:      TierFree,
		Features:  catalog.Features(TierFree),
		Quotas:    map[FeatureKey]Bucket{},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	return r
}

func (r *Record) IsPremium() bool { return r.Tier == TierPremium }

// Consistent reports whether the legacy flag mirrors the tier.
func (r *Record) Consistent() bool { return r.LegacyPremium == r.IsPremium() }

// Bucket returns the stored usage of key, or a zero bucket.
func (r *Record) Bucket(key FeatureKey) Bucket {
	if r.Quotas == nil {
		return Bucket{}
	}
	return r.Quotas[key]
}

// Clone returns a deep copy safe to mutate.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Features = maps.Clone(r.Features)
	c.Quotas = maps.Clone(r.Quotas)
	if c.Features == nil {
		c.Features = map[FeatureKey]Limit{}
	}
	if c.Quotas == nil {
		c.Quotas = map[FeatureKey]Bucket{}
	}
	c.Since = cloneTime(r.Since)
	c.Until = cloneTime(r.Until)
	c.StaleSince = cloneTime(r.StaleSince)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// NextTier is the tier transition for a subscription verdict. Only
// free->premium and premium->free move; anything else is a self-transition.
func NextTier(current Tier, hasActive bool) (next Tier, changed bool) {
	next = TierFor(hasActive)
	return next, next != current
}
