package entitlement

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultSuperLikesPerWeek is the premium weekly super-like allowance.
const DefaultSuperLikesPerWeek Limit = 3

// Catalog describes which features each tier unlocks.
// Window is the default accounting period; Windows pins individual features
// to their own period. PremiumFallback supplies limits for premium users
// whose record does not carry the feature yet (records written before the
// feature existed).
type Catalog struct {
	Window          Period                        `yaml:"window"`
	Windows         map[FeatureKey]Period         `yaml:"windows"`
	Tiers           map[Tier]map[FeatureKey]Limit `yaml:"tiers"`
	PremiumFallback map[FeatureKey]Limit          `yaml:"premium_fallback"`
}

// DefaultCatalog returns the built-in free and premium feature sets.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Window:  PeriodWeekly,
		Windows: builtinWindows(),
		Tiers: map[Tier]map[FeatureKey]Limit{
			TierFree: {
				FeatureSeeLikedYou:       0,
				FeatureSuperLikesPerWeek: 1,
				FeatureUnlimitedLikes:    0,
				FeatureUnlimitedRewinds:  0,
				FeatureDealbreakers:      0,
				FeatureQAVisibilityAll:   Unlimited,
				FeatureIntrosMessaging:   0,
				FeatureNoAds:             0,
			},
			TierPremium: {
				FeatureSeeLikedYou:       Unlimited,
				FeatureSuperLikesPerWeek: DefaultSuperLikesPerWeek,
				FeatureUnlimitedLikes:    Unlimited,
				FeatureUnlimitedRewinds:  Unlimited,
				FeatureDealbreakers:      Unlimited,
				FeatureQAVisibilityAll:   Unlimited,
				FeatureIntrosMessaging:   Unlimited,
				FeatureNoAds:             Unlimited,
			},
		},
		PremiumFallback: map[FeatureKey]Limit{
			FeatureSuperLikesPerWeek: DefaultSuperLikesPerWeek,
		},
	}
}

// LoadCatalog decodes a YAML catalog. Limits accept true/false, integers and
// "unlimited".
//
//	window: weekly
//	windows:
//	  introsMessaging: daily
//	tiers:
//	  free:
//	    superLikesPerWeek: 1
//	  premium:
//	    superLikesPerWeek: 3
//	    seeLikedYou: true
//	premium_fallback:
//	  superLikesPerWeek: 3
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, errors.Join(ErrFailedToLoad, err)
	}
	if c.Window == "" {
		c.Window = PeriodWeekly
	}
	if c.Windows == nil {
		c.Windows = map[FeatureKey]Period{}
	}
	for key, p := range builtinWindows() {
		if _, ok := c.Windows[key]; !ok {
			c.Windows[key] = p
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadCatalogFile reads a YAML catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoad, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

func (c *Catalog) Validate() error {
	if _, err := c.Window.Window(); err != nil {
		return errors.Join(ErrInvalidCatalog, err)
	}
	for key, p := range c.Windows {
		if _, err := p.Window(); err != nil {
			return fmt.Errorf("%w: window of %s: %w", ErrInvalidCatalog, key, err)
		}
	}
	if len(c.Tiers[TierPremium]) == 0 {
		return fmt.Errorf("%w: premium tier has no features", ErrInvalidCatalog)
	}
	for tier, features := range c.Tiers {
		if !tier.Valid() {
			return fmt.Errorf("%w: %w %q", ErrInvalidCatalog, ErrInvalidTier, tier)
		}
		for key, l := range features {
			if !l.Valid() {
				return fmt.Errorf("%w: %s.%s: %w", ErrInvalidCatalog, tier, key, ErrInvalidLimit)
			}
		}
	}
	for key, l := range c.PremiumFallback {
		if !l.Valid() {
			return fmt.Errorf("%w: fallback %s: %w", ErrInvalidCatalog, key, ErrInvalidLimit)
		}
	}
	return nil
}

// builtinWindows pins features whose name states their period, so a
// catalog-wide window change never alters them.
func builtinWindows() map[FeatureKey]Period {
	return map[FeatureKey]Period{
		FeatureSuperLikesPerWeek: PeriodWeekly,
	}
}

// WindowFor returns the accounting window of key. Features without their
// own period use the catalog-wide one.
func (c *Catalog) WindowFor(key FeatureKey) Window {
	if p, ok := c.Windows[key]; ok {
		if w, err := p.Window(); err == nil {
			return w
		}
	}
	if w, err := c.Window.Window(); err == nil {
		return w
	}
	return Weekly
}

// Features returns a copy of the feature set for tier.
func (c *Catalog) Features(tier Tier) map[FeatureKey]Limit {
	out := maps.Clone(c.Tiers[tier])
	if out == nil {
		out = map[FeatureKey]Limit{}
	}
	return out
}

// PremiumGated reports whether premium grants more of key than free does.
func (c *Catalog) PremiumGated(key FeatureKey) bool {
	if _, ok := c.PremiumFallback[key]; ok {
		return true
	}
	p := c.Tiers[TierPremium][key]
	return p.Enabled() && p != c.Tiers[TierFree][key]
}

// Fallback returns the premium fallback for key, or the premium tier's
// catalog value when no explicit fallback exists.
func (c *Catalog) Fallback(key FeatureKey) (Limit, bool) {
	if l, ok := c.PremiumFallback[key]; ok {
		return l, true
	}
	l, ok := c.Tiers[TierPremium][key]
	return l, ok
}

// Resolve returns the effective limit of key for r: the record's own value,
// then the premium fallback for premium-gated features, then 0.
func (c *Catalog) Resolve(r *Record, key FeatureKey) Limit {
	if l, ok := r.Features[key]; ok {
		return l
	}
	if r.IsPremium() && c.PremiumGated(key) {
		if l, ok := c.Fallback(key); ok {
			return l
		}
	}
	return 0
}
