package money

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Built-in commission tiers. Hosts move between tiers elsewhere; the claim
// workflow only reads the rate that applies at decision time.
const (
	TierStandard = "standard"
	TierPlus     = "plus"
	TierPremier  = "premier"
)

// DefaultTierRates are the platform rates used when no configuration
// overrides them.
func DefaultTierRates() map[string]string {
	return map[string]string{
		TierStandard: "0.20",
		TierPlus:     "0.15",
		TierPremier:  "0.10",
	}
}

// Tiers resolves a host's commission rate from a static tier table.
type Tiers struct {
	rates       map[string]decimal.Decimal
	hosts       map[string]string
	defaultTier string
}

// NewTiers builds a tier table. rates maps tier name to a decimal rate
// string, hosts maps host id to tier name, and defaultTier applies to any
// host not listed.
func NewTiers(rates map[string]string, hosts map[string]string, defaultTier string) (*Tiers, error) {
	t := &Tiers{
		rates:       make(map[string]decimal.Decimal, len(rates)),
		hosts:       make(map[string]string, len(hosts)),
		defaultTier: defaultTier,
	}
	for name, raw := range rates {
		rate, err := ParseRate(raw)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", name, err)
		}
		t.rates[name] = rate
	}
	if _, ok := t.rates[defaultTier]; !ok {
		return nil, fmt.Errorf("default tier %q has no rate (known: %v)", defaultTier, t.names())
	}
	for host, tier := range hosts {
		if _, ok := t.rates[tier]; !ok {
			return nil, fmt.Errorf("host %s assigned to unknown tier %q", host, tier)
		}
		t.hosts[host] = tier
	}
	return t, nil
}

// FlatRate returns a resolver that charges every host the same rate.
func FlatRate(rate decimal.Decimal) *Tiers {
	return &Tiers{
		rates:       map[string]decimal.Decimal{TierStandard: rate},
		hosts:       map[string]string{},
		defaultTier: TierStandard,
	}
}

// RateFor returns the commission rate for hostID.
func (t *Tiers) RateFor(_ context.Context, hostID string) (decimal.Decimal, error) {
	return t.rates[t.TierOf(hostID)], nil
}

// TierOf reports which tier hostID is on.
func (t *Tiers) TierOf(hostID string) string {
	if tier, ok := t.hosts[hostID]; ok {
		return tier
	}
	return t.defaultTier
}

func (t *Tiers) names() []string {
	names := make([]string, 0, len(t.rates))
	for name := range t.rates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
