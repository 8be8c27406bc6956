// Package catalog holds the immutable table of subscription tiers.
package catalog

import (
	"fmt"
	"sort"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/config"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// PlanDescriptor describes one purchasable tier. Level ranks tiers cheapest first and is
// the only basis for classifying a change as an upgrade or a downgrade.
type PlanDescriptor struct {
	PlanID string          `json:"planId"`
	Name   string          `json:"name"`
	Level  int             `json:"level"`
	Price  decimal.Decimal `json:"price"`
}

// IsUpgradeFrom reports whether moving from current to p raises the tier.
func (p PlanDescriptor) IsUpgradeFrom(current PlanDescriptor) bool {
	return p.Level > current.Level
}

// Catalog is a read-only plan table. It is safe for concurrent use.
type Catalog struct {
	plans []PlanDescriptor
	byID  map[string]PlanDescriptor
}

// New validates plans and builds a catalog ordered by level.
func New(plans ...PlanDescriptor) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("catalog: no plans configured")
	}

	for _, p := range plans {
		if p.PlanID == "" {
			return nil, fmt.Errorf("catalog: plan %q has no plan id", p.Name)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("catalog: plan %q has no name", p.PlanID)
		}
		if p.Level < 1 {
			return nil, fmt.Errorf("catalog: plan %q has non-positive level %d", p.Name, p.Level)
		}
	}
	if dup := lo.FindDuplicatesBy(plans, func(p PlanDescriptor) string { return p.PlanID }); len(dup) > 0 {
		return nil, fmt.Errorf("catalog: duplicate plan id %q", dup[0].PlanID)
	}
	if dup := lo.FindDuplicatesBy(plans, func(p PlanDescriptor) int { return p.Level }); len(dup) > 0 {
		return nil, fmt.Errorf("catalog: duplicate level %d", dup[0].Level)
	}

	sorted := append([]PlanDescriptor(nil), plans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if !prev.Price.IsZero() && !cur.Price.IsZero() && !cur.Price.GreaterThan(prev.Price) {
			return nil, fmt.Errorf("catalog: plan %q (level %d) is not priced above %q (level %d)",
				cur.Name, cur.Level, prev.Name, prev.Level)
		}
	}

	return &Catalog{
		plans: sorted,
		byID:  lo.KeyBy(sorted, func(p PlanDescriptor) string { return p.PlanID }),
	}, nil
}

// FromConfig builds the Starter / Plus / Family Pro table from configured price ids.
// Tiers without a price id are left out.
func FromConfig(cfg config.PlanConfig) (*Catalog, error) {
	candidates := []PlanDescriptor{
		{PlanID: cfg.StarterPriceID, Name: "Starter", Level: 1, Price: decimal.RequireFromString("4.99")},
		{PlanID: cfg.PlusPriceID, Name: "Plus", Level: 2, Price: decimal.RequireFromString("6.99")},
		{PlanID: cfg.FamilyProPriceID, Name: "Family Pro", Level: 3, Price: decimal.RequireFromString("14.99")},
	}

	return New(lo.Filter(candidates, func(p PlanDescriptor, _ int) bool { return p.PlanID != "" })...)
}

// Lookup returns the descriptor for a provider price id.
func (c *Catalog) Lookup(planID string) (PlanDescriptor, bool) {
	p, ok := c.byID[planID]
	return p, ok
}

// Plans returns all descriptors ordered by level.
func (c *Catalog) Plans() []PlanDescriptor {
	return append([]PlanDescriptor(nil), c.plans...)
}

// PlanIDs returns every known plan id ordered by level.
func (c *Catalog) PlanIDs() []string {
	return lo.Map(c.plans, func(p PlanDescriptor, _ int) string { return p.PlanID })
}

// Summary maps plan ids to names for diagnostics.
func (c *Catalog) Summary() map[string]string {
	return lo.SliceToMap(c.plans, func(p PlanDescriptor) (string, string) { return p.PlanID, p.Name })
}
