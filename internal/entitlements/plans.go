package entitlements

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roomboard/passledger/internal/config"
)

// Built-in pass types.
const (
	PlanWeekly  = "weekly"
	PlanMonthly = "monthly"
)

// ErrUnknownPlan is returned when neither the plan type nor the item name maps to a plan.
var ErrUnknownPlan = errors.New("unknown plan")

// Plan is one purchasable pass.
type Plan struct {
	Type        string        `json:"plan_type"`
	Duration    time.Duration `json:"-"`
	AmountCents int64         `json:"amount_cents"`
	Currency    string        `json:"currency"`
	ItemName    string        `json:"item_name"`
}

// Days is the pass length in whole days.
func (p Plan) Days() int {
	return int(p.Duration / (24 * time.Hour))
}

// Amount formats the price as a decimal string ("49.00").
func (p Plan) Amount() string {
	return FormatCents(p.AmountCents)
}

// Catalog is the set of plans keyed by lower-case plan type.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog builds a catalog from the plans config section.
func NewCatalog(cfg config.PlansConfig) Catalog {
	c := Catalog{plans: make(map[string]Plan, len(cfg.Catalog))}
	for name, pc := range cfg.Catalog {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		c.plans[key] = Plan{
			Type:        key,
			Duration:    pc.Duration.Duration,
			AmountCents: pc.AmountCents,
			Currency:    cfg.Currency,
			ItemName:    pc.ItemName,
		}
	}
	return c
}

// DefaultCatalog returns the weekly (5 day) and monthly (25 day) passes.
func DefaultCatalog() Catalog {
	return NewCatalog(config.PlansConfig{
		Currency: "ZAR",
		Catalog: map[string]config.PlanConfig{
			PlanWeekly:  {Duration: config.Duration{Duration: 5 * 24 * time.Hour}, AmountCents: 4900, ItemName: "Weekly Pass"},
			PlanMonthly: {Duration: config.Duration{Duration: 25 * 24 * time.Hour}, AmountCents: 14900, ItemName: "Monthly Pass"},
		},
	})
}

// Lookup returns the plan with the given type (case-insensitive).
func (c Catalog) Lookup(planType string) (Plan, bool) {
	p, ok := c.plans[strings.ToLower(strings.TrimSpace(planType))]
	return p, ok
}

// FromItemName maps a gateway item name to a plan, matching either the plan
// type or its configured item name, case-insensitively.
func (c Catalog) FromItemName(itemName string) (Plan, bool) {
	name := strings.ToLower(strings.TrimSpace(itemName))
	if name == "" {
		return Plan{}, false
	}
	if p, ok := c.plans[name]; ok {
		return p, true
	}
	for _, p := range c.plans {
		if strings.ToLower(p.ItemName) == name {
			return p, true
		}
	}
	return Plan{}, false
}

// Resolve picks the plan from an explicit plan type when given, else from the item name.
func (c Catalog) Resolve(planType, itemName string) (Plan, error) {
	if strings.TrimSpace(planType) != "" {
		if p, ok := c.Lookup(planType); ok {
			return p, nil
		}
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, planType)
	}
	if p, ok := c.FromItemName(itemName); ok {
		return p, nil
	}
	return Plan{}, fmt.Errorf("%w: item %q", ErrUnknownPlan, itemName)
}

// Plans returns all plans sorted by duration.
func (c Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Duration == out[j].Duration {
			return out[i].Type < out[j].Type
		}
		return out[i].Duration < out[j].Duration
	})
	return out
}
