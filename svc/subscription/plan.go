package subscription

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Plan maps a processor price to the quota it grants.
type Plan struct {
	PriceID string `yaml:"price_id" json:"price_id"`
	Name    string `yaml:"name" json:"name"`
	Quota   int64  `yaml:"quota" json:"quota"` // Unlimited (-1) disables the limit
}

// PlansSource loads plan definitions.
type PlansSource interface {
	Load(ctx context.Context) ([]Plan, error)
}

type inMemSource struct {
	plans []Plan
}

// NewInMemSource returns a Source over a copy of plans.
func NewInMemSource(plans ...Plan) PlansSource {
	return &inMemSource{plans: append([]Plan(nil), plans...)}
}

func (s *inMemSource) Load(context.Context) ([]Plan, error) {
	return append([]Plan(nil), s.plans...), nil
}

type yamlSource struct {
	path string
}

// NewYAMLSource reads plans from a YAML file shaped as:
//
//	plans:
//	  - price_id: price_starter
//	    name: Starter
//	    quota: 5
func NewYAMLSource(path string) PlansSource {
	return &yamlSource{path: path}
}

func (s *yamlSource) Load(context.Context) ([]Plan, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	return doc.Plans, nil
}

// PlanPrices names the processor price ids of the built-in plans.
type PlanPrices struct {
	Starter      string `env:"STRIPE_STARTER_PRICE_ID" envDefault:"price_starter"`
	Professional string `env:"STRIPE_PROFESSIONAL_PRICE_ID" envDefault:"price_professional"`
	Enterprise   string `env:"STRIPE_ENTERPRISE_PRICE_ID" envDefault:"price_enterprise"`
}

// DefaultPlans returns the built-in price table: Starter 5, Professional 20,
// Enterprise unlimited.
func DefaultPlans(p PlanPrices) []Plan {
	return []Plan{
		{PriceID: p.Starter, Name: "Starter", Quota: 5},
		{PriceID: p.Professional, Name: "Professional", Quota: 20},
		{PriceID: p.Enterprise, Name: "Enterprise", Quota: Unlimited},
	}
}

// FallbackRule decides the plan applied to a price missing from the table.
type FallbackRule func(t *PlanTable, priceID string) Plan

// FallbackToLowestTier grants the lowest paid tier to unknown prices, so a
// paying customer on a misconfigured price keeps a working minimum.
func FallbackToLowestTier(t *PlanTable, _ string) Plan {
	return t.Lowest()
}

// PlanTable is the immutable price to plan mapping.
type PlanTable struct {
	mu       sync.RWMutex
	plans    map[string]Plan
	lowest   Plan
	fallback FallbackRule
}

// NewPlanTable loads plans from src and validates them. Every plan needs a
// price id and a quota that is positive or Unlimited.
func NewPlanTable(ctx context.Context, src PlansSource) (*PlanTable, error) {
	plans, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, ErrNoPlans
	}

	t := &PlanTable{plans: make(map[string]Plan, len(plans)), fallback: FallbackToLowestTier}
	for _, p := range plans {
		switch {
		case p.PriceID == "":
			return nil, fmt.Errorf("%w: plan %q has no price id", ErrInvalidPlan, p.Name)
		case p.PriceID == TrialPriceID:
			return nil, fmt.Errorf("%w: price id %q is reserved", ErrInvalidPlan, TrialPriceID)
		case p.Quota == 0 || p.Quota < Unlimited:
			return nil, fmt.Errorf("%w: plan %q has quota %d", ErrInvalidPlan, p.PriceID, p.Quota)
		}
		if _, dup := t.plans[p.PriceID]; dup {
			return nil, fmt.Errorf("%w: duplicate price id %q", ErrInvalidPlan, p.PriceID)
		}
		t.plans[p.PriceID] = p
	}
	t.lowest = lowestTier(plans)
	return t, nil
}

// MustPlanTable is NewPlanTable for static plan lists; it panics on error.
func MustPlanTable(plans ...Plan) *PlanTable {
	t, err := NewPlanTable(context.Background(), NewInMemSource(plans...))
	if err != nil {
		panic(err)
	}
	return t
}

// WithFallback replaces the rule applied to unknown prices.
func (t *PlanTable) WithFallback(rule FallbackRule) *PlanTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rule != nil {
		t.fallback = rule
	}
	return t
}

// Lookup returns the plan for priceID without applying the fallback.
func (t *PlanTable) Lookup(priceID string) (Plan, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.plans[priceID]
	return p, ok
}

// Resolve returns the plan for priceID, applying the fallback rule to
// unknown prices. fallback reports whether the rule was used.
func (t *PlanTable) Resolve(priceID string) (plan Plan, fallback bool) {
	if p, ok := t.Lookup(priceID); ok {
		return p, false
	}
	t.mu.RLock()
	rule := t.fallback
	t.mu.RUnlock()
	return rule(t, priceID), true
}

// Lowest returns the paid plan with the smallest finite quota.
func (t *PlanTable) Lowest() Plan {
	return t.lowest
}

// Plans returns every plan ordered by quota, unlimited last.
func (t *PlanTable) Plans() []Plan {
	t.mu.RLock()
	out := make([]Plan, 0, len(t.plans))
	for _, p := range t.plans {
		out = append(out, p)
	}
	t.mu.RUnlock()
	sortByTier(out)
	return out
}

func lowestTier(plans []Plan) Plan {
	sorted := append([]Plan(nil), plans...)
	sortByTier(sorted)
	return sorted[0]
}

func sortByTier(plans []Plan) {
	rank := func(p Plan) int64 {
		if p.Quota == Unlimited {
			return 1<<62 - 1
		}
		return p.Quota
	}
	sort.SliceStable(plans, func(i, j int) bool {
		if rank(plans[i]) == rank(plans[j]) {
			return plans[i].PriceID < plans[j].PriceID
		}
		return rank(plans[i]) < rank(plans[j])
	})
}
