package subscription_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

func TestPlanTable(t *testing.T) {
	t.Parallel()
	plans := testPlans()

	p, ok := plans.Lookup("price_professional")
	require.True(t, ok)
	assert.Equal(t, int64(20), p.Quota)

	_, ok = plans.Lookup("price_unknown")
	assert.False(t, ok)

	p, fallback := plans.Resolve("price_unknown")
	assert.True(t, fallback)
	assert.Equal(t, "price_starter", p.PriceID, "unknown prices get the lowest tier")

	p, fallback = plans.Resolve("price_enterprise")
	assert.False(t, fallback)
	assert.Equal(t, subscription.Unlimited, p.Quota)

	assert.Equal(t, "price_starter", plans.Lowest().PriceID)

	ordered := plans.Plans()
	require.Len(t, ordered, 3)
	assert.Equal(t, []string{"price_starter", "price_professional", "price_enterprise"},
		[]string{ordered[0].PriceID, ordered[1].PriceID, ordered[2].PriceID})
}

func TestPlanTableCustomFallback(t *testing.T) {
	t.Parallel()
	plans := testPlans().WithFallback(func(*subscription.PlanTable, string) subscription.Plan {
		return subscription.Plan{PriceID: "none", Quota: 1}
	})
	p, fallback := plans.Resolve("price_unknown")
	assert.True(t, fallback)
	assert.Equal(t, int64(1), p.Quota)
}

func TestNewPlanTableValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		plans []subscription.Plan
		err   error
	}{
		{"empty", nil, subscription.ErrNoPlans},
		{"missing price", []subscription.Plan{{Name: "x", Quota: 1}}, subscription.ErrInvalidPlan},
		{"reserved trial price", []subscription.Plan{{PriceID: "trial", Quota: 1}}, subscription.ErrInvalidPlan},
		{"zero quota", []subscription.Plan{{PriceID: "p", Quota: 0}}, subscription.ErrInvalidPlan},
		{"negative quota", []subscription.Plan{{PriceID: "p", Quota: -2}}, subscription.ErrInvalidPlan},
		{"duplicate", []subscription.Plan{{PriceID: "p", Quota: 1}, {PriceID: "p", Quota: 2}}, subscription.ErrInvalidPlan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := subscription.NewPlanTable(context.Background(), subscription.NewInMemSource(tt.plans...))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestYAMLSource(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`plans:
  - price_id: price_small
    name: Small
    quota: 3
  - price_id: price_big
    name: Big
    quota: -1
`), 0o600))

	plans, err := subscription.NewPlanTable(context.Background(), subscription.NewYAMLSource(path))
	require.NoError(t, err)
	assert.Equal(t, "price_small", plans.Lowest().PriceID)
	p, ok := plans.Lookup("price_big")
	require.True(t, ok)
	assert.Equal(t, "Big", p.Name)

	t.Run("missing file", func(t *testing.T) {
		_, err := subscription.NewPlanTable(context.Background(), subscription.NewYAMLSource(filepath.Join(dir, "nope.yaml")))
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("plans: [\n"), 0o600))
		_, err := subscription.NewPlanTable(context.Background(), subscription.NewYAMLSource(bad))
		assert.ErrorIs(t, err, subscription.ErrInvalidPlan)
	})
}
