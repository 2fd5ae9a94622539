package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tuition-engine/pricing"
	"github.com/warp/tuition-engine/pricing/store"
)

func TestParsePolicy(t *testing.T) {
	f := NewPolicyFactory()

	policy, err := f.ParsePolicy(`{
		"id": "ba-default-2024",
		"entity_kind": "cycle",
		"entity_id": "BA",
		"price_domestic": "250.60",
		"price_foreign": "375.90",
		"effective_date": "2024-01-01"
	}`)
	require.NoError(t, err)

	assert.Equal(t, pricing.PolicyID("ba-default-2024"), policy.ID)
	assert.Equal(t, pricing.CycleRef("BA"), policy.Entity)
	assert.Equal(t, "250.60", policy.PriceDomestic.Value.StringFixed(2))
	assert.Equal(t, pricing.CurrencyUSD, policy.Currency, "currency defaults to USD")
	assert.Nil(t, policy.Window.End, "missing end_date leaves the window open")
}

func TestParsePolicy_ClosedWindow(t *testing.T) {
	f := NewPolicyFactory()

	policy, err := f.ParsePolicy(`{
		"entity_kind": "course",
		"entity_id": "chem-lab",
		"price_domestic": "310.00",
		"price_foreign": "465.00",
		"effective_date": "2024-01-01",
		"end_date": "2024-06-30"
	}`)
	require.NoError(t, err)

	assert.NotEmpty(t, policy.ID, "an ID is generated when omitted")
	require.NotNil(t, policy.Window.End)
	assert.Equal(t, "2024-06-30", policy.Window.End.String())
}

func TestParsePolicy_Invalid(t *testing.T) {
	f := NewPolicyFactory()

	cases := []struct {
		name string
		json string
	}{
		{"malformed json", `{`},
		{"missing entity", `{"price_domestic": "1", "price_foreign": "1", "effective_date": "2024-01-01"}`},
		{"bad decimal", `{"entity_kind": "cycle", "entity_id": "BA", "price_domestic": "abc", "price_foreign": "1", "effective_date": "2024-01-01"}`},
		{"bad date", `{"entity_kind": "cycle", "entity_id": "BA", "price_domestic": "1", "price_foreign": "1", "effective_date": "January 1st"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ParsePolicy(tc.json)
			assert.Error(t, err)
		})
	}
}

func TestStandardRates_SeedsCleanly(t *testing.T) {
	// The preset table must satisfy the no-overlap invariant and cover
	// every senior-project tier.

	f := NewPolicyFactory()
	ctx := context.Background()
	ps := store.NewMemoryPolicyStore()

	effective := pricing.NewDate(2024, time.January, 1)
	require.NoError(t, f.Seed(ctx, ps, f.StandardRates(effective)))

	asOf := pricing.NewDate(2024, time.February, 1)
	ba, err := ps.ActiveAt(ctx, pricing.CycleRef(CycleBA), asOf)
	require.NoError(t, err)
	require.NotNil(t, ba)
	assert.Equal(t, "250.60", ba.PriceDomestic.Value.StringFixed(2))
	assert.Equal(t, "375.90", ba.PriceForeign.Value.StringFixed(2), "foreign is 1.5x domestic")

	for _, tier := range pricing.SeniorProjectTiers() {
		p, err := ps.ActiveAt(ctx, pricing.SeniorProjectTierRef(tier), asOf)
		require.NoError(t, err)
		assert.NotNil(t, p, "missing senior-project price for %s", tier)
	}
}

func TestSeed_StopsOnOverlap(t *testing.T) {
	f := NewPolicyFactory()
	ctx := context.Background()
	ps := store.NewMemoryPolicyStore()

	effective := pricing.NewDate(2024, time.January, 1)
	require.NoError(t, f.Seed(ctx, ps, f.StandardRates(effective)))

	// Seeding a second open-ended table over the first must fail.
	err := f.Seed(ctx, ps, f.StandardRates(pricing.NewDate(2024, time.July, 1)))
	assert.ErrorIs(t, err, pricing.ErrOverlappingPolicy)
}
