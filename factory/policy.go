/*
Package factory provides JSON to Go pricing-policy conversion and preset
rate tables.

PURPOSE:
  Converts JSON policy definitions into pricing.PricingPolicy values and
  ships the standard tuition rate tables as presets. This enables rate
  configuration without code changes - the finance office can define
  policies in JSON, and the factory creates the proper Go structs.

WHY JSON?
  - Non-developers can modify rate tables
  - Easy integration with admin UI
  - Version control for rate definitions
  - Database storage of policy configs

JSON SCHEMA:
  {
    "id": "ba-default-2024",
    "entity_kind": "CYCLE",
    "entity_id": "BA",
    "price_domestic": "250.60",
    "price_foreign": "375.90",
    "currency": "USD",
    "effective_date": "2024-01-01",
    "end_date": null
  }

PRESETS:
  StandardRates builds the full standard table for an academic year:
  BA/MA cycle defaults, the senior-project tier ladder, and the
  reading-class tier tables for both cycles. Foreign prices are the
  domestic price times a fixed multiplier unless overridden.

USAGE:
  factory := NewPolicyFactory()

  // From JSON
  policy, err := factory.ParsePolicy(jsonString)

  // From presets (dev/demo/tests)
  policies := factory.StandardRates(pricing.NewDate(2024, time.January, 1))
  err := factory.Seed(ctx, store, policies)

SEE ALSO:
  - pricing/policy.go: PricingPolicy type definition
  - cmd/server/main.go: Seeds presets with -seed
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/pricing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a pricing policy.
type PolicyJSON struct {
	ID            string  `json:"id,omitempty"`
	EntityKind    string  `json:"entity_kind"`
	EntityID      string  `json:"entity_id"`
	PriceDomestic string  `json:"price_domestic"`
	PriceForeign  string  `json:"price_foreign"`
	Currency      string  `json:"currency,omitempty"`
	EffectiveDate string  `json:"effective_date"`
	EndDate       *string `json:"end_date,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON configs into domain policies.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy converts a JSON string into a PricingPolicy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (pricing.PricingPolicy, error) {
	var cfg PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		return pricing.PricingPolicy{}, fmt.Errorf("invalid policy JSON: %w", err)
	}
	return f.FromConfig(cfg)
}

// FromConfig converts a parsed config into a PricingPolicy.
func (f *PolicyFactory) FromConfig(cfg PolicyJSON) (pricing.PricingPolicy, error) {
	if cfg.EntityKind == "" || cfg.EntityID == "" {
		return pricing.PricingPolicy{}, fmt.Errorf("entity_kind and entity_id are required")
	}

	currency := pricing.Currency(cfg.Currency)
	if currency == "" {
		currency = pricing.CurrencyUSD
	}

	domestic, err := decimal.NewFromString(cfg.PriceDomestic)
	if err != nil {
		return pricing.PricingPolicy{}, fmt.Errorf("price_domestic %q: %w", cfg.PriceDomestic, err)
	}
	foreign, err := decimal.NewFromString(cfg.PriceForeign)
	if err != nil {
		return pricing.PricingPolicy{}, fmt.Errorf("price_foreign %q: %w", cfg.PriceForeign, err)
	}

	effective, err := pricing.ParseDate(cfg.EffectiveDate)
	if err != nil {
		return pricing.PricingPolicy{}, fmt.Errorf("effective_date %q: %w", cfg.EffectiveDate, err)
	}
	window := pricing.OpenWindow(effective)
	if cfg.EndDate != nil && *cfg.EndDate != "" {
		end, err := pricing.ParseDate(*cfg.EndDate)
		if err != nil {
			return pricing.PricingPolicy{}, fmt.Errorf("end_date %q: %w", *cfg.EndDate, err)
		}
		window.End = &end
	}

	id := pricing.PolicyID(cfg.ID)
	if id == "" {
		id = pricing.PolicyID(uuid.NewString())
	}

	return pricing.PricingPolicy{
		ID:            id,
		Entity:        pricing.EntityRef{Kind: pricing.EntityKind(cfg.EntityKind), ID: cfg.EntityID},
		PriceDomestic: pricing.Money{Value: domestic, Currency: currency},
		PriceForeign:  pricing.Money{Value: foreign, Currency: currency},
		Window:        window,
		Currency:      currency,
	}, nil
}

// =============================================================================
// PRESET RATE TABLES
// =============================================================================

// foreignMultiplier is the default foreign-to-domestic price ratio used by
// the preset tables.
var foreignMultiplier = decimal.NewFromFloat(1.5)

// CycleBA and CycleMA are the standard academic cycles in the preset
// tables.
const (
	CycleBA = "BA"
	CycleMA = "MA"
)

type presetRate struct {
	entity   pricing.EntityRef
	domestic string
}

// StandardRates builds the full standard rate table effective from the
// given date: cycle defaults, the senior-project tier ladder, and the
// reading-class tier tables for both cycles. Foreign prices are the
// domestic price times the standard multiplier.
func (f *PolicyFactory) StandardRates(effective pricing.Date) []pricing.PricingPolicy {
	rates := []presetRate{
		// Per-course cycle defaults.
		{pricing.CycleRef(CycleBA), "250.60"},
		{pricing.CycleRef(CycleMA), "320.00"},

		// Senior-project tiers: each student pays the full per-tier price,
		// smaller groups pay more per head.
		{pricing.SeniorProjectTierRef(pricing.TierOneStudent), "600.00"},
		{pricing.SeniorProjectTierRef(pricing.TierTwoStudents), "450.00"},
		{pricing.SeniorProjectTierRef(pricing.TierThreeFourStudents), "350.00"},
		{pricing.SeniorProjectTierRef(pricing.TierFivePlus), "280.00"},

		// Reading-class tiers, keyed by (cycle, tier).
		{pricing.ReadingClassTierRef(CycleBA, pricing.TierTutorial), "400.00"},
		{pricing.ReadingClassTierRef(CycleBA, pricing.TierSmall), "300.00"},
		{pricing.ReadingClassTierRef(CycleBA, pricing.TierMedium), "250.60"},
		{pricing.ReadingClassTierRef(CycleMA, pricing.TierTutorial), "480.00"},
		{pricing.ReadingClassTierRef(CycleMA, pricing.TierSmall), "380.00"},
		{pricing.ReadingClassTierRef(CycleMA, pricing.TierMedium), "320.00"},
	}

	policies := make([]pricing.PricingPolicy, 0, len(rates))
	for _, r := range rates {
		domestic := decimal.RequireFromString(r.domestic)
		policies = append(policies, pricing.PricingPolicy{
			ID:            pricing.PolicyID(uuid.NewString()),
			Entity:        r.entity,
			PriceDomestic: pricing.Money{Value: domestic, Currency: pricing.CurrencyUSD},
			PriceForeign:  pricing.Money{Value: domestic.Mul(foreignMultiplier).Round(2), Currency: pricing.CurrencyUSD},
			Window:        pricing.OpenWindow(effective),
			Currency:      pricing.CurrencyUSD,
		})
	}
	return policies
}

// Seed saves a set of policies into a store, stopping at the first error.
func (f *PolicyFactory) Seed(ctx context.Context, store pricing.PolicyStore, policies []pricing.PricingPolicy) error {
	for _, p := range policies {
		if err := store.Save(ctx, p); err != nil {
			return fmt.Errorf("seed policy for %s: %w", p.Entity, err)
		}
	}
	return nil
}
