/*
materiality.go - Variance tolerances for payment reconciliation

PURPOSE:
  One place for every dollar/percentage tolerance the reconciliation
  cascade uses. The general materiality threshold has always been
  configuration; the cascade tolerances used to be literals scattered
  through the matching code. They are configurable here now, with the
  historical values as defaults, so a finance admin can tighten or relax
  the cascade without a deploy.

THRESHOLD ROLES:
  Materiality          Variance above this requires human approval
  ExactTolerance       |payment - expected| for a full reconcile
  CombinationUnit      How close payment/unit must be to an integer
  CombinationSubset    Allowed gap between subset total and payment
  TierGuess            Allowed gap for a guessed senior-project tier
  VariancePctLimit     Percentage gate for the partial-variance match
  AdjustmentFloor      Variances at or below this create no Adjustment
*/
package pricing

import "github.com/shopspring/decimal"

// =============================================================================
// MATERIALITY THRESHOLD POLICY
// =============================================================================

// Thresholds bundles the materiality threshold with the cascade
// tolerances. Zero values are never meaningful; construct with
// DefaultThresholds and override fields explicitly.
type Thresholds struct {
	// Materiality is the dollar tolerance above which an accepted
	// variance requires human approval.
	Materiality Money

	// ExactTolerance is the absolute gap allowed for an exact match.
	ExactTolerance Money

	// CombinationUnit is how far payment/unitPrice may sit from an
	// integer for the combination match to engage.
	CombinationUnit decimal.Decimal

	// CombinationSubset is the allowed gap between the selected subset's
	// total and the payment.
	CombinationSubset Money

	// TierGuess is the allowed gap between the implied amount and the
	// closest senior-project tier price.
	TierGuess Money

	// VariancePctLimit is the percentage gate for the partial-variance
	// match (accept when variance% is at or below it).
	VariancePctLimit decimal.Decimal

	// AdjustmentFloor is the variance below which no Adjustment is
	// recorded (one cent).
	AdjustmentFloor Money
}

// DefaultThresholds returns the historical tolerances: $1 exact, 0.1
// combination unit, $5 subset, $10 tier guess, 10% variance gate, $0.01
// adjustment floor, $20 materiality.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Materiality:       NewMoney(20, CurrencyUSD),
		ExactTolerance:    NewMoney(1, CurrencyUSD),
		CombinationUnit:   decimal.NewFromFloat(0.1),
		CombinationSubset: NewMoney(5, CurrencyUSD),
		TierGuess:         NewMoney(10, CurrencyUSD),
		VariancePctLimit:  decimal.NewFromInt(10),
		AdjustmentFloor:   NewMoney(0.01, CurrencyUSD),
	}
}

// RequiresApproval reports whether an accepted variance is above the
// materiality threshold.
func (t Thresholds) RequiresApproval(variance Money) bool {
	return variance.Abs().GreaterThan(t.Materiality)
}
