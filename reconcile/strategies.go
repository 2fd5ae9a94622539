/*
strategies.go - The individual matching strategies

PURPOSE:
  Each strategy inspects the priced enrollments against the opaque
  payment amount and either claims the match (returning its outcome) or
  passes. The service runs them strict-to-permissive; confidence drops as
  the strategies get looser.

STRATEGY NOTES:
  Zero/dropped   A $0 payment against a term where every course was
                 dropped is a complete, correct reconciliation.
  Exact          The whole enrollment set within the exact tolerance.
  Combination    Historical payments often cover a round number of
                 default-priced courses ("paid for 2 of 3"). If the
                 payment divides cleanly by the default unit price,
                 allocate it to that many enrollments.
  Tier guess     Senior-project tiers changed with group membership, so a
                 payment may reflect a tier other than today's roster.
                 Subtract everything else from the payment and see which
                 tier price the remainder lands on.
  Variance       Accept the full set with a recorded variance when it is
                 immaterial or within the percentage gate.
*/
package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/pricing"
)

// =============================================================================
// STRATEGY 2: ZERO PAYMENT / ALL DROPPED
// =============================================================================

func (s *Service) matchZeroDropped(in matchInput) (outcome, bool) {
	if !in.Payment.Amount.IsZero() || len(in.Active) > 0 || len(in.Dropped) == 0 {
		return outcome{}, false
	}
	return outcome{
		Status:     StatusFullyReconciled,
		Confidence: 100,
		Method:     MethodDefaultPricing,
		Variance:   in.Payment.Amount.Zero(),
		Notes:      "all courses dropped",
	}, true
}

// =============================================================================
// STRATEGY 3: EXACT MATCH
// =============================================================================

func (s *Service) matchExact(in matchInput) (outcome, bool) {
	if len(in.Active) == 0 {
		return outcome{}, false
	}
	variance := in.Payment.Amount.Sub(in.Expected).Abs().Round2()
	if variance.GreaterThan(s.Thresholds.ExactTolerance) {
		return outcome{}, false
	}
	return outcome{
		Status:      StatusFullyReconciled,
		Confidence:  100,
		Method:      overallMethod(in.Active),
		Matched:     enrollmentIDs(in.Active),
		Variance:    variance,
		VariancePct: percentageOf(variance, in.Expected),
		Notes:       fmt.Sprintf("exact match: %d enrollments totaling %s", len(in.Active), in.Expected),
	}, true
}

// =============================================================================
// STRATEGY 4: COMBINATION MATCH
// =============================================================================

// matchCombination tests whether the payment is an integer multiple of
// the default unit price and, if so, allocates it to that many
// enrollments (preferring DEFAULT, then FIXED, then READING_CLASS).
func (s *Service) matchCombination(in matchInput) (outcome, bool) {
	unit := defaultUnitPrice(in.Active)
	if unit == nil || unit.IsZero() || !in.Payment.Amount.IsPositive() {
		return outcome{}, false
	}

	ratio := in.Payment.Amount.Value.Div(unit.Value)
	n := ratio.Round(0)
	if ratio.Sub(n).Abs().GreaterThan(s.Thresholds.CombinationUnit) {
		return outcome{}, false
	}
	count := int(n.IntPart())
	if count < 1 || count > len(in.Active) {
		return outcome{}, false
	}

	subset := selectByPreference(in.Active, count)
	total := in.Payment.Amount.Zero()
	for _, pe := range subset {
		total = total.Add(pe.Quote.Amount)
	}
	variance := in.Payment.Amount.Sub(total).Abs().Round2()
	if variance.GreaterThan(s.Thresholds.CombinationSubset) {
		return outcome{}, false
	}

	return outcome{
		Status:      StatusAutoAllocated,
		Confidence:  90,
		Method:      overallMethod(subset),
		Matched:     enrollmentIDs(subset),
		Variance:    variance,
		VariancePct: percentageOf(variance, total),
		Notes: fmt.Sprintf("combination match: %d of %d enrollments at unit price %s",
			count, len(in.Active), unit),
	}, true
}

// defaultUnitPrice returns the unit price of the DEFAULT-type enrollments,
// or nil when there are none.
func defaultUnitPrice(active []pricedEnrollment) *pricing.Money {
	for _, pe := range active {
		if pe.Quote.PriceType == pricing.PriceDefault {
			m := pe.Quote.Amount
			return &m
		}
	}
	return nil
}

// combinationRank orders price types for subset selection.
func combinationRank(pt pricing.PriceType) int {
	switch pt {
	case pricing.PriceDefault:
		return 0
	case pricing.PriceFixed:
		return 1
	case pricing.PriceReadingClass:
		return 2
	default:
		return 3
	}
}

func selectByPreference(active []pricedEnrollment, count int) []pricedEnrollment {
	ordered := make([]pricedEnrollment, len(active))
	copy(ordered, active)
	sort.SliceStable(ordered, func(i, j int) bool {
		return combinationRank(ordered[i].Quote.PriceType) < combinationRank(ordered[j].Quote.PriceType)
	})
	return ordered[:count]
}

// =============================================================================
// STRATEGY 5: SENIOR-PROJECT TIER GUESS
// =============================================================================

type tierCandidate struct {
	Enrollment pricing.EnrollmentID
	Tier       pricing.Tier
	Price      pricing.Money
	Diff       pricing.Money
}

// matchTierGuess handles payments priced under a senior-project tier that
// no longer matches the group roster. For each senior-project enrollment,
// the amount implied by the payment (payment minus everything else) is
// compared against every tier price; the minimal-variance candidate wins
// if it is within the tier-guess tolerance.
func (s *Service) matchTierGuess(ctx context.Context, in matchInput) (outcome, bool, error) {
	var best *tierCandidate
	asOf := in.Term.PricingDate()

	for _, pe := range in.Active {
		if !pe.Course.SeniorProject {
			continue
		}
		implied := in.Payment.Amount.Sub(in.Expected.Sub(pe.Quote.Amount))

		for _, tier := range pricing.SeniorProjectTiers() {
			price, ok, err := s.Engine.TierPriceAt(ctx, tier, in.Student.Nationality, asOf)
			if err != nil {
				return outcome{}, false, err
			}
			if !ok {
				continue
			}
			diff := implied.Sub(price).Abs().Round2()
			if best == nil || diff.LessThan(best.Diff) {
				best = &tierCandidate{
					Enrollment: pe.Enrollment.ID,
					Tier:       tier,
					Price:      price,
					Diff:       diff,
				}
			}
		}
	}

	if best == nil || best.Diff.GreaterThan(s.Thresholds.TierGuess) {
		return outcome{}, false, nil
	}

	return outcome{
		Status:      StatusAutoAllocated,
		Confidence:  tierGuessConfidence(best.Diff),
		Method:      MethodSeniorProjectPricing,
		Matched:     enrollmentIDs(in.Active),
		Variance:    best.Diff,
		VariancePct: percentageOf(best.Diff, in.Payment.Amount),
		Notes: fmt.Sprintf("tier guess: enrollment %s priced as %s (%s), variance %s",
			best.Enrollment, best.Tier, best.Price, best.Diff),
	}, true, nil
}

// tierGuessConfidence scores a tier guess by how close the implied amount
// landed on the tier price.
func tierGuessConfidence(diff pricing.Money) int {
	switch {
	case diff.LessThanOrEqual(pricing.NewMoney(1, diff.Currency)):
		return 90
	case diff.LessThanOrEqual(pricing.NewMoney(5, diff.Currency)):
		return 80
	default:
		return 70
	}
}

// =============================================================================
// STRATEGY 6: PARTIAL / VARIANCE MATCH
// =============================================================================

func (s *Service) matchVariance(in matchInput) (outcome, bool) {
	if len(in.Active) == 0 || !in.Expected.IsPositive() {
		return outcome{}, false
	}

	variance := in.Payment.Amount.Sub(in.Expected).Abs().Round2()
	pct := percentageOf(variance, in.Expected)

	withinMateriality := variance.LessThanOrEqual(s.Thresholds.Materiality)
	withinPct := pct.LessThanOrEqual(s.Thresholds.VariancePctLimit)
	if !withinMateriality && !withinPct {
		return outcome{}, false
	}

	return outcome{
		Status:      StatusAutoAllocated,
		Confidence:  varianceConfidence(pct),
		Method:      overallMethod(in.Active),
		Matched:     enrollmentIDs(in.Active),
		Variance:    variance,
		VariancePct: pct,
		Notes: fmt.Sprintf("variance match: paid %s against expected %s (%s%%)",
			in.Payment.Amount, in.Expected, pct.StringFixed(2)),
	}, true
}

// varianceConfidence bands the variance percentage: 2% -> 95, 5% -> 85,
// 10% -> 75, anything looser accepted only via materiality -> 60.
func varianceConfidence(pct decimal.Decimal) int {
	switch {
	case pct.LessThanOrEqual(decimal.NewFromInt(2)):
		return 95
	case pct.LessThanOrEqual(decimal.NewFromInt(5)):
		return 85
	case pct.LessThanOrEqual(decimal.NewFromInt(10)):
		return 75
	default:
		return 60
	}
}

// =============================================================================
// STRATEGY 7: NO MATCH
// =============================================================================

func (s *Service) noMatch(in matchInput) outcome {
	note := "no matching combination found"
	if len(in.Active) == 0 && len(in.Dropped) == 0 {
		note = "no enrollments found"
	}
	return outcome{
		Status:      StatusUnmatched,
		Confidence:  0,
		Variance:    in.Payment.Amount.Sub(in.Expected).Abs().Round2(),
		VariancePct: percentageOf(in.Payment.Amount.Sub(in.Expected).Abs(), in.Expected),
		Notes:       note,
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// overallMethod reports the single pricing method when all quotes share
// one price type, HYBRID_MATCH otherwise.
func overallMethod(priced []pricedEnrollment) PricingMethod {
	if len(priced) == 0 {
		return MethodDefaultPricing
	}
	first := priced[0].Quote.PriceType
	for _, pe := range priced[1:] {
		if pe.Quote.PriceType != first {
			return MethodHybridMatch
		}
	}
	return methodForPriceType(first)
}

func enrollmentIDs(priced []pricedEnrollment) []pricing.EnrollmentID {
	ids := make([]pricing.EnrollmentID, 0, len(priced))
	for _, pe := range priced {
		ids = append(ids, pe.Enrollment.ID)
	}
	return ids
}

// percentageOf returns |part| as a percentage of base, zero when base is
// not positive.
func percentageOf(part, base pricing.Money) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return part.Value.Abs().Div(base.Value).Mul(decimal.NewFromInt(100)).Round(4)
}
