/*
engine.go - The price determination cascade

PURPOSE:
  Given a course, student, and term, selects the correct pricing policy
  class and returns a priced quote. First match wins:

    1. Senior-project course  -> group-size tier table
    2. Reading/request class  -> (cycle, class-size tier) table
    3. Fixed course override  -> per-course policy, if one is active
    4. Default cycle rate     -> per-cycle policy

  The student's nationality selects the domestic or foreign price column.
  Every lookup uses the term's start date as the pricing date.

FAILURE MODE:
  Steps 1, 2, and 4 are required: a missing policy there is a
  PricingNotFoundError that propagates to the caller. Billing can never
  silently default to zero. Step 3 is optional: absence just falls
  through to the cycle default.

SEE ALSO:
  - policy.go: PolicyStore and the pricing-date rule
  - tier.go: Tier resolution
  - reconcile: Consumes quotes to match payments
*/
package pricing

import (
	"context"
	"fmt"
)

// =============================================================================
// PRICE DETERMINATION ENGINE
// =============================================================================

// Engine resolves the authoritative unit price for a course enrollment.
// It is a pure decision function over the injected stores: callers persist
// the resulting quote themselves.
type Engine struct {
	Policies PolicyStore
	Senior   *SeniorProjectTierResolver
	Reading  *ReadingClassTierResolver
}

func NewEngine(policies PolicyStore, senior *SeniorProjectTierResolver, reading *ReadingClassTierResolver) *Engine {
	return &Engine{Policies: policies, Senior: senior, Reading: reading}
}

// CalculateCoursePrice runs the pricing cascade for one course/student/term.
// classCtx may be nil when the enrollment has no group or reading class.
func (e *Engine) CalculateCoursePrice(ctx context.Context, course Course, student Student, term Term, classCtx *ClassContext) (PriceQuote, error) {
	asOf := term.PricingDate()

	// 1. Senior-project course: priced by group-size tier.
	if course.SeniorProject {
		return e.seniorProjectPrice(ctx, course, student, asOf, classCtx)
	}

	// 2. Reading/request class: priced by (cycle, class-size tier).
	if classCtx != nil && classCtx.ReadingClass && classCtx.ClassID != "" {
		return e.readingClassPrice(ctx, course, student, asOf, classCtx)
	}

	// 3. Fixed per-course override, when one is active.
	override, err := e.Policies.ActiveAt(ctx, CourseRef(course.ID), asOf)
	if err != nil {
		return PriceQuote{}, err
	}
	if override != nil {
		return PriceQuote{
			Amount:      override.PriceFor(student.Nationality).Round2(),
			PriceType:   PriceFixed,
			Description: fmt.Sprintf("fixed price for course %s", course.ID),
		}, nil
	}

	// 4. Default per-cycle rate.
	cycle, err := e.Policies.ActiveAt(ctx, CycleRef(course.CycleID), asOf)
	if err != nil {
		return PriceQuote{}, err
	}
	if cycle == nil {
		return PriceQuote{}, &PricingNotFoundError{
			Dimension: "default cycle",
			Entity:    CycleRef(course.CycleID),
			AsOf:      asOf,
		}
	}
	return PriceQuote{
		Amount:      cycle.PriceFor(student.Nationality).Round2(),
		PriceType:   PriceDefault,
		Description: fmt.Sprintf("%s cycle default rate", course.CycleID),
	}, nil
}

func (e *Engine) seniorProjectPrice(ctx context.Context, course Course, student Student, asOf Date, classCtx *ClassContext) (PriceQuote, error) {
	var group GroupID
	if classCtx != nil {
		group = classCtx.GroupID
	}
	tier, err := e.Senior.ResolveTier(ctx, group)
	if err != nil {
		return PriceQuote{}, err
	}

	policy, err := e.Policies.ActiveAt(ctx, SeniorProjectTierRef(tier), asOf)
	if err != nil {
		return PriceQuote{}, err
	}
	if policy == nil {
		return PriceQuote{}, &PricingNotFoundError{
			Dimension: "senior project tier",
			Entity:    SeniorProjectTierRef(tier),
			AsOf:      asOf,
		}
	}
	return PriceQuote{
		Amount:      policy.PriceFor(student.Nationality).Round2(),
		PriceType:   PriceSeniorProject,
		Description: fmt.Sprintf("senior project, tier %s", tier),
	}, nil
}

func (e *Engine) readingClassPrice(ctx context.Context, course Course, student Student, asOf Date, classCtx *ClassContext) (PriceQuote, error) {
	tier, err := e.Reading.ResolveTier(ctx, student.ID, classCtx.ClassID)
	if err != nil {
		return PriceQuote{}, err
	}

	policy, err := e.Policies.ActiveAt(ctx, ReadingClassTierRef(course.CycleID, tier), asOf)
	if err != nil {
		return PriceQuote{}, err
	}
	if policy == nil {
		return PriceQuote{}, &PricingNotFoundError{
			Dimension: "reading class tier",
			Entity:    ReadingClassTierRef(course.CycleID, tier),
			AsOf:      asOf,
		}
	}
	return PriceQuote{
		Amount:      policy.PriceFor(student.Nationality).Round2(),
		PriceType:   PriceReadingClass,
		Description: fmt.Sprintf("reading class %s, tier %s", classCtx.ClassID, tier),
	}, nil
}

// TierPriceAt looks up a senior-project tier price directly. Used by
// reconciliation when guessing the tier a historical payment was priced
// under.
func (e *Engine) TierPriceAt(ctx context.Context, tier Tier, nationality Nationality, asOf Date) (Money, bool, error) {
	policy, err := e.Policies.ActiveAt(ctx, SeniorProjectTierRef(tier), asOf)
	if err != nil {
		return Money{}, false, err
	}
	if policy == nil {
		return Money{}, false, nil
	}
	return policy.PriceFor(nationality).Round2(), true, nil
}
