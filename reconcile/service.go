/*
service.go - The payment reconciliation state machine

PURPOSE:
  Reconciles one payment against the student's enrollments for the term.
  Runs a cascade of matching strategies from strict to permissive and
  persists the resulting MatchResult (plus an Adjustment when a non-zero
  variance is accepted).

CASCADE (first success wins):
  1. Short-circuit:   FULLY_RECONCILED results are returned unchanged
  2. Zero/dropped:    $0 payment, only dropped enrollments -> reconciled
  3. Exact match:     |payment - expected| within the exact tolerance
  4. Combination:     payment is N x the default unit price, subset match
  5. Tier guess:      implied amount matches a senior-project tier price
  6. Variance:        within materiality or the percentage gate
  7. No match:        UNMATCHED with the reason noted

FAULT ISOLATION:
  Any unexpected internal failure (lookup error, pricing error, panic)
  is converted to an EXCEPTION_ERROR result instead of propagating, so a
  batch over many payments never dies on one bad record. Only failures
  to persist the result itself surface as errors.

IDEMPOTENCY:
  Rerunning a payment recomputes from immutable inputs and overwrites the
  same MatchResult row under an optimistic version check (retried once on
  conflict). Adjustments are upserted by (payment, type), so reruns never
  duplicate them.

SEE ALSO:
  - strategies.go: The individual matching strategies
  - batch.go: Worker-pool batch runs
*/
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/tuition-engine/pricing"
)

// =============================================================================
// RECONCILIATION SERVICE
// =============================================================================

type Service struct {
	Engine      *pricing.Engine
	Directory   pricing.AcademicDirectory
	Results     MatchResultStore
	Adjustments AdjustmentStore
	Thresholds  pricing.Thresholds
	Log         *logrus.Logger
}

func NewService(engine *pricing.Engine, directory pricing.AcademicDirectory, results MatchResultStore, adjustments AdjustmentStore, thresholds pricing.Thresholds, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		Engine:      engine,
		Directory:   directory,
		Results:     results,
		Adjustments: adjustments,
		Thresholds:  thresholds,
		Log:         log,
	}
}

// pricedEnrollment pairs an active enrollment with its resolved quote.
type pricedEnrollment struct {
	Enrollment pricing.Enrollment
	Course     pricing.Course
	Quote      pricing.PriceQuote
}

// matchInput is everything the strategies see: the payment, the priced
// active enrollments, the dropped ones, and the expected total.
type matchInput struct {
	Payment  pricing.Payment
	Student  pricing.Student
	Term     pricing.Term
	Active   []pricedEnrollment
	Dropped  []pricing.Enrollment
	Expected pricing.Money
}

// outcome is a strategy's verdict, folded into the MatchResult.
type outcome struct {
	Status      MatchStatus
	Confidence  int
	Method      PricingMethod
	Matched     []pricing.EnrollmentID
	Variance    pricing.Money
	VariancePct decimal.Decimal
	Notes       string
}

// ReconcilePayment runs the cascade for one payment and persists the
// result. The returned MatchResult reflects what was stored.
func (s *Service) ReconcilePayment(ctx context.Context, payment pricing.Payment) (*MatchResult, error) {
	// 1. Short-circuit: terminal results are never redone.
	existing, err := s.Results.Get(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status.Terminal() {
		return existing, nil
	}

	result := s.baseResult(existing, payment)

	oc := s.runCascade(ctx, payment, result)
	result.Status = oc.Status
	result.ConfidenceScore = oc.Confidence
	result.ConfidenceLevel = LevelForScore(oc.Confidence)
	result.PricingMethod = oc.Method
	result.MatchedEnrollments = oc.Matched
	result.VarianceAmount = oc.Variance
	result.VariancePct = oc.VariancePct
	result.Notes = oc.Notes

	if err := s.saveResult(ctx, result); err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"payment":    payment.ID,
		"status":     result.Status,
		"confidence": result.ConfidenceScore,
		"method":     result.PricingMethod,
		"variance":   result.VarianceAmount.String(),
	}).Info("payment reconciled")

	return result, nil
}

// runCascade executes strategies 2-7 with per-payment fault isolation:
// any error or panic becomes an EXCEPTION_ERROR outcome.
func (s *Service) runCascade(ctx context.Context, payment pricing.Payment, result *MatchResult) (oc outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.WithField("payment", payment.ID).Errorf("reconciliation panic: %v", r)
			result.ErrorCategory = "internal_panic"
			result.ErrorDetails = fmt.Sprintf("%v", r)
			oc = exceptionOutcome("internal_panic", fmt.Sprintf("%v", r), payment)
		}
	}()

	in, err := s.gather(ctx, payment)
	if err != nil {
		category := "directory_lookup"
		if errors.Is(err, pricing.ErrPricingNotFound) {
			category = "pricing_not_found"
		}
		result.ErrorCategory = category
		result.ErrorDetails = err.Error()
		return exceptionOutcome(category, err.Error(), payment)
	}
	result.StudentID = in.Student.ID
	result.TermID = in.Term.ID
	result.ErrorCategory = ""
	result.ErrorDetails = ""

	// 2. Zero-payment / all-dropped match.
	if oc, ok := s.matchZeroDropped(in); ok {
		return oc
	}
	// 3. Exact match.
	if oc, ok := s.matchExact(in); ok {
		return oc
	}
	// 4. Combination match.
	if oc, ok := s.matchCombination(in); ok {
		s.recordAdjustment(ctx, in, oc)
		return oc
	}
	// 5. Senior-project tier guess.
	oc, ok, err := s.matchTierGuess(ctx, in)
	if err != nil {
		result.ErrorCategory = "tier_lookup"
		result.ErrorDetails = err.Error()
		return exceptionOutcome("tier_lookup", err.Error(), payment)
	}
	if ok {
		s.recordAdjustment(ctx, in, oc)
		return oc
	}
	// 6. Partial/variance match.
	if oc, ok := s.matchVariance(in); ok {
		s.recordAdjustment(ctx, in, oc)
		return oc
	}
	// 7. No match.
	return s.noMatch(in)
}

// gather loads the registrar records and prices every active enrollment.
func (s *Service) gather(ctx context.Context, payment pricing.Payment) (matchInput, error) {
	student, err := s.Directory.Student(ctx, payment.StudentID)
	if err != nil {
		return matchInput{}, err
	}
	term, err := s.Directory.Term(ctx, payment.TermID)
	if err != nil {
		return matchInput{}, err
	}
	enrollments, err := s.Directory.ListEnrollments(ctx, payment.StudentID, payment.TermID, true)
	if err != nil {
		return matchInput{}, err
	}

	in := matchInput{
		Payment:  payment,
		Student:  student,
		Term:     term,
		Expected: payment.Amount.Zero(),
	}
	for _, e := range enrollments {
		if e.Dropped() {
			in.Dropped = append(in.Dropped, e)
			continue
		}
		course, err := s.Directory.Course(ctx, e.CourseID)
		if err != nil {
			return matchInput{}, err
		}
		quote, err := s.Engine.CalculateCoursePrice(ctx, course, student, term, pricing.ClassContextFor(e))
		if err != nil {
			return matchInput{}, err
		}
		in.Active = append(in.Active, pricedEnrollment{Enrollment: e, Course: course, Quote: quote})
		in.Expected = in.Expected.Add(quote.Amount)
	}
	in.Expected = in.Expected.Round2()
	return in, nil
}

// baseResult reuses the stored row for idempotent mutation, or starts a
// fresh UNMATCHED one on the first attempt.
func (s *Service) baseResult(existing *MatchResult, payment pricing.Payment) *MatchResult {
	if existing != nil {
		return existing
	}
	return &MatchResult{
		ID:        uuid.NewString(),
		PaymentID: payment.ID,
		StudentID: payment.StudentID,
		TermID:    payment.TermID,
		Status:    StatusUnmatched,
	}
}

// saveResult persists under the optimistic version check, retried once on
// conflict with a fresh read.
func (s *Service) saveResult(ctx context.Context, result *MatchResult) error {
	err := s.Results.Save(ctx, result)
	if !errors.Is(err, pricing.ErrConcurrentModification) {
		return err
	}

	fresh, getErr := s.Results.Get(ctx, result.PaymentID)
	if getErr != nil {
		return getErr
	}
	if fresh != nil {
		if fresh.Status.Terminal() {
			// A concurrent run finished the payment; keep its result.
			*result = *fresh
			return nil
		}
		result.Version = fresh.Version
	}
	return s.Results.Save(ctx, result)
}

// recordAdjustment creates (or idempotently refreshes) the Adjustment for
// an accepted non-exact variance.
func (s *Service) recordAdjustment(ctx context.Context, in matchInput, oc outcome) {
	if !oc.Variance.Abs().GreaterThan(s.Thresholds.AdjustmentFloor) {
		return
	}

	adjType := AdjustmentClericalError
	switch {
	case oc.VariancePct.LessThanOrEqual(decimal.NewFromInt(2)):
		adjType = AdjustmentPricingVariance
	case len(in.Dropped) > 0:
		adjType = AdjustmentMissingEnrollment
	}

	adj := Adjustment{
		ID:               uuid.NewString(),
		PaymentID:        in.Payment.ID,
		StudentID:        in.Student.ID,
		TermID:           in.Term.ID,
		Type:             adjType,
		OriginalAmount:   in.Expected,
		AdjustedAmount:   in.Payment.Amount,
		Variance:         oc.Variance,
		RequiresApproval: s.Thresholds.RequiresApproval(oc.Variance),
		Note:             oc.Notes,
		CreatedOn:        pricing.Today(),
	}
	if err := s.Adjustments.Upsert(ctx, adj); err != nil {
		s.Log.WithField("payment", in.Payment.ID).Warnf("adjustment upsert failed: %v", err)
	}
}

func exceptionOutcome(category, details string, payment pricing.Payment) outcome {
	return outcome{
		Status:     StatusExceptionError,
		Confidence: 0,
		Notes:      fmt.Sprintf("reconciliation failed (%s) for payment %s: %s", category, payment.ID, details),
	}
}
