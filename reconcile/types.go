/*
Package reconcile matches opaque payment amounts against course
enrollments.

PURPOSE:
  Historical payments carry only a total amount - no line items. This
  package consumes a payment plus the student's enrollments for the term
  and runs a cascade of increasingly permissive matching strategies,
  producing a MatchResult with a confidence score and, when a non-zero
  variance is accepted, an Adjustment for the finance team.

KEY CONCEPTS IN THIS FILE (types.go):
  - MatchResult: The single mutable artifact per payment. Created
    UNMATCHED, mutated idempotently by reruns, terminal once
    FULLY_RECONCILED.
  - Adjustment: A recorded correction for an accepted variance, possibly
    requiring human approval.
  - Confidence: 0-100 score banded into NONE/LOW/MEDIUM/HIGH.

LIFECYCLE:
  UNMATCHED -> AUTO_ALLOCATED -> (rerun) -> FULLY_RECONCILED
                              \-> EXCEPTION_ERROR (internal failure,
                                  fault-isolated per payment)

SEE ALSO:
  - service.go: The matching cascade
  - batch.go: Parallel reconciliation of many payments
*/
package reconcile

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/warp/tuition-engine/pricing"
)

// ErrAdjustmentNotFound is returned when approving an unknown adjustment.
var ErrAdjustmentNotFound = errors.New("adjustment not found")

// =============================================================================
// MATCH RESULT
// =============================================================================

type MatchStatus string

const (
	StatusUnmatched       MatchStatus = "UNMATCHED"
	StatusAutoAllocated   MatchStatus = "AUTO_ALLOCATED"
	StatusFullyReconciled MatchStatus = "FULLY_RECONCILED"
	StatusExceptionError  MatchStatus = "EXCEPTION_ERROR"
)

// Terminal reports whether a rerun should leave the result untouched.
// Only FULLY_RECONCILED short-circuits: an EXCEPTION_ERROR is terminal
// for its run but recomputed on the next attempt, since the failure may
// have been transient.
func (s MatchStatus) Terminal() bool { return s == StatusFullyReconciled }

type ConfidenceLevel string

const (
	ConfidenceNone   ConfidenceLevel = "NONE"
	ConfidenceLow    ConfidenceLevel = "LOW"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceHigh   ConfidenceLevel = "HIGH"
)

// LevelForScore bands a 0-100 confidence score.
func LevelForScore(score int) ConfidenceLevel {
	switch {
	case score >= 95:
		return ConfidenceHigh
	case score >= 80:
		return ConfidenceMedium
	case score > 0:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

type PricingMethod string

const (
	MethodDefaultPricing       PricingMethod = "DEFAULT_PRICING"
	MethodFixedPricing         PricingMethod = "FIXED_PRICING"
	MethodSeniorProjectPricing PricingMethod = "SENIOR_PROJECT_PRICING"
	MethodReadingClassPricing  PricingMethod = "READING_CLASS_PRICING"
	MethodHybridMatch          PricingMethod = "HYBRID_MATCH"
)

// methodForPriceType maps a quote's price type to the pricing method
// reported on a match.
func methodForPriceType(pt pricing.PriceType) PricingMethod {
	switch pt {
	case pricing.PriceFixed:
		return MethodFixedPricing
	case pricing.PriceSeniorProject:
		return MethodSeniorProjectPricing
	case pricing.PriceReadingClass:
		return MethodReadingClassPricing
	default:
		return MethodDefaultPricing
	}
}

// MatchResult is the outcome of reconciling one payment. There is exactly
// one per payment; reruns mutate it in place under an optimistic version
// check.
type MatchResult struct {
	ID        string
	PaymentID pricing.PaymentID
	StudentID pricing.StudentID
	TermID    pricing.TermID

	Status          MatchStatus
	ConfidenceScore int
	ConfidenceLevel ConfidenceLevel
	PricingMethod   PricingMethod

	MatchedEnrollments []pricing.EnrollmentID
	VarianceAmount     pricing.Money
	VariancePct        decimal.Decimal
	Notes              string

	ErrorCategory string
	ErrorDetails  string

	// Version guards concurrent writers; bumped on every save.
	Version int
}

// =============================================================================
// ADJUSTMENT
// =============================================================================

type AdjustmentType string

const (
	AdjustmentPricingVariance   AdjustmentType = "PRICING_VARIANCE"
	AdjustmentMissingEnrollment AdjustmentType = "MISSING_ENROLLMENT"
	AdjustmentClericalError     AdjustmentType = "CLERICAL_ERROR"
)

// Adjustment records a correction entry for an accepted non-zero
// variance. Created only when the variance exceeds one cent.
type Adjustment struct {
	ID        string
	PaymentID pricing.PaymentID
	StudentID pricing.StudentID
	TermID    pricing.TermID

	Type             AdjustmentType
	OriginalAmount   pricing.Money // what the enrollments priced to
	AdjustedAmount   pricing.Money // what was actually paid
	Variance         pricing.Money
	RequiresApproval bool
	Approved         bool
	ApprovedBy       string

	Note      string
	CreatedOn pricing.Date
}

// =============================================================================
// STORES
// =============================================================================

// MatchResultStore persists the one mutable match result per payment.
// Get returns (nil, nil) when the payment has never been reconciled.
// Save enforces an optimistic version check and returns
// pricing.ErrConcurrentModification on conflict.
type MatchResultStore interface {
	Get(ctx context.Context, payment pricing.PaymentID) (*MatchResult, error)
	Save(ctx context.Context, result *MatchResult) error
}

// AdjustmentStore persists adjustments. Upsert is keyed by
// (payment, type) so idempotent reruns never create duplicates.
type AdjustmentStore interface {
	Upsert(ctx context.Context, adj Adjustment) error
	ListByPayment(ctx context.Context, payment pricing.PaymentID) ([]Adjustment, error)
	ListPendingApproval(ctx context.Context) ([]Adjustment, error)
	Approve(ctx context.Context, id string, approver string) error
}
