/*
errors.go - Centralized error types for the pricing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The reconcile package wraps these errors with reconciliation context.

ERROR CATEGORIES:
  1. Pricing errors - No applicable policy at a required cascade step
  2. Configuration errors - Overlapping policy windows, rejected at write
  3. Store errors - Persistence-level failures, concurrency conflicts

PROPAGATION RULES:
  - ErrPricingNotFound MUST propagate to the caller. Billing cannot
    silently default to zero when no policy exists.
  - ErrOverlappingPolicy is raised at configuration-write time, before
    anything is persisted.
  - Expected absence (e.g., no fixed-price override for a course) is NOT
    an error: stores return a nil policy and the cascade moves on.

USAGE:
  Callers branch with errors.Is():

    if errors.Is(err, pricing.ErrPricingNotFound) {
        // block invoice generation, surface the missing dimension
    }

SEE ALSO:
  - engine.go: Raises PricingNotFoundError
  - policy.go: Raises OverlappingPolicyError
*/
package pricing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPricingNotFound is returned when no policy exists at a required
	// cascade step. Always propagates; billing cannot proceed without a price.
	ErrPricingNotFound = errors.New("no applicable pricing policy")

	// ErrOverlappingPolicy is returned when a new or edited policy window
	// would intersect an existing active window for the same entity.
	ErrOverlappingPolicy = errors.New("overlapping pricing policy window")

	// ErrConcurrentModification is returned when optimistic locking detects
	// a conflict on a match result or invoice aggregate.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrStudentNotFound is returned when a referenced student doesn't exist.
	ErrStudentNotFound = errors.New("student not found")

	// ErrCourseNotFound is returned when a referenced course doesn't exist.
	ErrCourseNotFound = errors.New("course not found")

	// ErrTermNotFound is returned when a referenced term doesn't exist.
	ErrTermNotFound = errors.New("term not found")

	// ErrPaymentNotFound is returned when a referenced payment doesn't exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrInvalidWindow is returned when a policy window ends before it starts.
	ErrInvalidWindow = errors.New("invalid window: end before effective date")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PricingNotFoundError names the missing policy dimension so the caller can
// surface a clear message ("no senior project tier price for TWO_STUDENTS
// as of 2024-01-08").
type PricingNotFoundError struct {
	Dimension string // human-readable dimension, e.g. "senior project tier"
	Entity    EntityRef
	AsOf      Date
}

func (e *PricingNotFoundError) Error() string {
	return fmt.Sprintf("no %s pricing policy for %s as of %s", e.Dimension, e.Entity, e.AsOf)
}

func (e *PricingNotFoundError) Unwrap() error { return ErrPricingNotFound }

// OverlappingPolicyError reports which existing policy the proposed window
// collides with.
type OverlappingPolicyError struct {
	Entity     EntityRef
	Proposed   Window
	ConflictID PolicyID
	Conflict   Window
}

func (e *OverlappingPolicyError) Error() string {
	return fmt.Sprintf("policy window %s for %s overlaps existing policy %s (%s)",
		e.Proposed, e.Entity, e.ConflictID, e.Conflict)
}

func (e *OverlappingPolicyError) Unwrap() error { return ErrOverlappingPolicy }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrOverlappingPolicy) ||
		errors.Is(err, ErrInvalidWindow)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPricingNotFound) ||
		errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrCourseNotFound) ||
		errors.Is(err, ErrTermNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}
