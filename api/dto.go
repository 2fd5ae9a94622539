/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts cross the wire as decimal strings ("250.60"), never floats.
  A float64 cannot represent most cent values exactly and this API exists
  to explain cent-level variances.

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  the validator before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
  - pricing/policy.go: Domain policy type
*/
package api

import (
	"time"

	"github.com/warp/tuition-engine/pricing"
	"github.com/warp/tuition-engine/reconcile"
	"github.com/warp/tuition-engine/store/sqlite"
)

// =============================================================================
// QUOTES
// =============================================================================

// QuoteRequest asks for the price of one course for a student in a term.
type QuoteRequest struct {
	StudentID    string `json:"student_id" validate:"required"`
	CourseID     string `json:"course_id" validate:"required"`
	TermID       string `json:"term_id" validate:"required"`
	GroupID      string `json:"group_id,omitempty"`
	ClassID      string `json:"class_id,omitempty"`
	ReadingClass bool   `json:"reading_class,omitempty"`
}

// QuoteDTO is a priced quote.
type QuoteDTO struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	PriceType   string `json:"price_type"`
	Description string `json:"description"`
	PricingDate string `json:"pricing_date"`
}

// =============================================================================
// PRICING POLICIES
// =============================================================================

// PolicyDTO represents a pricing policy in API responses.
type PolicyDTO struct {
	ID            string  `json:"id"`
	EntityKind    string  `json:"entity_kind"`
	EntityID      string  `json:"entity_id"`
	PriceDomestic string  `json:"price_domestic"`
	PriceForeign  string  `json:"price_foreign"`
	Currency      string  `json:"currency"`
	EffectiveDate string  `json:"effective_date"`
	EndDate       *string `json:"end_date,omitempty"`
}

// SavePolicyRequest creates or updates a pricing policy.
type SavePolicyRequest struct {
	ID            string  `json:"id"`
	EntityKind    string  `json:"entity_kind" validate:"required,oneof=cycle course tier"`
	EntityID      string  `json:"entity_id" validate:"required"`
	PriceDomestic string  `json:"price_domestic" validate:"required"`
	PriceForeign  string  `json:"price_foreign" validate:"required"`
	Currency      string  `json:"currency" validate:"omitempty,len=3"`
	EffectiveDate string  `json:"effective_date" validate:"required"`
	EndDate       *string `json:"end_date,omitempty"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// MatchResultDTO is the reconciliation outcome for one payment.
type MatchResultDTO struct {
	ID                 string   `json:"id"`
	PaymentID          string   `json:"payment_id"`
	StudentID          string   `json:"student_id"`
	TermID             string   `json:"term_id"`
	Status             string   `json:"status"`
	ConfidenceScore    int      `json:"confidence_score"`
	ConfidenceLevel    string   `json:"confidence_level"`
	PricingMethod      string   `json:"pricing_method,omitempty"`
	MatchedEnrollments []string `json:"matched_enrollments,omitempty"`
	VarianceAmount     string   `json:"variance_amount"`
	VariancePct        string   `json:"variance_pct"`
	Notes              string   `json:"notes,omitempty"`
	ErrorCategory      string   `json:"error_category,omitempty"`
	ErrorDetails       string   `json:"error_details,omitempty"`
}

// BatchRequest triggers a reconciliation sweep. Empty payment_ids means
// every unreconciled payment.
type BatchRequest struct {
	PaymentIDs []string `json:"payment_ids,omitempty"`
}

// BatchSummaryDTO tallies one batch run.
type BatchSummaryDTO struct {
	RunID         string `json:"run_id"`
	StartedAt     string `json:"started_at"`
	CompletedAt   string `json:"completed_at"`
	Processed     int    `json:"processed"`
	Reconciled    int    `json:"reconciled"`
	AutoAllocated int    `json:"auto_allocated"`
	Unmatched     int    `json:"unmatched"`
	Exceptions    int    `json:"exceptions"`
}

// AdjustmentDTO represents a variance adjustment.
type AdjustmentDTO struct {
	ID               string `json:"id"`
	PaymentID        string `json:"payment_id"`
	StudentID        string `json:"student_id"`
	TermID           string `json:"term_id"`
	Type             string `json:"type"`
	OriginalAmount   string `json:"original_amount"`
	AdjustedAmount   string `json:"adjusted_amount"`
	Variance         string `json:"variance"`
	RequiresApproval bool   `json:"requires_approval"`
	Approved         bool   `json:"approved"`
	ApprovedBy       string `json:"approved_by,omitempty"`
	Note             string `json:"note,omitempty"`
	CreatedOn        string `json:"created_on"`
}

// ApproveAdjustmentRequest approves a pending adjustment.
type ApproveAdjustmentRequest struct {
	Approver string `json:"approver" validate:"required"`
}

// RunDTO is one batch audit record.
type RunDTO struct {
	ID            string `json:"id"`
	StartedAt     string `json:"started_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
	Processed     int    `json:"processed"`
	Reconciled    int    `json:"reconciled"`
	AutoAllocated int    `json:"auto_allocated"`
	Unmatched     int    `json:"unmatched"`
	Exceptions    int    `json:"exceptions"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toPolicyDTO(p pricing.PricingPolicy) PolicyDTO {
	dto := PolicyDTO{
		ID:            string(p.ID),
		EntityKind:    string(p.Entity.Kind),
		EntityID:      p.Entity.ID,
		PriceDomestic: p.PriceDomestic.Value.String(),
		PriceForeign:  p.PriceForeign.Value.String(),
		Currency:      string(p.Currency),
		EffectiveDate: p.Window.Effective.String(),
	}
	if p.Window.End != nil {
		end := p.Window.End.String()
		dto.EndDate = &end
	}
	return dto
}

func toMatchResultDTO(r *reconcile.MatchResult) MatchResultDTO {
	matched := make([]string, len(r.MatchedEnrollments))
	for i, id := range r.MatchedEnrollments {
		matched[i] = string(id)
	}
	return MatchResultDTO{
		ID:                 r.ID,
		PaymentID:          string(r.PaymentID),
		StudentID:          string(r.StudentID),
		TermID:             string(r.TermID),
		Status:             string(r.Status),
		ConfidenceScore:    r.ConfidenceScore,
		ConfidenceLevel:    string(r.ConfidenceLevel),
		PricingMethod:      string(r.PricingMethod),
		MatchedEnrollments: matched,
		VarianceAmount:     r.VarianceAmount.Value.StringFixed(2),
		VariancePct:        r.VariancePct.StringFixed(2),
		Notes:              r.Notes,
		ErrorCategory:      r.ErrorCategory,
		ErrorDetails:       r.ErrorDetails,
	}
}

func toAdjustmentDTO(a reconcile.Adjustment) AdjustmentDTO {
	return AdjustmentDTO{
		ID:               a.ID,
		PaymentID:        string(a.PaymentID),
		StudentID:        string(a.StudentID),
		TermID:           string(a.TermID),
		Type:             string(a.Type),
		OriginalAmount:   a.OriginalAmount.Value.StringFixed(2),
		AdjustedAmount:   a.AdjustedAmount.Value.StringFixed(2),
		Variance:         a.Variance.Value.StringFixed(2),
		RequiresApproval: a.RequiresApproval,
		Approved:         a.Approved,
		ApprovedBy:       a.ApprovedBy,
		Note:             a.Note,
		CreatedOn:        a.CreatedOn.String(),
	}
}

func toAdjustmentDTOs(adjs []reconcile.Adjustment) []AdjustmentDTO {
	dtos := make([]AdjustmentDTO, len(adjs))
	for i, a := range adjs {
		dtos[i] = toAdjustmentDTO(a)
	}
	return dtos
}

func toBatchSummaryDTO(s reconcile.BatchSummary) BatchSummaryDTO {
	return BatchSummaryDTO{
		RunID:         s.RunID,
		StartedAt:     s.StartedAt.Format(time.RFC3339),
		CompletedAt:   s.CompletedAt.Format(time.RFC3339),
		Processed:     s.Processed,
		Reconciled:    s.Reconciled,
		AutoAllocated: s.AutoAllocated,
		Unmatched:     s.Unmatched,
		Exceptions:    s.Exceptions,
	}
}

func toRunDTO(r sqlite.RunRecord) RunDTO {
	dto := RunDTO{
		ID:            r.ID,
		StartedAt:     r.StartedAt.Format(time.RFC3339),
		Processed:     r.Processed,
		Reconciled:    r.Reconciled,
		AutoAllocated: r.AutoAllocated,
		Unmatched:     r.Unmatched,
		Exceptions:    r.Exceptions,
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = r.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
