/*
handlers.go - HTTP API handlers for the tuition engine

PURPOSE:
  Exposes price determination and payment reconciliation via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Quotes:
    POST   /api/quotes                       Price one course enrollment

  Policies:
    GET    /api/policies                     List policies for an entity
    POST   /api/policies                     Create/update a policy

  Reconciliation:
    POST   /api/reconcile/{paymentID}        Reconcile one payment
    POST   /api/reconcile/batch              Batch sweep
    GET    /api/match-results/{paymentID}    Match result for a payment
    GET    /api/reconciliation/runs          Batch audit records

  Adjustments:
    GET    /api/adjustments/pending          Approval queue
    GET    /api/payments/{paymentID}/adjustments
    POST   /api/adjustments/{id}/approve     Approve an adjustment

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Overlapping policy window, concurrent modification
  - 500: Internal errors

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/tuition-engine/pricing"
	"github.com/warp/tuition-engine/reconcile"
	"github.com/warp/tuition-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// PaymentSource resolves payments for single and batch reconciliation.
type PaymentSource interface {
	Payment(ctx context.Context, id pricing.PaymentID) (pricing.Payment, error)
	ListUnreconciledPayments(ctx context.Context) ([]pricing.Payment, error)
}

// RunStore records batch audit rows. Optional: nil disables run history.
type RunStore interface {
	SaveRun(ctx context.Context, run sqlite.RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]sqlite.RunRecord, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine      *pricing.Engine
	Service     *reconcile.Service
	Runner      *reconcile.BatchRunner
	Policies    pricing.PolicyStore
	Directory   pricing.AcademicDirectory
	Payments    PaymentSource
	Results     reconcile.MatchResultStore
	Adjustments reconcile.AdjustmentStore
	Runs        RunStore

	Validate *validator.Validate
	Log      *logrus.Logger
}

// NewHandler creates a handler with its own validator instance.
func NewHandler(log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{
		Validate: validator.New(),
		Log:      log,
	}
}

// =============================================================================
// QUOTE HANDLERS
// =============================================================================

// GetQuote prices one course for a student in a term.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := h.decode(w, r, &req); err != nil {
		return
	}

	ctx := r.Context()
	student, err := h.Directory.Student(ctx, pricing.StudentID(req.StudentID))
	if err != nil {
		h.writeDomainError(w, "Failed to load student", err)
		return
	}
	course, err := h.Directory.Course(ctx, pricing.CourseID(req.CourseID))
	if err != nil {
		h.writeDomainError(w, "Failed to load course", err)
		return
	}
	term, err := h.Directory.Term(ctx, pricing.TermID(req.TermID))
	if err != nil {
		h.writeDomainError(w, "Failed to load term", err)
		return
	}

	var classCtx *pricing.ClassContext
	if req.GroupID != "" || req.ClassID != "" {
		classCtx = &pricing.ClassContext{
			GroupID:      pricing.GroupID(req.GroupID),
			ClassID:      pricing.ClassID(req.ClassID),
			ReadingClass: req.ReadingClass,
		}
	}

	quote, err := h.Engine.CalculateCoursePrice(ctx, course, student, term, classCtx)
	if err != nil {
		h.writeDomainError(w, "Failed to price course", err)
		return
	}

	writeJSON(w, http.StatusOK, QuoteDTO{
		Amount:      quote.Amount.Value.StringFixed(2),
		Currency:    string(quote.Amount.Currency),
		PriceType:   string(quote.PriceType),
		Description: quote.Description,
		PricingDate: term.PricingDate().String(),
	})
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns the policies for one entity.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("entity_kind")
	id := r.URL.Query().Get("entity_id")
	if kind == "" || id == "" {
		writeError(w, http.StatusBadRequest, "entity_kind and entity_id query parameters are required", nil)
		return
	}

	entity := pricing.EntityRef{Kind: pricing.EntityKind(kind), ID: id}
	policies, err := h.Policies.ListByEntity(r.Context(), entity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SavePolicy creates or updates a pricing policy. Overlapping windows for
// the same entity are rejected with 409.
func (h *Handler) SavePolicy(w http.ResponseWriter, r *http.Request) {
	var req SavePolicyRequest
	if err := h.decode(w, r, &req); err != nil {
		return
	}

	policy, err := policyFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := h.Policies.Save(r.Context(), policy); err != nil {
		var overlap *pricing.OverlappingPolicyError
		switch {
		case errors.As(err, &overlap):
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Error: overlap.Error(),
				Code:  "overlapping_policy",
				Details: map[string]string{
					"conflict_id":     string(overlap.ConflictID),
					"conflict_window": overlap.Conflict.String(),
				},
			})
		case errors.Is(err, pricing.ErrInvalidWindow):
			writeError(w, http.StatusBadRequest, "Invalid effective window", err)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, toPolicyDTO(policy))
}

func policyFromRequest(req SavePolicyRequest) (pricing.PricingPolicy, error) {
	currency := pricing.Currency(req.Currency)
	if currency == "" {
		currency = pricing.CurrencyUSD
	}

	domestic, err := decimal.NewFromString(req.PriceDomestic)
	if err != nil {
		return pricing.PricingPolicy{}, errors.New("price_domestic is not a valid decimal")
	}
	foreign, err := decimal.NewFromString(req.PriceForeign)
	if err != nil {
		return pricing.PricingPolicy{}, errors.New("price_foreign is not a valid decimal")
	}
	effective, err := pricing.ParseDate(req.EffectiveDate)
	if err != nil {
		return pricing.PricingPolicy{}, errors.New("effective_date must be YYYY-MM-DD")
	}

	window := pricing.OpenWindow(effective)
	if req.EndDate != nil && *req.EndDate != "" {
		end, err := pricing.ParseDate(*req.EndDate)
		if err != nil {
			return pricing.PricingPolicy{}, errors.New("end_date must be YYYY-MM-DD")
		}
		window.End = &end
	}

	id := pricing.PolicyID(req.ID)
	if id == "" {
		id = pricing.PolicyID(uuid.NewString())
	}

	return pricing.PricingPolicy{
		ID:            id,
		Entity:        pricing.EntityRef{Kind: pricing.EntityKind(req.EntityKind), ID: req.EntityID},
		PriceDomestic: pricing.Money{Value: domestic, Currency: currency},
		PriceForeign:  pricing.Money{Value: foreign, Currency: currency},
		Window:        window,
		Currency:      currency,
	}, nil
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// ReconcilePayment runs the matching cascade for one payment.
func (h *Handler) ReconcilePayment(w http.ResponseWriter, r *http.Request) {
	id := pricing.PaymentID(chi.URLParam(r, "paymentID"))

	payment, err := h.Payments.Payment(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to load payment", err)
		return
	}

	result, err := h.Service.ReconcilePayment(r.Context(), payment)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reconcile payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchResultDTO(result))
}

// ReconcileBatch sweeps a set of payments (all unreconciled ones when no
// IDs are given) and records the run.
func (h *Handler) ReconcileBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	ctx := r.Context()
	var payments []pricing.Payment
	if len(req.PaymentIDs) > 0 {
		for _, id := range req.PaymentIDs {
			p, err := h.Payments.Payment(ctx, pricing.PaymentID(id))
			if err != nil {
				h.writeDomainError(w, "Failed to load payment "+id, err)
				return
			}
			payments = append(payments, p)
		}
	} else {
		var err error
		payments, err = h.Payments.ListUnreconciledPayments(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
			return
		}
	}

	summary, err := h.Runner.Run(ctx, payments)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Batch run interrupted", err)
		return
	}

	if h.Runs != nil {
		completed := summary.CompletedAt
		record := sqlite.RunRecord{
			ID:            summary.RunID,
			StartedAt:     summary.StartedAt,
			CompletedAt:   &completed,
			Processed:     summary.Processed,
			Reconciled:    summary.Reconciled,
			AutoAllocated: summary.AutoAllocated,
			Unmatched:     summary.Unmatched,
			Exceptions:    summary.Exceptions,
		}
		if err := h.Runs.SaveRun(ctx, record); err != nil {
			h.Log.Warnf("failed to record reconciliation run %s: %v", summary.RunID, err)
		}
	}

	writeJSON(w, http.StatusOK, toBatchSummaryDTO(summary))
}

// GetMatchResult returns the stored match result for a payment.
func (h *Handler) GetMatchResult(w http.ResponseWriter, r *http.Request) {
	id := pricing.PaymentID(chi.URLParam(r, "paymentID"))

	result, err := h.Results.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load match result", err)
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "Payment has not been reconciled", nil)
		return
	}
	writeJSON(w, http.StatusOK, toMatchResultDTO(result))
}

// ListRuns returns recent batch audit records.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		writeJSON(w, http.StatusOK, []RunDTO{})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	runs, err := h.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADJUSTMENT HANDLERS
// =============================================================================

// ListPendingAdjustments returns the approval queue.
func (h *Handler) ListPendingAdjustments(w http.ResponseWriter, r *http.Request) {
	adjs, err := h.Adjustments.ListPendingApproval(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list adjustments", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTOs(adjs))
}

// ListPaymentAdjustments returns the adjustments recorded for one payment.
func (h *Handler) ListPaymentAdjustments(w http.ResponseWriter, r *http.Request) {
	id := pricing.PaymentID(chi.URLParam(r, "paymentID"))

	adjs, err := h.Adjustments.ListByPayment(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list adjustments", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTOs(adjs))
}

// ApproveAdjustment marks a pending adjustment approved.
func (h *Handler) ApproveAdjustment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ApproveAdjustmentRequest
	if err := h.decode(w, r, &req); err != nil {
		return
	}

	if err := h.Adjustments.Approve(r.Context(), id, req.Approver); err != nil {
		if errors.Is(err, reconcile.ErrAdjustmentNotFound) {
			writeError(w, http.StatusNotFound, "Adjustment not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to approve adjustment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// decode parses and validates a JSON request body, writing the error
// response itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return err
	}
	if err := h.Validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return err
	}
	return nil
}

// writeDomainError maps domain errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, msg string, err error) {
	switch {
	case pricing.IsNotFound(err):
		writeError(w, http.StatusNotFound, msg, err)
	case pricing.IsClientError(err):
		writeError(w, http.StatusBadRequest, msg, err)
	default:
		writeError(w, http.StatusInternalServerError, msg, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
