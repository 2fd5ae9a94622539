package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tuition-engine/pricing"
	"github.com/warp/tuition-engine/pricing/store"
	"github.com/warp/tuition-engine/reconcile"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type apiFixture struct {
	handler     *Handler
	router      http.Handler
	directory   *store.MemoryDirectory
	policies    *store.MemoryPolicyStore
	roster      *store.MemoryRoster
	adjustments *reconcile.MemoryAdjustmentStore
}

func usd(s string) pricing.Money { return pricing.MustParseMoney(s, pricing.CurrencyUSD) }

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()

	policies := store.NewMemoryPolicyStore()
	roster := store.NewMemoryRoster()
	locks := store.NewMemoryTierLockStore()
	directory := store.NewMemoryDirectory()
	results := reconcile.NewMemoryResultStore()
	adjustments := reconcile.NewMemoryAdjustmentStore()

	require.NoError(t, policies.Save(ctx, pricing.PricingPolicy{
		ID:            "ba-default",
		Entity:        pricing.CycleRef("BA"),
		PriceDomestic: usd("250.60"),
		PriceForeign:  usd("375.90"),
		Window:        pricing.OpenWindow(pricing.NewDate(2024, time.January, 1)),
		Currency:      pricing.CurrencyUSD,
	}))

	engine := pricing.NewEngine(
		policies,
		pricing.NewSeniorProjectTierResolver(roster),
		pricing.NewReadingClassTierResolver(roster, locks),
	)

	log := logrus.New()
	log.SetOutput(io.Discard)

	service := reconcile.NewService(engine, directory, results, adjustments, pricing.DefaultThresholds(), log)

	h := NewHandler(log)
	h.Engine = engine
	h.Service = service
	h.Runner = reconcile.NewBatchRunner(service, 2, log)
	h.Policies = policies
	h.Directory = directory
	h.Payments = directory
	h.Results = results
	h.Adjustments = adjustments

	directory.AddStudent(pricing.Student{ID: "alice", Name: "Alice", Nationality: pricing.NationalityDomestic})
	directory.AddCourse(pricing.Course{ID: "hist-101", CycleID: "BA", Name: "History"})
	directory.AddTerm(pricing.Term{
		ID:        "2024-spring",
		Name:      "Spring 2024",
		StartDate: pricing.NewDate(2024, time.January, 8),
		EndDate:   pricing.NewDate(2024, time.May, 24),
	})

	return &apiFixture{
		handler:     h,
		router:      NewRouter(h),
		directory:   directory,
		policies:    policies,
		roster:      roster,
		adjustments: adjustments,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

// =============================================================================
// QUOTES
// =============================================================================

func TestAPI_GetQuote(t *testing.T) {
	// GIVEN: A BA course with the default rate active
	// WHEN: POST /api/quotes
	// THEN: 200 with the default price as a decimal string

	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/quotes", QuoteRequest{
		StudentID: "alice",
		CourseID:  "hist-101",
		TermID:    "2024-spring",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	quote := decodeBody[QuoteDTO](t, rec)
	assert.Equal(t, "250.60", quote.Amount)
	assert.Equal(t, "USD", quote.Currency)
	assert.Equal(t, "DEFAULT", quote.PriceType)
	assert.Equal(t, "2024-01-08", quote.PricingDate)
}

func TestAPI_GetQuote_ValidationFailure(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/quotes", QuoteRequest{StudentID: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_GetQuote_UnknownStudent(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/quotes", QuoteRequest{
		StudentID: "nobody",
		CourseID:  "hist-101",
		TermID:    "2024-spring",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_GetQuote_MissingPolicyIsNotFound(t *testing.T) {
	// No rate for the PHD cycle: the API must refuse rather than quote $0.
	f := newAPIFixture(t)
	f.directory.AddCourse(pricing.Course{ID: "phd-900", CycleID: "PHD"})

	rec := f.do(t, http.MethodPost, "/api/quotes", QuoteRequest{
		StudentID: "alice",
		CourseID:  "phd-900",
		TermID:    "2024-spring",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// POLICIES
// =============================================================================

func TestAPI_SavePolicy(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/policies", SavePolicyRequest{
		EntityKind:    "course",
		EntityID:      "chem-lab",
		PriceDomestic: "310.00",
		PriceForeign:  "465.00",
		EffectiveDate: "2024-01-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	dto := decodeBody[PolicyDTO](t, rec)
	assert.NotEmpty(t, dto.ID, "server assigns an ID when none is given")
	assert.Equal(t, "course", dto.EntityKind)
	assert.Equal(t, "USD", dto.Currency)
}

func TestAPI_SavePolicy_OverlapConflict(t *testing.T) {
	// GIVEN: An open-ended BA default saved via the API
	// WHEN: Saving a second BA default with an overlapping window
	// THEN: 409 with the conflicting policy identified

	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/policies", SavePolicyRequest{
		ID:            "ba-2024h2",
		EntityKind:    "cycle",
		EntityID:      "BA",
		PriceDomestic: "275.00",
		PriceForeign:  "412.50",
		EffectiveDate: "2024-07-01",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "overlapping_policy", resp.Code)
	assert.Equal(t, "ba-default", resp.Details["conflict_id"])
}

func TestAPI_SavePolicy_InvalidWindow(t *testing.T) {
	f := newAPIFixture(t)

	end := "2024-01-01"
	rec := f.do(t, http.MethodPost, "/api/policies", SavePolicyRequest{
		EntityKind:    "course",
		EntityID:      "chem-lab",
		PriceDomestic: "310.00",
		PriceForeign:  "465.00",
		EffectiveDate: "2024-06-01",
		EndDate:       &end,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_SavePolicy_BadDecimal(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/policies", SavePolicyRequest{
		EntityKind:    "course",
		EntityID:      "chem-lab",
		PriceDomestic: "three hundred",
		PriceForeign:  "465.00",
		EffectiveDate: "2024-01-01",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ListPolicies(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/policies?entity_kind=cycle&entity_id=BA", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	dtos := decodeBody[[]PolicyDTO](t, rec)
	require.Len(t, dtos, 1)
	assert.Equal(t, "ba-default", dtos[0].ID)
	assert.Equal(t, "250.6", dtos[0].PriceDomestic)
}

func TestAPI_ListPolicies_RequiresEntity(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/policies", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func (f *apiFixture) enrollAndPay(amount string) {
	f.directory.AddEnrollment(pricing.Enrollment{
		ID:         "e1",
		StudentID:  "alice",
		CourseID:   "hist-101",
		TermID:     "2024-spring",
		Attendance: pricing.AttendanceNormal,
	})
	f.directory.AddPayment(pricing.Payment{
		ID:        "pay-1",
		StudentID: "alice",
		TermID:    "2024-spring",
		Amount:    usd(amount),
		Date:      pricing.NewDate(2024, time.February, 1),
	})
}

func TestAPI_ReconcilePayment(t *testing.T) {
	f := newAPIFixture(t)
	f.enrollAndPay("250.60")

	rec := f.do(t, http.MethodPost, "/api/reconcile/pay-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	dto := decodeBody[MatchResultDTO](t, rec)
	assert.Equal(t, "FULLY_RECONCILED", dto.Status)
	assert.Equal(t, 100, dto.ConfidenceScore)
	assert.Equal(t, "HIGH", dto.ConfidenceLevel)
	assert.Equal(t, []string{"e1"}, dto.MatchedEnrollments)
}

func TestAPI_ReconcilePayment_UnknownPayment(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/reconcile/pay-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ReconcileBatch_SweepsEverything(t *testing.T) {
	f := newAPIFixture(t)
	f.enrollAndPay("250.60")

	rec := f.do(t, http.MethodPost, "/api/reconcile/batch", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	summary := decodeBody[BatchSummaryDTO](t, rec)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Reconciled)
	assert.NotEmpty(t, summary.RunID)
}

func TestAPI_ReconcileBatch_ExplicitIDs(t *testing.T) {
	f := newAPIFixture(t)
	f.enrollAndPay("250.60")

	rec := f.do(t, http.MethodPost, "/api/reconcile/batch", BatchRequest{PaymentIDs: []string{"pay-1"}})
	require.Equal(t, http.StatusOK, rec.Code)

	summary := decodeBody[BatchSummaryDTO](t, rec)
	assert.Equal(t, 1, summary.Processed)
}

func TestAPI_GetMatchResult_NotReconciledYet(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/match-results/pay-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ListRuns_NoStoreConfigured(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/reconciliation/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]RunDTO](t, rec))
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func seedAdjustment(t *testing.T, f *apiFixture) reconcile.Adjustment {
	t.Helper()
	adj := reconcile.Adjustment{
		ID:               "adj-1",
		PaymentID:        "pay-1",
		StudentID:        "alice",
		TermID:           "2024-spring",
		Type:             reconcile.AdjustmentClericalError,
		OriginalAmount:   usd("625.60"),
		AdjustedAmount:   usd("600.00"),
		Variance:         usd("25.60"),
		RequiresApproval: true,
		Note:             "variance match",
		CreatedOn:        pricing.NewDate(2024, time.February, 1),
	}
	require.NoError(t, f.adjustments.Upsert(context.Background(), adj))
	return adj
}

func TestAPI_PendingAdjustments(t *testing.T) {
	f := newAPIFixture(t)
	seedAdjustment(t, f)

	rec := f.do(t, http.MethodGet, "/api/adjustments/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	dtos := decodeBody[[]AdjustmentDTO](t, rec)
	require.Len(t, dtos, 1)
	assert.Equal(t, "adj-1", dtos[0].ID)
	assert.Equal(t, "25.60", dtos[0].Variance)
	assert.True(t, dtos[0].RequiresApproval)
}

func TestAPI_ApproveAdjustment(t *testing.T) {
	// GIVEN: A pending adjustment
	// WHEN: POST /api/adjustments/adj-1/approve
	// THEN: 204, and the approval queue is empty

	f := newAPIFixture(t)
	seedAdjustment(t, f)

	rec := f.do(t, http.MethodPost, "/api/adjustments/adj-1/approve",
		ApproveAdjustmentRequest{Approver: "dean@school.edu"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/adjustments/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]AdjustmentDTO](t, rec))

	rec = f.do(t, http.MethodGet, "/api/payments/pay-1/adjustments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dtos := decodeBody[[]AdjustmentDTO](t, rec)
	require.Len(t, dtos, 1)
	assert.True(t, dtos[0].Approved)
	assert.Equal(t, "dean@school.edu", dtos[0].ApprovedBy)
}

func TestAPI_ApproveAdjustment_Unknown(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/adjustments/adj-missing/approve",
		ApproveAdjustmentRequest{Approver: "dean@school.edu"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ApproveAdjustment_RequiresApprover(t *testing.T) {
	f := newAPIFixture(t)
	seedAdjustment(t, f)

	rec := f.do(t, http.MethodPost, "/api/adjustments/adj-1/approve", ApproveAdjustmentRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// HEALTH
// =============================================================================

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
