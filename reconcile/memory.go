package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/tuition-engine/pricing"
)

// =============================================================================
// MEMORY MATCH RESULT STORE - In-memory implementation (for testing/dev)
// =============================================================================

type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[pricing.PaymentID]MatchResult
}

var _ MatchResultStore = (*MemoryResultStore)(nil)

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[pricing.PaymentID]MatchResult)}
}

func (m *MemoryResultStore) Get(_ context.Context, payment pricing.PaymentID) (*MatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[payment]
	if !ok {
		return nil, nil
	}
	cp := r
	cp.MatchedEnrollments = append([]pricing.EnrollmentID(nil), r.MatchedEnrollments...)
	return &cp, nil
}

// Save applies the optimistic version check: the caller must hold the
// version it last read.
func (m *MemoryResultStore) Save(_ context.Context, result *MatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.results[result.PaymentID]
	if ok && existing.Version != result.Version {
		return pricing.ErrConcurrentModification
	}
	result.Version++
	m.results[result.PaymentID] = *result
	return nil
}

// =============================================================================
// MEMORY ADJUSTMENT STORE
// =============================================================================

type MemoryAdjustmentStore struct {
	mu          sync.RWMutex
	adjustments map[adjustmentKey]Adjustment
}

type adjustmentKey struct {
	Payment pricing.PaymentID
	Type    AdjustmentType
}

var _ AdjustmentStore = (*MemoryAdjustmentStore)(nil)

func NewMemoryAdjustmentStore() *MemoryAdjustmentStore {
	return &MemoryAdjustmentStore{adjustments: make(map[adjustmentKey]Adjustment)}
}

// Upsert is keyed by (payment, type): an idempotent rerun overwrites its
// previous adjustment instead of duplicating it.
func (m *MemoryAdjustmentStore) Upsert(_ context.Context, adj Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := adjustmentKey{Payment: adj.PaymentID, Type: adj.Type}
	if existing, ok := m.adjustments[key]; ok {
		// Keep the original identity and approval state.
		adj.ID = existing.ID
		adj.Approved = existing.Approved
		adj.ApprovedBy = existing.ApprovedBy
	}
	m.adjustments[key] = adj
	return nil
}

func (m *MemoryAdjustmentStore) ListByPayment(_ context.Context, payment pricing.PaymentID) ([]Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Adjustment
	for k, a := range m.adjustments {
		if k.Payment == payment {
			result = append(result, a)
		}
	}
	sortAdjustments(result)
	return result, nil
}

func (m *MemoryAdjustmentStore) ListPendingApproval(_ context.Context) ([]Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Adjustment
	for _, a := range m.adjustments {
		if a.RequiresApproval && !a.Approved {
			result = append(result, a)
		}
	}
	sortAdjustments(result)
	return result, nil
}

func (m *MemoryAdjustmentStore) Approve(_ context.Context, id string, approver string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, a := range m.adjustments {
		if a.ID == id {
			a.Approved = true
			a.ApprovedBy = approver
			m.adjustments[k] = a
			return nil
		}
	}
	return ErrAdjustmentNotFound
}

func sortAdjustments(adjs []Adjustment) {
	sort.Slice(adjs, func(i, j int) bool {
		if adjs[i].PaymentID != adjs[j].PaymentID {
			return adjs[i].PaymentID < adjs[j].PaymentID
		}
		return adjs[i].Type < adjs[j].Type
	})
}
