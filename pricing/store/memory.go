// Package store provides in-memory implementations of the pricing
// repository interfaces, used for testing and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/tuition-engine/pricing"
)

// =============================================================================
// MEMORY POLICY STORE
// =============================================================================

type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string][]pricing.PricingPolicy // keyed by EntityRef.String()
}

var _ pricing.PolicyStore = (*MemoryPolicyStore)(nil)

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string][]pricing.PricingPolicy)}
}

func (m *MemoryPolicyStore) ActiveAt(_ context.Context, entity pricing.EntityRef, asOf pricing.Date) (*pricing.PricingPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := pricing.ActivePolicy(m.policies[entity.String()], asOf)
	if p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryPolicyStore) Save(_ context.Context, policy pricing.PricingPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := policy.Entity.String()
	if err := pricing.ValidateNoOverlap(m.policies[key], policy.Entity, policy.Window, policy.ID); err != nil {
		return err
	}

	// Replace on matching ID, append otherwise.
	existing := m.policies[key]
	for i := range existing {
		if existing[i].ID == policy.ID {
			existing[i] = policy
			return nil
		}
	}
	m.policies[key] = append(existing, policy)
	return nil
}

func (m *MemoryPolicyStore) ListByEntity(_ context.Context, entity pricing.EntityRef) ([]pricing.PricingPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.policies[entity.String()]
	result := make([]pricing.PricingPolicy, len(src))
	copy(result, src)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Window.Effective.Before(result[j].Window.Effective)
	})
	return result, nil
}

// =============================================================================
// MEMORY TIER LOCK STORE
// =============================================================================

type MemoryTierLockStore struct {
	mu    sync.RWMutex
	locks map[tierLockKey]pricing.TierLock
}

type tierLockKey struct {
	Student pricing.StudentID
	Class   pricing.ClassID
}

var _ pricing.TierLockStore = (*MemoryTierLockStore)(nil)

func NewMemoryTierLockStore() *MemoryTierLockStore {
	return &MemoryTierLockStore{locks: make(map[tierLockKey]pricing.TierLock)}
}

func (m *MemoryTierLockStore) Get(_ context.Context, student pricing.StudentID, class pricing.ClassID) (*pricing.TierLock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lock, ok := m.locks[tierLockKey{Student: student, Class: class}]
	if !ok {
		return nil, nil
	}
	return &lock, nil
}

func (m *MemoryTierLockStore) Save(_ context.Context, lock pricing.TierLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[tierLockKey{Student: lock.StudentID, Class: lock.ClassID}] = lock
	return nil
}

// =============================================================================
// MEMORY ROSTER - Group sizes and class enrolled counts
// =============================================================================

type MemoryRoster struct {
	mu      sync.RWMutex
	groups  map[pricing.GroupID]int
	classes map[pricing.ClassID]int
}

var (
	_ pricing.GroupSizer  = (*MemoryRoster)(nil)
	_ pricing.ClassRoster = (*MemoryRoster)(nil)
)

func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{
		groups:  make(map[pricing.GroupID]int),
		classes: make(map[pricing.ClassID]int),
	}
}

func (m *MemoryRoster) SetGroupSize(group pricing.GroupID, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group] = size
}

func (m *MemoryRoster) SetClassEnrolled(class pricing.ClassID, enrolled int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[class] = enrolled
}

func (m *MemoryRoster) GroupSize(_ context.Context, group pricing.GroupID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.groups[group], nil
}

func (m *MemoryRoster) EnrolledCount(_ context.Context, class pricing.ClassID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.classes[class], nil
}

// =============================================================================
// MEMORY DIRECTORY - Registrar records for tests and demos
// =============================================================================

type MemoryDirectory struct {
	mu          sync.RWMutex
	students    map[pricing.StudentID]pricing.Student
	courses     map[pricing.CourseID]pricing.Course
	terms       map[pricing.TermID]pricing.Term
	enrollments []pricing.Enrollment
	payments    map[pricing.PaymentID]pricing.Payment
}

var _ pricing.AcademicDirectory = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		students: make(map[pricing.StudentID]pricing.Student),
		courses:  make(map[pricing.CourseID]pricing.Course),
		terms:    make(map[pricing.TermID]pricing.Term),
		payments: make(map[pricing.PaymentID]pricing.Payment),
	}
}

func (m *MemoryDirectory) AddStudent(s pricing.Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
}

func (m *MemoryDirectory) AddCourse(c pricing.Course) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.courses[c.ID] = c
}

func (m *MemoryDirectory) AddTerm(t pricing.Term) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms[t.ID] = t
}

func (m *MemoryDirectory) AddEnrollment(e pricing.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments = append(m.enrollments, e)
}

func (m *MemoryDirectory) AddPayment(p pricing.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
}

func (m *MemoryDirectory) Student(_ context.Context, id pricing.StudentID) (pricing.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return pricing.Student{}, pricing.ErrStudentNotFound
	}
	return s, nil
}

func (m *MemoryDirectory) Course(_ context.Context, id pricing.CourseID) (pricing.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.courses[id]
	if !ok {
		return pricing.Course{}, pricing.ErrCourseNotFound
	}
	return c, nil
}

func (m *MemoryDirectory) Term(_ context.Context, id pricing.TermID) (pricing.Term, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.terms[id]
	if !ok {
		return pricing.Term{}, pricing.ErrTermNotFound
	}
	return t, nil
}

func (m *MemoryDirectory) ListEnrollments(_ context.Context, student pricing.StudentID, term pricing.TermID, includeDropped bool) ([]pricing.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []pricing.Enrollment
	for _, e := range m.enrollments {
		if e.StudentID != student || e.TermID != term {
			continue
		}
		if e.Dropped() && !includeDropped {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (m *MemoryDirectory) Payment(_ context.Context, id pricing.PaymentID) (pricing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return pricing.Payment{}, pricing.ErrPaymentNotFound
	}
	return p, nil
}

func (m *MemoryDirectory) ListPayments(_ context.Context) ([]pricing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]pricing.Payment, 0, len(m.payments))
	for _, p := range m.payments {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ListUnreconciledPayments returns every payment. The directory holds no
// match results, and rescanning reconciled payments is harmless: terminal
// results short-circuit.
func (m *MemoryDirectory) ListUnreconciledPayments(ctx context.Context) ([]pricing.Payment, error) {
	return m.ListPayments(ctx)
}
