/*
Package pricing provides the core price determination engine.

PURPOSE:
  This package contains the types and algorithms for resolving the
  authoritative unit price of a course enrollment under a multi-tier,
  time-versioned pricing scheme. Whether a course is billed at the default
  cycle rate, a fixed per-course override, or a group-size tier, the same
  engine resolves the price for a given student and term.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount with a currency, backed by decimal.Decimal
  - EntityRef: The pricing dimension a policy is keyed by (cycle/course/tier)
  - Enrollment/Payment: Read-only inputs supplied by the caller
  - PriceQuote: The immutable output of a price determination

DESIGN PRINCIPLES:
  1. Precision: All monetary arithmetic uses decimal.Decimal, rounded to
     two decimal places half-up. Never float64.
  2. Immutability: PriceQuote is a value; callers may persist it as a
     locked price but the engine never mutates one.
  3. Type Safety: Strong typing for IDs prevents mixing student/course/term
     identifiers.
  4. Pure inputs: Enrollment and Payment are owned by external persistence;
     this package only reads them.

USAGE:
  price := pricing.NewMoney(300, pricing.CurrencyUSD)
  quote := pricing.PriceQuote{
      Amount:      price,
      PriceType:   pricing.PriceDefault,
      Description: "BA cycle default rate",
  }

SEE ALSO:
  - policy.go: Time-windowed pricing policies and overlap validation
  - engine.go: The price determination cascade
  - tier.go: Group/class size tier resolution
*/
package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount with currency
// =============================================================================

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

type Currency string

const (
	CurrencyUSD Currency = "USD"
)

func NewMoney(value float64, currency Currency) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromInt(value int, currency Currency) Money {
	return Money{Value: decimal.NewFromInt(int64(value)), Currency: currency}
}

// MustParseMoney parses a decimal string like "300.00". Falls back to zero
// on malformed input; intended for literals in tests and presets.
func MustParseMoney(s string, currency Currency) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero, Currency: currency}
	}
	return Money{Value: d, Currency: currency}
}

func (m Money) Zero() Money                 { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(b Money) Money           { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money           { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s), Currency: m.Currency} }
func (m Money) Div(s decimal.Decimal) Money { return Money{Value: m.Value.Div(s), Currency: m.Currency} }
func (m Money) Neg() Money                  { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) Abs() Money                  { return Money{Value: m.Value.Abs(), Currency: m.Currency} }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) GreaterThan(b Money) bool    { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool       { return m.Value.LessThan(b.Value) }
func (m Money) LessThanOrEqual(b Money) bool {
	return m.Value.LessThanOrEqual(b.Value)
}
func (m Money) Equal(b Money) bool { return m.Value.Equal(b.Value) }

// Round2 rounds to two decimal places, half-up. Every amount that leaves
// the engine passes through this.
func (m Money) Round2() Money {
	return Money{Value: m.Value.Round(2), Currency: m.Currency}
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Value.StringFixed(2), m.Currency)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StudentID string
type CourseID string
type TermID string
type CycleID string
type GroupID string
type ClassID string
type PolicyID string
type PaymentID string
type EnrollmentID string

// =============================================================================
// ENTITY REF - The pricing dimension a policy is keyed by
// =============================================================================

// EntityKind identifies which pricing table a policy belongs to.
type EntityKind string

const (
	EntityCycle  EntityKind = "cycle"  // Default per-cycle rate (BA, MA, ...)
	EntityCourse EntityKind = "course" // Fixed per-course override
	EntityTier   EntityKind = "tier"   // Group/class size tier rate
)

// EntityRef identifies the entity a PricingPolicy prices. Policies for the
// same EntityRef must never have overlapping effective windows.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

func CycleRef(id CycleID) EntityRef  { return EntityRef{Kind: EntityCycle, ID: string(id)} }
func CourseRef(id CourseID) EntityRef { return EntityRef{Kind: EntityCourse, ID: string(id)} }

// SeniorProjectTierRef keys the senior-project tier price table. Senior
// project tiers are priced institution-wide, not per cycle.
func SeniorProjectTierRef(tier Tier) EntityRef {
	return EntityRef{Kind: EntityTier, ID: "senior_project/" + string(tier)}
}

// ReadingClassTierRef keys the reading-class tier table by (cycle, tier):
// a tutorial-sized reading class costs more in the MA cycle than in the BA.
func ReadingClassTierRef(cycle CycleID, tier Tier) EntityRef {
	return EntityRef{Kind: EntityTier, ID: string(cycle) + "/reading/" + string(tier)}
}

func (r EntityRef) String() string { return string(r.Kind) + ":" + r.ID }

// =============================================================================
// ACADEMIC ENTITIES - Read-only inputs from persistence
// =============================================================================

type Nationality string

const (
	NationalityDomestic Nationality = "domestic"
	NationalityForeign  Nationality = "foreign"
)

type Student struct {
	ID          StudentID
	Name        string
	Nationality Nationality
}

type Course struct {
	ID            CourseID
	CycleID       CycleID
	Name          string
	SeniorProject bool // Flagged courses are priced by group-size tier
}

// Term metadata. StartDate is the pricing date for every price lookup in
// the term: tuition is fixed when the term begins, independent of when a
// student happens to pay.
type Term struct {
	ID        TermID
	Name      string
	StartDate Date
	EndDate   Date
}

// PricingDate returns the date all policy lookups for this term use.
func (t Term) PricingDate() Date { return t.StartDate }

type AttendanceStatus string

const (
	AttendanceNormal  AttendanceStatus = "NORMAL"
	AttendanceDropped AttendanceStatus = "DROPPED"
)

type Enrollment struct {
	ID         EnrollmentID
	StudentID  StudentID
	CourseID   CourseID
	TermID     TermID
	GroupID    GroupID // Senior-project group; empty when unassigned
	ClassID    ClassID // Reading/request class; empty otherwise
	Attendance AttendanceStatus
}

func (e Enrollment) Dropped() bool { return e.Attendance == AttendanceDropped }

// Payment is an opaque historical payment: a total amount with no
// line-item detail. Reconciliation infers which enrollments it covers.
type Payment struct {
	ID        PaymentID
	StudentID StudentID
	TermID    TermID
	Amount    Money
	Date      Date
	Reference string
}

// =============================================================================
// PRICE QUOTE - Resolved unit price for one course/student/term
// =============================================================================

type PriceType string

const (
	PriceDefault       PriceType = "DEFAULT"
	PriceFixed         PriceType = "FIXED"
	PriceSeniorProject PriceType = "SENIOR_PROJECT"
	PriceReadingClass  PriceType = "READING_CLASS"
)

// PriceQuote is the immutable result of a price determination. A caller
// may persist it as a locked price for invoicing.
type PriceQuote struct {
	Amount      Money
	PriceType   PriceType
	Description string
}

// ClassContext carries the enrollment-specific references the cascade
// needs beyond the course itself: the senior-project group (if assigned)
// and the reading class (if the enrollment is in one).
type ClassContext struct {
	GroupID      GroupID
	ClassID      ClassID
	ReadingClass bool
}

// ClassContextFor derives the cascade context from an enrollment.
func ClassContextFor(e Enrollment) *ClassContext {
	if e.GroupID == "" && e.ClassID == "" {
		return nil
	}
	return &ClassContext{
		GroupID:      e.GroupID,
		ClassID:      e.ClassID,
		ReadingClass: e.ClassID != "",
	}
}

// =============================================================================
// EXTERNAL COLLABORATORS - Narrow repository interfaces
// =============================================================================

// AcademicDirectory is the read-only view of the registrar's records that
// pricing and reconciliation depend on. Implementations wrap whatever
// persistence the host system uses; the engine never sees an ORM.
type AcademicDirectory interface {
	// Student returns the student record for an ID.
	Student(ctx context.Context, id StudentID) (Student, error)

	// Course returns the course record for an ID.
	Course(ctx context.Context, id CourseID) (Course, error)

	// Term returns term metadata, including the pricing date.
	Term(ctx context.Context, id TermID) (Term, error)

	// ListEnrollments returns a student's enrollments for a term.
	// Dropped enrollments are excluded unless includeDropped is set.
	ListEnrollments(ctx context.Context, student StudentID, term TermID, includeDropped bool) ([]Enrollment, error)
}

// GroupSizer reports the live size of a senior-project group.
type GroupSizer interface {
	GroupSize(ctx context.Context, group GroupID) (int, error)
}

// ClassRoster reports the live enrolled count of a class (enrolled, not
// capacity).
type ClassRoster interface {
	EnrolledCount(ctx context.Context, class ClassID) (int, error)
}
