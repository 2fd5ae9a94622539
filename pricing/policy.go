/*
policy.go - Time-versioned pricing policies and the no-overlap invariant

PURPOSE:
  A PricingPolicy is a time-windowed price record for one pricing
  dimension: a cycle's default rate, a course's fixed override, or a
  group/class-size tier. Policies for the same entity must never have
  overlapping effective windows, so exactly one policy answers any
  (entity, date) lookup.

KEY CONCEPTS:
  - Window: [EffectiveDate, EndDate], nil EndDate = open-ended
  - ActiveAt: the policy covering a date; latest effective wins if the
    invariant was somehow violated
  - ValidateNoOverlap: write-time rejection of intersecting windows

PRICING-DATE RULE:
  Engine lookups always use the term's start date, never the payment date
  or "today". A tuition price is fixed when the term begins.

OWNERSHIP:
  Policies are maintained by administrative configuration. This package
  reads them as of a pricing date and validates writes; it never creates
  them on its own.

SEE ALSO:
  - engine.go: Consumes policies via the cascade
  - cache.go: TTL cache in front of a PolicyStore
  - store/memory.go, store/sqlite: Implementations
*/
package pricing

import "context"

// =============================================================================
// WINDOW - Effective period of a policy
// =============================================================================

// Window is the effective period of a policy. A nil End means open-ended.
type Window struct {
	Effective Date
	End       *Date
}

func OpenWindow(effective Date) Window { return Window{Effective: effective} }

func ClosedWindow(effective, end Date) Window {
	return Window{Effective: effective, End: &end}
}

// Contains reports whether the window covers the given date.
func (w Window) Contains(d Date) bool {
	if d.Before(w.Effective) {
		return false
	}
	return w.End == nil || d.BeforeOrEqual(*w.End)
}

// Overlaps reports whether two windows intersect, treating a nil End as
// extending to infinity.
func (w Window) Overlaps(other Window) bool {
	// w starts after other ends -> disjoint
	if other.End != nil && w.Effective.After(*other.End) {
		return false
	}
	// other starts after w ends -> disjoint
	if w.End != nil && other.Effective.After(*w.End) {
		return false
	}
	return true
}

// Valid reports whether the window is well-formed.
func (w Window) Valid() bool {
	return w.End == nil || w.Effective.BeforeOrEqual(*w.End)
}

func (w Window) String() string {
	if w.End == nil {
		return "[" + w.Effective.String() + ", open)"
	}
	return "[" + w.Effective.String() + ", " + w.End.String() + "]"
}

// =============================================================================
// PRICING POLICY
// =============================================================================

// PricingPolicy is one time-windowed price record. The domestic/foreign
// split is a column choice, not a separate policy: both prices share the
// same window.
type PricingPolicy struct {
	ID            PolicyID
	Entity        EntityRef
	PriceDomestic Money
	PriceForeign  Money
	Window        Window
	Currency      Currency
}

// PriceFor selects the domestic or foreign column.
func (p PricingPolicy) PriceFor(n Nationality) Money {
	if n == NationalityForeign {
		return p.PriceForeign
	}
	return p.PriceDomestic
}

// =============================================================================
// POLICY STORE - Time-versioned lookup interface
// =============================================================================

// PolicyStore is the lookup and configuration-write interface for pricing
// policies. ActiveAt returns (nil, nil) when no policy covers the date;
// absence is expected at optional cascade steps and is not an error.
type PolicyStore interface {
	// ActiveAt returns the policy for entity whose window covers asOf,
	// choosing the latest effective date if duplicates exist (which the
	// overlap invariant should prevent).
	ActiveAt(ctx context.Context, entity EntityRef, asOf Date) (*PricingPolicy, error)

	// Save persists a new or updated policy after overlap validation.
	// Returns OverlappingPolicyError if the window intersects an existing
	// policy for the same entity (excluding the policy's own ID).
	Save(ctx context.Context, policy PricingPolicy) error

	// ListByEntity returns all policies for an entity, ordered by
	// effective date.
	ListByEntity(ctx context.Context, entity EntityRef) ([]PricingPolicy, error)
}

// =============================================================================
// OVERLAP VALIDATION
// =============================================================================

// ValidateNoOverlap checks a proposed window against the existing policies
// for the same entity. excludeID skips the policy being edited. Store
// implementations call this before persisting.
func ValidateNoOverlap(existing []PricingPolicy, entity EntityRef, proposed Window, excludeID PolicyID) error {
	if !proposed.Valid() {
		return ErrInvalidWindow
	}
	for _, p := range existing {
		if p.ID == excludeID || p.Entity != entity {
			continue
		}
		if proposed.Overlaps(p.Window) {
			return &OverlappingPolicyError{
				Entity:     entity,
				Proposed:   proposed,
				ConflictID: p.ID,
				Conflict:   p.Window,
			}
		}
	}
	return nil
}

// ActivePolicy selects the covering policy from a slice, latest effective
// first on ties. Shared by store implementations.
func ActivePolicy(policies []PricingPolicy, asOf Date) *PricingPolicy {
	var best *PricingPolicy
	for i := range policies {
		p := &policies[i]
		if !p.Window.Contains(asOf) {
			continue
		}
		if best == nil || p.Window.Effective.After(best.Window.Effective) {
			best = p
		}
	}
	return best
}
