/*
tier.go - Group/class size tier resolution

PURPOSE:
  Derives a discrete pricing tier from dynamic group or class composition.
  Two resolvers share the same contract:

  SeniorProjectTierResolver:
    Tier from the student's project group size. Each student in the group
    pays the FULL per-tier price, not a split of a total - smaller groups
    pay a higher individual price.

  ReadingClassTierResolver:
    Tier from the live enrolled count of the class (not capacity). Once
    pricing is confirmed with the student, the tier can be LOCKED: later
    roster changes must not alter an already-quoted price.

TIER TABLES:
  Senior project: ONE_STUDENT (<=1), TWO_STUDENTS (<=2),
                  THREE_FOUR_STUDENTS (<=4), FIVE_PLUS (>4)
  Reading class:  TUTORIAL (<=2), SMALL (<=5), MEDIUM (>5)

NO-GROUP DEFAULT:
  A student without an assigned group is priced at ONE_STUDENT, the most
  expensive tier. A conservative upper bound: the quote can only go down
  once the group is known.

SEE ALSO:
  - engine.go: Delegates to these resolvers in the cascade
  - types.go: SeniorProjectTierRef / ReadingClassTierRef keying
*/
package pricing

import "context"

// =============================================================================
// TIERS
// =============================================================================

type Tier string

// Senior-project tiers, by group size.
const (
	TierOneStudent        Tier = "ONE_STUDENT"
	TierTwoStudents       Tier = "TWO_STUDENTS"
	TierThreeFourStudents Tier = "THREE_FOUR_STUDENTS"
	TierFivePlus          Tier = "FIVE_PLUS"
)

// Reading-class tiers, by enrolled count.
const (
	TierTutorial Tier = "TUTORIAL"
	TierSmall    Tier = "SMALL"
	TierMedium   Tier = "MEDIUM"
)

// SeniorProjectTiers returns the senior-project tier ladder, smallest
// group first. Reconciliation walks this when guessing a tier from an
// implied amount.
func SeniorProjectTiers() []Tier {
	return []Tier{TierOneStudent, TierTwoStudents, TierThreeFourStudents, TierFivePlus}
}

// TierForGroupSize maps a senior-project group size to its tier.
func TierForGroupSize(size int) Tier {
	switch {
	case size <= 1:
		return TierOneStudent
	case size <= 2:
		return TierTwoStudents
	case size <= 4:
		return TierThreeFourStudents
	default:
		return TierFivePlus
	}
}

// TierForClassSize maps a reading-class enrolled count to its tier.
func TierForClassSize(enrolled int) Tier {
	switch {
	case enrolled <= 2:
		return TierTutorial
	case enrolled <= 5:
		return TierSmall
	default:
		return TierMedium
	}
}

// =============================================================================
// SENIOR PROJECT TIER RESOLVER
// =============================================================================

type SeniorProjectTierResolver struct {
	Groups GroupSizer
}

func NewSeniorProjectTierResolver(groups GroupSizer) *SeniorProjectTierResolver {
	return &SeniorProjectTierResolver{Groups: groups}
}

// ResolveTier returns the tier for a senior-project enrollment. An empty
// group defaults to ONE_STUDENT.
func (r *SeniorProjectTierResolver) ResolveTier(ctx context.Context, group GroupID) (Tier, error) {
	if group == "" {
		return TierOneStudent, nil
	}
	size, err := r.Groups.GroupSize(ctx, group)
	if err != nil {
		return "", err
	}
	return TierForGroupSize(size), nil
}

// =============================================================================
// READING CLASS TIER RESOLVER + PRICE LOCK
// =============================================================================

// TierLock records "priced as tier X on date Y" for a (student, class)
// pair. Once a lock exists, resolution returns the locked tier no matter
// how the roster has moved since.
type TierLock struct {
	StudentID StudentID
	ClassID   ClassID
	Tier      Tier
	PricedOn  Date
}

// TierLockStore persists tier locks. Get returns (nil, nil) when no lock
// exists.
type TierLockStore interface {
	Get(ctx context.Context, student StudentID, class ClassID) (*TierLock, error)
	Save(ctx context.Context, lock TierLock) error
}

type ReadingClassTierResolver struct {
	Rosters ClassRoster
	Locks   TierLockStore
}

func NewReadingClassTierResolver(rosters ClassRoster, locks TierLockStore) *ReadingClassTierResolver {
	return &ReadingClassTierResolver{Rosters: rosters, Locks: locks}
}

// ResolveTier returns the tier for a student in a reading class: the
// locked tier if one was recorded, otherwise the tier implied by the live
// enrolled count.
func (r *ReadingClassTierResolver) ResolveTier(ctx context.Context, student StudentID, class ClassID) (Tier, error) {
	if r.Locks != nil {
		lock, err := r.Locks.Get(ctx, student, class)
		if err != nil {
			return "", err
		}
		if lock != nil {
			return lock.Tier, nil
		}
	}
	enrolled, err := r.Rosters.EnrolledCount(ctx, class)
	if err != nil {
		return "", err
	}
	return TierForClassSize(enrolled), nil
}

// LockTier computes the current tier and records it so later enrollment
// changes cannot move the quoted price. Idempotent: an existing lock is
// returned unchanged.
func (r *ReadingClassTierResolver) LockTier(ctx context.Context, student StudentID, class ClassID, asOf Date) (TierLock, error) {
	existing, err := r.Locks.Get(ctx, student, class)
	if err != nil {
		return TierLock{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	enrolled, err := r.Rosters.EnrolledCount(ctx, class)
	if err != nil {
		return TierLock{}, err
	}
	lock := TierLock{
		StudentID: student,
		ClassID:   class,
		Tier:      TierForClassSize(enrolled),
		PricedOn:  asOf,
	}
	if err := r.Locks.Save(ctx, lock); err != nil {
		return TierLock{}, err
	}
	return lock, nil
}
