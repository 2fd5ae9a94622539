package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tuition-engine/pricing"
	"github.com/warp/tuition-engine/pricing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type engineFixture struct {
	engine   *pricing.Engine
	policies *store.MemoryPolicyStore
	roster   *store.MemoryRoster
	locks    *store.MemoryTierLockStore
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()

	policies := store.NewMemoryPolicyStore()
	roster := store.NewMemoryRoster()
	locks := store.NewMemoryTierLockStore()

	effective := pricing.NewDate(2024, time.January, 1)
	rates := map[pricing.EntityRef]string{
		pricing.CycleRef("BA"): "250.60",
		pricing.CycleRef("MA"): "320.00",

		pricing.SeniorProjectTierRef(pricing.TierOneStudent):        "600.00",
		pricing.SeniorProjectTierRef(pricing.TierTwoStudents):       "450.00",
		pricing.SeniorProjectTierRef(pricing.TierThreeFourStudents): "350.00",
		pricing.SeniorProjectTierRef(pricing.TierFivePlus):          "280.00",

		pricing.ReadingClassTierRef("BA", pricing.TierTutorial): "400.00",
		pricing.ReadingClassTierRef("BA", pricing.TierSmall):    "300.00",
		pricing.ReadingClassTierRef("BA", pricing.TierMedium):   "250.60",
	}
	for entity, price := range rates {
		err := policies.Save(ctx, pricing.PricingPolicy{
			ID:            pricing.PolicyID("seed-" + entity.String()),
			Entity:        entity,
			PriceDomestic: usd(price),
			PriceForeign:  usd(price).Mul(decimal.NewFromFloat(1.5)).Round2(),
			Window:        pricing.OpenWindow(effective),
			Currency:      pricing.CurrencyUSD,
		})
		require.NoError(t, err)
	}

	engine := pricing.NewEngine(
		policies,
		pricing.NewSeniorProjectTierResolver(roster),
		pricing.NewReadingClassTierResolver(roster, locks),
	)
	return &engineFixture{engine: engine, policies: policies, roster: roster, locks: locks}
}

func testStudent() pricing.Student {
	return pricing.Student{ID: "s1", Name: "Student One", Nationality: pricing.NationalityDomestic}
}

func testTerm() pricing.Term {
	return pricing.Term{
		ID:        "2024-spring",
		Name:      "Spring 2024",
		StartDate: pricing.NewDate(2024, time.January, 8),
		EndDate:   pricing.NewDate(2024, time.May, 24),
	}
}

// =============================================================================
// CASCADE ORDER
// =============================================================================

func TestEngine_DefaultCycleRate(t *testing.T) {
	f := newEngineFixture(t)

	course := pricing.Course{ID: "hist-101", CycleID: "BA", Name: "History"}
	quote, err := f.engine.CalculateCoursePrice(context.Background(), course, testStudent(), testTerm(), nil)
	require.NoError(t, err)

	assert.Equal(t, pricing.PriceDefault, quote.PriceType)
	assert.Equal(t, "250.60", quote.Amount.Value.StringFixed(2))
}

func TestEngine_FixedOverrideBeatsDefault(t *testing.T) {
	// GIVEN: A course with an active fixed-price override
	// WHEN: Pricing it for a regular enrollment
	// THEN: The override wins over the cycle default

	f := newEngineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.policies.Save(ctx, pricing.PricingPolicy{
		ID:            "lab-override",
		Entity:        pricing.CourseRef("chem-lab"),
		PriceDomestic: usd("310.00"),
		PriceForeign:  usd("465.00"),
		Window:        pricing.OpenWindow(pricing.NewDate(2024, time.January, 1)),
		Currency:      pricing.CurrencyUSD,
	}))

	course := pricing.Course{ID: "chem-lab", CycleID: "BA", Name: "Chemistry Lab"}
	quote, err := f.engine.CalculateCoursePrice(ctx, course, testStudent(), testTerm(), nil)
	require.NoError(t, err)

	assert.Equal(t, pricing.PriceFixed, quote.PriceType)
	assert.Equal(t, "310.00", quote.Amount.Value.StringFixed(2))
}

func TestEngine_SeniorProjectBeatsFixedOverride(t *testing.T) {
	// A senior-project flag wins even when a fixed override exists for the
	// same course.
	f := newEngineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.policies.Save(ctx, pricing.PricingPolicy{
		ID:            "sp-override",
		Entity:        pricing.CourseRef("sp-1"),
		PriceDomestic: usd("100.00"),
		PriceForeign:  usd("150.00"),
		Window:        pricing.OpenWindow(pricing.NewDate(2024, time.January, 1)),
		Currency:      pricing.CurrencyUSD,
	}))
	f.roster.SetGroupSize("g1", 3)

	course := pricing.Course{ID: "sp-1", CycleID: "BA", Name: "Senior Project", SeniorProject: true}
	classCtx := &pricing.ClassContext{GroupID: "g1"}

	quote, err := f.engine.CalculateCoursePrice(ctx, course, testStudent(), testTerm(), classCtx)
	require.NoError(t, err)

	assert.Equal(t, pricing.PriceSeniorProject, quote.PriceType)
	assert.Equal(t, "350.00", quote.Amount.Value.StringFixed(2), "THREE_FOUR_STUDENTS tier")
}

func TestEngine_MissingCycleDefaultIsAnError(t *testing.T) {
	f := newEngineFixture(t)

	course := pricing.Course{ID: "phd-900", CycleID: "PHD", Name: "Dissertation"}
	_, err := f.engine.CalculateCoursePrice(context.Background(), course, testStudent(), testTerm(), nil)

	assert.ErrorIs(t, err, pricing.ErrPricingNotFound, "billing must never default to zero")
	var notFound *pricing.PricingNotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.Equal(t, pricing.CycleRef("PHD"), notFound.Entity)
}

// =============================================================================
// SENIOR PROJECT TIERS
// =============================================================================

func TestEngine_SeniorProjectTierByGroupSize(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	course := pricing.Course{ID: "sp-1", CycleID: "BA", SeniorProject: true}

	cases := []struct {
		size int
		want string
	}{
		{1, "600.00"},
		{2, "450.00"},
		{3, "350.00"},
		{4, "350.00"},
		{5, "280.00"},
		{9, "280.00"},
	}
	for _, tc := range cases {
		f.roster.SetGroupSize("g1", tc.size)
		quote, err := f.engine.CalculateCoursePrice(ctx, course, testStudent(), testTerm(), &pricing.ClassContext{GroupID: "g1"})
		require.NoError(t, err)
		assert.Equal(t, tc.want, quote.Amount.Value.StringFixed(2), "group size %d", tc.size)
	}
}

func TestEngine_SeniorProjectEachStudentPaysFullTierPrice(t *testing.T) {
	// Two students in the same group each pay the full TWO_STUDENTS price,
	// not a split of it.
	f := newEngineFixture(t)
	ctx := context.Background()

	f.roster.SetGroupSize("g1", 2)
	course := pricing.Course{ID: "sp-1", CycleID: "BA", SeniorProject: true}
	classCtx := &pricing.ClassContext{GroupID: "g1"}

	alice := pricing.Student{ID: "alice", Nationality: pricing.NationalityDomestic}
	bob := pricing.Student{ID: "bob", Nationality: pricing.NationalityDomestic}

	qa, err := f.engine.CalculateCoursePrice(ctx, course, alice, testTerm(), classCtx)
	require.NoError(t, err)
	qb, err := f.engine.CalculateCoursePrice(ctx, course, bob, testTerm(), classCtx)
	require.NoError(t, err)

	assert.Equal(t, "450.00", qa.Amount.Value.StringFixed(2))
	assert.Equal(t, "450.00", qb.Amount.Value.StringFixed(2))
}

func TestEngine_SeniorProjectNoGroupDefaultsToOneStudent(t *testing.T) {
	f := newEngineFixture(t)

	course := pricing.Course{ID: "sp-1", CycleID: "BA", SeniorProject: true}
	quote, err := f.engine.CalculateCoursePrice(context.Background(), course, testStudent(), testTerm(), nil)
	require.NoError(t, err)

	assert.Equal(t, "600.00", quote.Amount.Value.StringFixed(2), "unassigned students pay the ONE_STUDENT tier")
}

// =============================================================================
// READING CLASS TIERS + LOCK
// =============================================================================

func TestEngine_ReadingClassTierByEnrolledCount(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	course := pricing.Course{ID: "read-1", CycleID: "BA"}

	cases := []struct {
		enrolled int
		want     string
	}{
		{1, "400.00"},
		{2, "400.00"},
		{3, "300.00"},
		{5, "300.00"},
		{6, "250.60"},
	}
	for _, tc := range cases {
		f.roster.SetClassEnrolled("c1", tc.enrolled)
		quote, err := f.engine.CalculateCoursePrice(ctx, course, testStudent(), testTerm(),
			&pricing.ClassContext{ClassID: "c1", ReadingClass: true})
		require.NoError(t, err)
		assert.Equal(t, pricing.PriceReadingClass, quote.PriceType)
		assert.Equal(t, tc.want, quote.Amount.Value.StringFixed(2), "enrolled %d", tc.enrolled)
	}
}

func TestEngine_ReadingClassLockSurvivesRosterChanges(t *testing.T) {
	// GIVEN: A tutorial-size class whose tier was locked at quote time
	// WHEN: More students enroll afterwards
	// THEN: The locked student keeps the tutorial price

	f := newEngineFixture(t)
	ctx := context.Background()
	course := pricing.Course{ID: "read-1", CycleID: "BA"}
	classCtx := &pricing.ClassContext{ClassID: "c1", ReadingClass: true}

	f.roster.SetClassEnrolled("c1", 2)
	reading := pricing.NewReadingClassTierResolver(f.roster, f.locks)
	lock, err := reading.LockTier(ctx, "s1", "c1", testTerm().PricingDate())
	require.NoError(t, err)
	assert.Equal(t, pricing.TierTutorial, lock.Tier)

	// Roster grows past the tutorial threshold.
	f.roster.SetClassEnrolled("c1", 6)

	quote, err := f.engine.CalculateCoursePrice(ctx, course, testStudent(), testTerm(), classCtx)
	require.NoError(t, err)
	assert.Equal(t, "400.00", quote.Amount.Value.StringFixed(2), "locked tier must not move")

	// An unlocked student in the same class gets the live tier.
	other := pricing.Student{ID: "s2", Nationality: pricing.NationalityDomestic}
	quote, err = f.engine.CalculateCoursePrice(ctx, course, other, testTerm(), classCtx)
	require.NoError(t, err)
	assert.Equal(t, "250.60", quote.Amount.Value.StringFixed(2))
}

func TestReadingClassTierResolver_LockTierIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.roster.SetClassEnrolled("c1", 2)
	reading := pricing.NewReadingClassTierResolver(f.roster, f.locks)

	first, err := reading.LockTier(ctx, "s1", "c1", pricing.NewDate(2024, time.January, 8))
	require.NoError(t, err)

	f.roster.SetClassEnrolled("c1", 10)
	second, err := reading.LockTier(ctx, "s1", "c1", pricing.NewDate(2024, time.March, 1))
	require.NoError(t, err)

	assert.Equal(t, first, second, "relocking returns the existing lock unchanged")
}

// =============================================================================
// PRICING DATE RULE
// =============================================================================

func TestEngine_UsesTermStartDateNotToday(t *testing.T) {
	// GIVEN: The BA rate changed after the term started
	// WHEN: Pricing an enrollment in that term
	// THEN: The rate in force at term start applies

	f := newEngineFixture(t)
	ctx := context.Background()

	// Close the seeded open window and add a newer, higher rate.
	endOld := pricing.NewDate(2024, time.June, 30)
	old := baSeedPolicy(t, f, ctx)
	old.Window.End = &endOld
	require.NoError(t, f.policies.Save(ctx, old))
	require.NoError(t, f.policies.Save(ctx, pricing.PricingPolicy{
		ID:            "ba-2024h2",
		Entity:        pricing.CycleRef("BA"),
		PriceDomestic: usd("275.00"),
		PriceForeign:  usd("412.50"),
		Window:        pricing.OpenWindow(pricing.NewDate(2024, time.July, 1)),
		Currency:      pricing.CurrencyUSD,
	}))

	course := pricing.Course{ID: "hist-101", CycleID: "BA"}
	quote, err := f.engine.CalculateCoursePrice(ctx, course, testStudent(), testTerm(), nil)
	require.NoError(t, err)

	assert.Equal(t, "250.60", quote.Amount.Value.StringFixed(2),
		"spring term keeps the rate in force at its start date")
}

func baSeedPolicy(t *testing.T, f *engineFixture, ctx context.Context) pricing.PricingPolicy {
	t.Helper()
	policies, err := f.policies.ListByEntity(ctx, pricing.CycleRef("BA"))
	require.NoError(t, err)
	require.NotEmpty(t, policies)
	return policies[0]
}

// =============================================================================
// TIER PRICE LOOKUP (used by reconciliation)
// =============================================================================

func TestEngine_TierPriceAt(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	asOf := pricing.NewDate(2024, time.January, 8)

	price, ok, err := f.engine.TierPriceAt(ctx, pricing.TierTwoStudents, pricing.NationalityDomestic, asOf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "450.00", price.Value.StringFixed(2))

	_, ok, err = f.engine.TierPriceAt(ctx, pricing.Tier("UNKNOWN"), pricing.NationalityDomestic, asOf)
	require.NoError(t, err)
	assert.False(t, ok, "missing tier policy is absence, not an error")
}
