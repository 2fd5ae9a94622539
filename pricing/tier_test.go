package pricing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/tuition-engine/pricing"
)

// =============================================================================
// TIER MAPPING BOUNDARIES
// =============================================================================

func TestTierForGroupSize(t *testing.T) {
	cases := []struct {
		size int
		want pricing.Tier
	}{
		{0, pricing.TierOneStudent},
		{1, pricing.TierOneStudent},
		{2, pricing.TierTwoStudents},
		{3, pricing.TierThreeFourStudents},
		{4, pricing.TierThreeFourStudents},
		{5, pricing.TierFivePlus},
		{12, pricing.TierFivePlus},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, pricing.TierForGroupSize(tc.size), "size %d", tc.size)
	}
}

func TestTierForClassSize(t *testing.T) {
	cases := []struct {
		enrolled int
		want     pricing.Tier
	}{
		{0, pricing.TierTutorial},
		{1, pricing.TierTutorial},
		{2, pricing.TierTutorial},
		{3, pricing.TierSmall},
		{5, pricing.TierSmall},
		{6, pricing.TierMedium},
		{40, pricing.TierMedium},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, pricing.TierForClassSize(tc.enrolled), "enrolled %d", tc.enrolled)
	}
}

func TestSeniorProjectTiers_Order(t *testing.T) {
	tiers := pricing.SeniorProjectTiers()
	assert.Equal(t, []pricing.Tier{
		pricing.TierOneStudent,
		pricing.TierTwoStudents,
		pricing.TierThreeFourStudents,
		pricing.TierFivePlus,
	}, tiers)
}
