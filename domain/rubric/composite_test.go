package rubric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ratingSetOf(scores map[string]int) *RatingSet {
	dims := make(map[string]Rating, len(scores))
	for name, score := range scores {
		dims[name] = Rating{Score: score}
	}
	return NewRatingSet(dims, ConfidenceFull)
}

func allDimensionsAt(score int) map[string]int {
	scores := make(map[string]int)
	for name := range DefaultWeightTable() {
		scores[name] = score
	}
	return scores
}

func TestComputeComposites_FloorAndCeiling(t *testing.T) {
	table := DefaultWeightTable()

	floor := ComputeComposites(ratingSetOf(allDimensionsAt(1)), table)
	assert.Equal(t, 0.0, floor[GroupCore])
	assert.Equal(t, 0.0, floor[GroupExtended])

	ceiling := ComputeComposites(ratingSetOf(allDimensionsAt(5)), table)
	assert.Equal(t, 100.0, ceiling[GroupCore])
	assert.Equal(t, 100.0, ceiling[GroupExtended])
}

func TestComputeComposites_MidpointIsFiftyForAnySubset(t *testing.T) {
	table := DefaultWeightTable()

	subsets := []map[string]int{
		{"accuracy": 3},
		{"accuracy": 3, "clarity": 3},
		{"engagement": 3, "depth": 3, "coherence": 3},
		allDimensionsAt(3),
	}
	for _, subset := range subsets {
		bundle := ComputeComposites(ratingSetOf(subset), table)
		for group, score := range bundle {
			assert.InDelta(t, 50.0, score, 1e-9, "group %s with subset %v", group, subset)
		}
	}
}

func TestComputeComposites_RenormalizesOverPresentDimensions(t *testing.T) {
	table := DefaultWeightTable()

	// accuracy (w=2) at 5, clarity (w=1.5) at 1:
	// 100 * (2*4 + 1.5*0) / ((2+1.5)*4) = 100 * 8 / 14
	bundle := ComputeComposites(ratingSetOf(map[string]int{"accuracy": 5, "clarity": 1}), table)
	require.Contains(t, bundle, GroupCore)
	assert.InDelta(t, 100.0*8.0/14.0, bundle[GroupCore], 1e-9)

	// no extended dimension was scored, so the group is absent, not zero
	assert.NotContains(t, bundle, GroupExtended)
}

func TestComputeComposites_UnknownDimensionsIgnored(t *testing.T) {
	bundle := ComputeComposites(ratingSetOf(map[string]int{"accuracy": 5, "creativity": 1}), DefaultWeightTable())
	assert.InDelta(t, 100.0, bundle[GroupCore], 1e-9)
	assert.Len(t, bundle, 1)
}

func TestComputeComposites_NeverNaN(t *testing.T) {
	table := DefaultWeightTable()

	for _, rs := range []*RatingSet{nil, ratingSetOf(nil), ratingSetOf(map[string]int{"unknown": 3})} {
		bundle := ComputeComposites(rs, table)
		for group, score := range bundle {
			assert.False(t, math.IsNaN(score), "group %s", group)
		}
	}
}

func TestCombineOverall_WeightsGroups(t *testing.T) {
	weights := DefaultGroupWeights()

	overall := CombineOverall(CompositeBundle{GroupCore: 90, GroupExtended: 60}, weights)
	assert.InDelta(t, (2.0*90+1.0*60)/3.0, overall, 1e-9)

	// a missing group drops out of the denominator
	coreOnly := CombineOverall(CompositeBundle{GroupCore: 90}, weights)
	assert.InDelta(t, 90.0, coreOnly, 1e-9)

	assert.Equal(t, 0.0, CombineOverall(CompositeBundle{}, weights))
}

func TestScore_IncludesOverall(t *testing.T) {
	bundle := Score(ratingSetOf(allDimensionsAt(4)), DefaultWeightTable(), DefaultGroupWeights())
	require.Contains(t, bundle, GroupOverall)
	assert.InDelta(t, 75.0, bundle[GroupOverall], 1e-9)
	assert.InDelta(t, 75.0, bundle[GroupCore], 1e-9)
	assert.InDelta(t, 75.0, bundle[GroupExtended], 1e-9)
}

func TestScore_EmptyRatingSet(t *testing.T) {
	bundle := Score(nil, DefaultWeightTable(), DefaultGroupWeights())
	assert.Empty(t, bundle)
}
