package rubric

// DimensionWeight assigns a rubric dimension to a composite group with a weight
type DimensionWeight struct {
	Group  string  `json:"group"`
	Weight float64 `json:"weight"`
}

// WeightTable maps dimension name to its composite group and weight
type WeightTable map[string]DimensionWeight

// GroupWeights maps composite group name to its weight inside the overall composite
type GroupWeights map[string]float64

// Composite group names
const (
	GroupCore     = "core"
	GroupExtended = "extended"
	GroupOverall  = "overall"
)

// CompositeBundle maps composite group name to a 0-100 score. Purely derived
// from a rating set and a weight table; recomputable at any time.
type CompositeBundle map[string]float64

// DefaultWeightTable is the tutoring rubric grouping. Core covers the
// dimensions every response is accountable for; extended covers the
// pedagogy-sensitive ones the recognition conditions target.
func DefaultWeightTable() WeightTable {
	return WeightTable{
		"accuracy":       {Group: GroupCore, Weight: 2.0},
		"clarity":        {Group: GroupCore, Weight: 1.5},
		"scaffolding":    {Group: GroupCore, Weight: 1.5},
		"responsiveness": {Group: GroupCore, Weight: 1.0},
		"engagement":     {Group: GroupExtended, Weight: 1.0},
		"recognition":    {Group: GroupExtended, Weight: 1.5},
		"adaptivity":     {Group: GroupExtended, Weight: 1.0},
		"depth":          {Group: GroupExtended, Weight: 1.0},
		"encouragement":  {Group: GroupExtended, Weight: 0.5},
		"coherence":      {Group: GroupExtended, Weight: 0.5},
	}
}

// DefaultGroupWeights combines the group composites into the overall score
func DefaultGroupWeights() GroupWeights {
	return GroupWeights{
		GroupCore:     2.0,
		GroupExtended: 1.0,
	}
}

// ComputeComposites converts a rating set into one composite per group:
//
//	100 * sum(w_i * (score_i - 1)) / sum(w_i * 4)
//
// restricted to dimensions present in both the rating set and the group.
// Weights renormalize over only the dimensions actually scored, so a
// partially rated set is not penalized for missing dimensions. A group with
// no scored dimensions contributes 0, never NaN, and is omitted from the
// bundle so callers can tell "scored 0" from "not scored".
func ComputeComposites(rs *RatingSet, table WeightTable) CompositeBundle {
	bundle := make(CompositeBundle)
	if rs == nil {
		return bundle
	}

	weighted := make(map[string]float64)
	maxima := make(map[string]float64)
	for name, rating := range rs.Dimensions {
		dw, ok := table[name]
		if !ok {
			continue
		}
		weighted[dw.Group] += dw.Weight * float64(rating.Score-1)
		maxima[dw.Group] += dw.Weight * 4
	}

	for group, max := range maxima {
		if max <= 0 {
			bundle[group] = 0
			continue
		}
		bundle[group] = 100 * weighted[group] / max
	}
	return bundle
}

// CombineOverall folds group composites into a single overall score under the
// same renormalization rule: only groups present in the bundle carry weight.
// Returns 0 when no weighted group is present.
func CombineOverall(bundle CompositeBundle, weights GroupWeights) float64 {
	var sum, total float64
	for group, score := range bundle {
		w, ok := weights[group]
		if !ok {
			continue
		}
		sum += w * score
		total += w
	}
	if total <= 0 {
		return 0
	}
	return sum / total
}

// Score computes the full bundle including the overall composite
func Score(rs *RatingSet, table WeightTable, groups GroupWeights) CompositeBundle {
	bundle := ComputeComposites(rs, table)
	if len(bundle) > 0 {
		bundle[GroupOverall] = CombineOverall(bundle, groups)
	}
	return bundle
}
