package rubric

import (
	"sort"

	"tutorlab/domain/core"
)

// Rating is one judged rubric dimension: a 1-5 score plus the judge's rationale
type Rating struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale,omitempty"`
}

// ParseConfidence tags how a rating set was recovered from judge text.
// Downstream code must be able to tell a full structural parse from a
// pattern-extraction rescue; the two are never equal-confidence.
type ParseConfidence string

const (
	// ConfidenceFull means the judge output parsed as a complete structure
	ConfidenceFull ParseConfidence = "full"
	// ConfidenceRescue means only individual dimensions were recovered by
	// pattern extraction after structural parsing failed
	ConfidenceRescue ParseConfidence = "rescue"
)

// RatingSet holds the judge's per-dimension ratings for one turn.
// Produced once by the judge parser and immutable afterwards.
type RatingSet struct {
	Dimensions map[string]Rating `json:"dimensions"`
	Validation map[string]bool   `json:"validation,omitempty"`
	Overall    float64           `json:"overall,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	Confidence ParseConfidence   `json:"confidence"`
	ParsedAt   core.Timestamp    `json:"parsed_at"`
}

// NewRatingSet builds an immutable rating set, copying the dimension map
func NewRatingSet(dims map[string]Rating, confidence ParseConfidence) *RatingSet {
	copied := make(map[string]Rating, len(dims))
	for name, r := range dims {
		copied[name] = r
	}
	return &RatingSet{
		Dimensions: copied,
		Confidence: confidence,
		ParsedAt:   core.Now(),
	}
}

// DimensionNames returns the scored dimension names in sorted order
func (rs *RatingSet) DimensionNames() []string {
	names := make([]string, 0, len(rs.Dimensions))
	for name := range rs.Dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRescue reports whether this set came from the lower-confidence rescue path
func (rs *RatingSet) IsRescue() bool {
	return rs.Confidence == ConfidenceRescue
}
