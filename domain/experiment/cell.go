package experiment

import (
	"fmt"
	"strings"
)

// Condition is one combination of experiment factor levels (a cell of the
// 2x2x2 factorial design). Conditions are immutable values created at
// configuration time.
type Condition struct {
	// Name is an optional symbolic identifier (e.g. "recognition_multi")
	Name string `json:"name,omitempty"`

	// Recognition selects the recognition-framed prompt variant over the base variant
	Recognition bool `json:"recognition"`

	// TutorMulti enables the tutor-side ego/superego critique loop
	TutorMulti bool `json:"tutor_multi"`

	// LearnerMulti selects the multi-agent learner architecture
	LearnerMulti bool `json:"learner_multi"`
}

// CellKey canonically identifies a cell of the full factor cross
type CellKey string

// Key returns the canonical cell key for the condition's factor levels.
// The key depends only on the factor levels, never on the symbolic name.
func (c Condition) Key() CellKey {
	return NewCellKey(c.Recognition, c.TutorMulti, c.LearnerMulti)
}

// NewCellKey builds the canonical key for an explicit factor bundle
func NewCellKey(recognition, tutorMulti, learnerMulti bool) CellKey {
	return CellKey(fmt.Sprintf("recog=%s|tutor=%s|learner=%s",
		level(recognition), level(tutorMulti), level(learnerMulti)))
}

func level(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// AllCellKeys returns the 8 keys of the full 2x2x2 cross in a stable order
func AllCellKeys() []CellKey {
	keys := make([]CellKey, 0, 8)
	for _, r := range []bool{false, true} {
		for _, t := range []bool{false, true} {
			for _, l := range []bool{false, true} {
				keys = append(keys, NewCellKey(r, t, l))
			}
		}
	}
	return keys
}

// AllConditions returns the 8 conditions of the full cross in a stable order
func AllConditions() []Condition {
	conds := make([]Condition, 0, 8)
	for _, r := range []bool{false, true} {
		for _, t := range []bool{false, true} {
			for _, l := range []bool{false, true} {
				conds = append(conds, Condition{Recognition: r, TutorMulti: t, LearnerMulti: l})
			}
		}
	}
	return conds
}

// ParseCellKey recovers the factor levels from a canonical cell key
func ParseCellKey(key CellKey) (Condition, error) {
	var cond Condition
	parts := strings.Split(string(key), "|")
	if len(parts) != 3 {
		return cond, fmt.Errorf("malformed cell key %q", key)
	}
	for _, part := range parts {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || (kv[1] != "on" && kv[1] != "off") {
			return cond, fmt.Errorf("malformed cell key segment %q in %q", part, key)
		}
		on := kv[1] == "on"
		switch kv[0] {
		case "recog":
			cond.Recognition = on
		case "tutor":
			cond.TutorMulti = on
		case "learner":
			cond.LearnerMulti = on
		default:
			return cond, fmt.Errorf("unknown factor %q in cell key %q", kv[0], key)
		}
	}
	return cond, nil
}

// Factor names used by the ANOVA engine and reports
const (
	FactorRecognition = "recognition"
	FactorTutorMulti  = "tutor_multi"
	FactorLearnerMulti = "learner_multi"
)
