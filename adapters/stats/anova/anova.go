package anova

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"

	"tutorlab/domain/core"
	"tutorlab/domain/experiment"
)

// ScoreTable maps each cell of the full 2x2x2 cross to its replicate scores.
// Assembled externally after all sessions complete; treated here as an
// immutable snapshot.
type ScoreTable map[experiment.CellKey][]float64

// Effect is one main effect or interaction of the factorial decomposition
type Effect struct {
	Name        string   `json:"name"`
	Factors     []string `json:"factors"`
	SS          float64  `json:"ss"`
	DF          float64  `json:"df"`
	MS          float64  `json:"ms"`
	F           float64  `json:"f"`
	P           float64  `json:"p"`
	PartialEta2 float64  `json:"partial_eta2"`
}

// Significant reports whether the effect clears the .05 threshold
func (e Effect) Significant() bool {
	return e.P < 0.05
}

// Result is the full fixed-effects three-way ANOVA decomposition
type Result struct {
	GrandMean float64 `json:"grand_mean"`
	SSTotal   float64 `json:"ss_total"`
	N         int     `json:"n"`

	Effects []Effect `json:"effects"`

	ErrorSS float64 `json:"error_ss"`
	ErrorDF float64 `json:"error_df"`
	ErrorMS float64 `json:"error_ms"`

	// MarginalMeans maps factor name -> level ("on"/"off") -> unweighted
	// mean over the four cells sharing that level
	MarginalMeans map[string]map[string]float64 `json:"marginal_means"`

	CellMeans map[experiment.CellKey]float64 `json:"cell_means"`
	CellSizes map[experiment.CellKey]int    `json:"cell_sizes"`
}

// floatTol bounds the rounding residue left by summing a few dozen doubles,
// relative to the magnitude of the values summed. Sums below it are
// indistinguishable from zero.
const floatTol = 1e-12

// snapSS clamps a sum of squares to exactly 0 when it sits below the
// accumulation noise floor for inputs of the given squared magnitude.
func snapSS(ss, sumSq float64) float64 {
	if ss < floatTol*sumSq {
		return 0
	}
	return ss
}

// factorLevel reads one factor's level out of a parsed condition
func factorLevel(cond experiment.Condition, factor string) bool {
	switch factor {
	case experiment.FactorRecognition:
		return cond.Recognition
	case experiment.FactorTutorMulti:
		return cond.TutorMulti
	case experiment.FactorLearnerMulti:
		return cond.LearnerMulti
	}
	return false
}

// effectTerms enumerates the 3 main effects, 3 two-way interactions and the
// three-way interaction of the 2x2x2 design, in reporting order.
func effectTerms() [][]string {
	r, t, l := experiment.FactorRecognition, experiment.FactorTutorMulti, experiment.FactorLearnerMulti
	return [][]string{
		{r}, {t}, {l},
		{r, t}, {r, l}, {t, l},
		{r, t, l},
	}
}

func effectName(factors []string) string {
	name := factors[0]
	for _, f := range factors[1:] {
		name += " x " + f
	}
	return name
}

// Compute runs the fixed-effects three-way ANOVA over an exactly-8-cell
// score table. Missing or empty cells are a hard input error, never
// zero-filled; non-finite scores are rejected before any arithmetic.
func Compute(table ScoreTable) (*Result, error) {
	if err := validate(table); err != nil {
		return nil, err
	}

	keys := experiment.AllCellKeys()
	cellMeans := make(map[experiment.CellKey]float64, 8)
	cellSizes := make(map[experiment.CellKey]int, 8)
	all := make([]float64, 0, len(table)*4)

	var errorSS float64
	var invSum float64
	for _, key := range keys {
		scores := table[key]
		mean, _ := stats.Mean(scores)
		cellMeans[key] = mean
		cellSizes[key] = len(scores)
		invSum += 1 / float64(len(scores))
		for _, x := range scores {
			all = append(all, x)
			errorSS += (x - mean) * (x - mean)
		}
	}

	grandMean, _ := stats.Mean(all)
	var ssTotal, sumSq float64
	for _, x := range all {
		ssTotal += (x - grandMean) * (x - grandMean)
		sumSq += x * x
	}

	// Identical scores leave rounding residue in the squared sums, not an
	// exact 0; snap anything below the accumulation noise floor so the
	// degenerate branches below see true zeros.
	errorSS = snapSS(errorSS, sumSq)
	ssTotal = snapSS(ssTotal, sumSq)

	// harmonic cell size keeps the contrast decomposition honest when the
	// design is unbalanced
	nHarmonic := 8 / invSum
	errorDF := float64(len(all) - 8)
	errorMS := 0.0
	if errorDF > 0 {
		errorMS = errorSS / errorDF
	}

	result := &Result{
		GrandMean:     grandMean,
		SSTotal:       ssTotal,
		N:             len(all),
		ErrorSS:       errorSS,
		ErrorDF:       errorDF,
		ErrorMS:       errorMS,
		MarginalMeans: marginalMeans(cellMeans),
		CellMeans:     cellMeans,
		CellSizes:     cellSizes,
	}

	for _, factors := range effectTerms() {
		effect, err := computeEffect(factors, cellMeans, nHarmonic, errorSS, errorDF, errorMS)
		if err != nil {
			return nil, err
		}
		result.Effects = append(result.Effects, effect)
	}
	return result, nil
}

// computeEffect derives one term's SS from the standard marginal-mean
// contrast: each cell mean enters with the product of its factor codings
// (+1 on, -1 off) restricted to the term's factors.
func computeEffect(factors []string, cellMeans map[experiment.CellKey]float64, nHarmonic, errorSS, errorDF, errorMS float64) (Effect, error) {
	var contrast, magnitude float64
	for key, mean := range cellMeans {
		cond, err := experiment.ParseCellKey(key)
		if err != nil {
			return Effect{}, core.NewScoreTableError(err.Error())
		}
		sign := 1.0
		for _, f := range factors {
			if !factorLevel(cond, f) {
				sign = -sign
			}
		}
		contrast += sign * mean
		magnitude += math.Abs(mean)
	}
	if math.Abs(contrast) < floatTol*magnitude {
		contrast = 0
	}

	ss := nHarmonic * contrast * contrast / 8
	effect := Effect{
		Name:    effectName(factors),
		Factors: factors,
		SS:      ss,
		DF:      1,
		MS:      ss,
	}

	// Zero pooled error variance makes the raw F ratio 0/0; identical scores
	// in every cell must come out as F = 0, never NaN.
	switch {
	case errorMS > 0:
		effect.F = effect.MS / errorMS
		fDist := distuv.F{D1: effect.DF, D2: errorDF}
		effect.P = fDist.Survival(effect.F)
	case ss == 0:
		effect.F = 0
		effect.P = 1
	default:
		effect.F = math.Inf(1)
		effect.P = 0
	}

	if ss == 0 && errorSS == 0 {
		effect.PartialEta2 = 0
	} else {
		effect.PartialEta2 = ss / (ss + errorSS)
	}
	return effect, nil
}

// marginalMeans averages cell means per factor level, collapsing over the
// other two factors (unweighted, so an unbalanced cell cannot drag a
// marginal mean toward its own level).
func marginalMeans(cellMeans map[experiment.CellKey]float64) map[string]map[string]float64 {
	factors := []string{experiment.FactorRecognition, experiment.FactorTutorMulti, experiment.FactorLearnerMulti}
	margins := make(map[string]map[string]float64, 3)
	for _, factor := range factors {
		sums := map[bool]float64{}
		counts := map[bool]int{}
		for key, mean := range cellMeans {
			cond, err := experiment.ParseCellKey(key)
			if err != nil {
				continue
			}
			on := factorLevel(cond, factor)
			sums[on] += mean
			counts[on]++
		}
		margins[factor] = map[string]float64{
			"on":  sums[true] / float64(counts[true]),
			"off": sums[false] / float64(counts[false]),
		}
	}
	return margins
}

// validate enforces the exact 2x2x2 shape: all 8 cells present, every cell
// non-empty, every score finite.
func validate(table ScoreTable) error {
	if table == nil {
		return core.NewScoreTableError("nil score table")
	}
	for _, key := range experiment.AllCellKeys() {
		scores, ok := table[key]
		if !ok {
			return core.NewMissingCellError(string(key))
		}
		if len(scores) == 0 {
			return core.NewEmptyCellError(string(key))
		}
		for i, x := range scores {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return core.NewScoreTableError(fmt.Sprintf("non-finite score at %s[%d]", key, i))
			}
		}
	}
	if len(table) != 8 {
		for key := range table {
			if _, err := experiment.ParseCellKey(key); err != nil {
				return core.NewScoreTableError(fmt.Sprintf("unknown cell key %q", key))
			}
		}
	}
	return nil
}
