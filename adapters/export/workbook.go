package export

import (
	"fmt"
	"math"

	"github.com/xuri/excelize/v2"

	"tutorlab/adapters/stats/anova"
	"tutorlab/domain/dialogue"
	"tutorlab/domain/experiment"
	"tutorlab/domain/rubric"
)

// WriteWorkbook saves one run's sessions and factorial results as an xlsx
// workbook: a Sessions sheet with per-session composites, a Scores sheet with
// the raw per-cell replicate values, and one ANOVA sheet per score group.
func WriteWorkbook(path string, sessions []*dialogue.Session, results map[string]*anova.Result, tables map[string]anova.ScoreTable) error {
	f := excelize.NewFile()

	// Ensure Sheet1 exists and is active.
	sheet := "Sessions"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to rename sessions sheet: %w", err)
	}

	if err := writeSessionsSheet(f, sheet, sessions); err != nil {
		return err
	}
	for group, table := range tables {
		if err := writeScoresSheet(f, "Scores "+group, table); err != nil {
			return err
		}
	}
	for group, result := range results {
		if err := writeAnovaSheet(f, "ANOVA "+group, result); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeSessionsSheet(f *excelize.File, sheet string, sessions []*dialogue.Session) error {
	headers := []interface{}{
		"session_id", "cell_key", "condition", "scenario", "replicate", "state",
		"turns", "scored_turns", "overall_mean", "total_tokens", "latency_ms",
	}
	if err := writeRow(f, sheet, 1, headers); err != nil {
		return err
	}
	rowIdx := 2
	for _, s := range sessions {
		if s == nil {
			continue
		}
		overall := s.ScoredValues(rubric.GroupOverall)
		row := []interface{}{
			s.ID.String(), string(s.CellKey), s.Condition.Name, s.Scenario.String(),
			s.Replicate, string(s.State), len(s.Turns), len(overall),
			meanOrBlank(overall), s.Metrics.TotalTokens, s.Metrics.Latency.Milliseconds(),
		}
		if err := writeRow(f, sheet, rowIdx, row); err != nil {
			return err
		}
		rowIdx++
	}
	return nil
}

func writeScoresSheet(f *excelize.File, sheet string, table anova.ScoreTable) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}
	if err := writeRow(f, sheet, 1, []interface{}{"cell_key", "replicate", "score"}); err != nil {
		return err
	}
	rowIdx := 2
	for _, key := range experiment.AllCellKeys() {
		for rep, score := range table[key] {
			if err := writeRow(f, sheet, rowIdx, []interface{}{string(key), rep, score}); err != nil {
				return err
			}
			rowIdx++
		}
	}
	return nil
}

func writeAnovaSheet(f *excelize.File, sheet string, result *anova.Result) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}
	headers := []interface{}{"effect", "ss", "df", "ms", "f", "p", "partial_eta2", "significant"}
	if err := writeRow(f, sheet, 1, headers); err != nil {
		return err
	}
	rowIdx := 2
	for _, e := range result.Effects {
		row := []interface{}{e.Name, e.SS, e.DF, e.MS, finiteOrText(e.F), e.P, e.PartialEta2, e.Significant()}
		if err := writeRow(f, sheet, rowIdx, row); err != nil {
			return err
		}
		rowIdx++
	}
	if err := writeRow(f, sheet, rowIdx, []interface{}{"error", result.ErrorSS, result.ErrorDF, result.ErrorMS}); err != nil {
		return err
	}
	rowIdx++
	if err := writeRow(f, sheet, rowIdx, []interface{}{"total", result.SSTotal, float64(result.N - 1)}); err != nil {
		return err
	}
	rowIdx += 2
	if err := writeRow(f, sheet, rowIdx, []interface{}{"grand_mean", result.GrandMean, "n", result.N}); err != nil {
		return err
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, rowIdx int, values []interface{}) error {
	for c, v := range values {
		cell, _ := excelize.CoordinatesToCellName(c+1, rowIdx)
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to write %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func meanOrBlank(values []float64) interface{} {
	if len(values) == 0 {
		return ""
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// finiteOrText keeps infinite F ratios representable in a cell
func finiteOrText(x float64) interface{} {
	if math.IsInf(x, 1) {
		return "Inf"
	}
	return x
}
