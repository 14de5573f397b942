package anova

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"tutorlab/domain/experiment"
)

// Render formats an ANOVA result as a readable text report. Statistically
// significant effects (p < .05) are starred. When handed an upstream error
// instead of a result it renders a readable message; it never panics.
func Render(result *Result, err error) string {
	if err != nil {
		return fmt.Sprintf("ANOVA unavailable: %v\n", err)
	}
	if result == nil {
		return "ANOVA unavailable: no result computed\n"
	}

	var b strings.Builder
	b.WriteString("Three-Way ANOVA (2x2x2 factorial)\n")
	b.WriteString(strings.Repeat("=", 78) + "\n")
	fmt.Fprintf(&b, "N = %d observations, grand mean = %.3f, SS_total = %.3f\n\n", result.N, result.GrandMean, result.SSTotal)

	fmt.Fprintf(&b, "%-42s %10s %4s %10s %8s %8s %7s\n", "Effect", "SS", "df", "MS", "F", "p", "eta_p2")
	b.WriteString(strings.Repeat("-", 94) + "\n")
	for _, e := range result.Effects {
		mark := " "
		if e.Significant() {
			mark = "*"
		}
		fmt.Fprintf(&b, "%-42s %10.3f %4.0f %10.3f %8s %8s %7.3f %s\n",
			e.Name, e.SS, e.DF, e.MS, formatF(e.F), formatP(e.P), e.PartialEta2, mark)
	}
	fmt.Fprintf(&b, "%-42s %10.3f %4.0f %10.3f\n", "error (pooled within-cell)", result.ErrorSS, result.ErrorDF, result.ErrorMS)
	b.WriteString("\nMarginal means:\n")

	factors := []string{experiment.FactorRecognition, experiment.FactorTutorMulti, experiment.FactorLearnerMulti}
	for _, factor := range factors {
		levels, ok := result.MarginalMeans[factor]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  %-14s on = %8.3f   off = %8.3f   diff = %+8.3f\n",
			factor, levels["on"], levels["off"], levels["on"]-levels["off"])
	}

	b.WriteString("\nCell means:\n")
	keys := make([]string, 0, len(result.CellMeans))
	for key := range result.CellMeans {
		keys = append(keys, string(key))
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, "  %-36s mean = %8.3f (n=%d)\n", key,
			result.CellMeans[experiment.CellKey(key)], result.CellSizes[experiment.CellKey(key)])
	}

	b.WriteString("\n* p < .05\n")
	return b.String()
}

func formatF(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.3f", f)
}

func formatP(p float64) string {
	if p < 0.001 {
		return "<.001"
	}
	return fmt.Sprintf("%.3f", p)
}
