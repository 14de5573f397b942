package export

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"tutorlab/adapters/stats/anova"
	"tutorlab/domain/dialogue"
	"tutorlab/domain/experiment"
)

// RenderReport builds the run report as a markdown document: run summary,
// per-group effect tables and the 8-cell mean grid.
func RenderReport(runID string, sessions []*dialogue.Session, results map[string]*anova.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Experiment Report %s\n\n", runID)

	complete, partial, failed := 0, 0, 0
	for _, s := range sessions {
		if s == nil {
			continue
		}
		switch s.State {
		case dialogue.SessionStateComplete:
			complete++
		case dialogue.SessionStatePartial:
			partial++
		case dialogue.SessionStateFailed:
			failed++
		}
	}
	fmt.Fprintf(&b, "Sessions: %d complete, %d partial, %d failed (of %d)\n\n",
		complete, partial, failed, len(sessions))

	groups := make([]string, 0, len(results))
	for group := range results {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	for _, group := range groups {
		result := results[group]
		fmt.Fprintf(&b, "## %s composite\n\n", group)
		fmt.Fprintf(&b, "Grand mean %.2f over %d observations.\n\n", result.GrandMean, result.N)

		b.WriteString("| Effect | SS | df | F | p | partial eta2 | |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, e := range result.Effects {
			marker := ""
			if e.Significant() {
				marker = "*"
			}
			fmt.Fprintf(&b, "| %s | %.3f | %.0f | %s | %s | %.3f | %s |\n",
				e.Name, e.SS, e.DF, formatF(e.F), formatP(e.P), e.PartialEta2, marker)
		}
		fmt.Fprintf(&b, "| error | %.3f | %.0f | | | | |\n\n", result.ErrorSS, result.ErrorDF)

		b.WriteString("### Marginal means\n\n")
		b.WriteString("| Factor | on | off | diff |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, factor := range []string{experiment.FactorRecognition, experiment.FactorTutorMulti, experiment.FactorLearnerMulti} {
			m := result.MarginalMeans[factor]
			fmt.Fprintf(&b, "| %s | %.2f | %.2f | %+.2f |\n", factor, m["on"], m["off"], m["on"]-m["off"])
		}
		b.WriteString("\n### Cell means\n\n")
		b.WriteString("| Cell | mean | n |\n")
		b.WriteString("|---|---|---|\n")
		for _, key := range experiment.AllCellKeys() {
			fmt.Fprintf(&b, "| %s | %.2f | %d |\n", key, result.CellMeans[key], result.CellSizes[key])
		}
		b.WriteString("\n")
	}

	return b.String()
}

// WriteReport saves the markdown report and an HTML rendering of it
func WriteReport(mdPath, htmlPath, runID string, sessions []*dialogue.Session, results map[string]*anova.Result) error {
	doc := RenderReport(runID, sessions, results)
	if err := os.WriteFile(mdPath, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("failed to write markdown report: %w", err)
	}
	if err := os.WriteFile(htmlPath, RenderHTML(doc), 0o644); err != nil {
		return fmt.Errorf("failed to write html report: %w", err)
	}
	return nil
}

// RenderHTML converts the markdown report into a standalone HTML fragment
func RenderHTML(doc string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs | parser.Tables)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return markdown.ToHTML([]byte(doc), p, renderer)
}

func formatF(f float64) string {
	if math.IsInf(f, 1) {
		return "Inf"
	}
	return fmt.Sprintf("%.3f", f)
}

func formatP(p float64) string {
	if p < 0.001 {
		return "<.001"
	}
	return fmt.Sprintf("%.3f", p)
}
