package export

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorlab/adapters/stats/anova"
	"tutorlab/domain/core"
	"tutorlab/domain/dialogue"
	"tutorlab/domain/experiment"
	"tutorlab/domain/rubric"
)

func sampleRun(t *testing.T) ([]*dialogue.Session, map[string]*anova.Result, map[string]anova.ScoreTable) {
	t.Helper()

	table := make(anova.ScoreTable, 8)
	sessions := make([]*dialogue.Session, 0, 16)
	for _, cond := range experiment.AllConditions() {
		mean := 50.0
		if cond.Recognition {
			mean = 70.0
		}
		for rep := 0; rep < 2; rep++ {
			score := mean + float64(rep) - 0.5
			s := dialogue.NewSession(cond, core.ScenarioID("s"), rep)
			require.NoError(t, s.AppendTurn(dialogue.Turn{
				TutorContent: "x",
				Scores:       rubric.CompositeBundle{rubric.GroupOverall: score},
			}))
			s.Seal(dialogue.SessionStateComplete, "")
			sessions = append(sessions, s)
			table[cond.Key()] = append(table[cond.Key()], score)
		}
	}

	result, err := anova.Compute(table)
	require.NoError(t, err)
	return sessions,
		map[string]*anova.Result{rubric.GroupOverall: result},
		map[string]anova.ScoreTable{rubric.GroupOverall: table}
}

func TestRenderReport_CoversEffectsAndCells(t *testing.T) {
	sessions, results, _ := sampleRun(t)

	doc := RenderReport("run-42", sessions, results)
	assert.Contains(t, doc, "# Experiment Report run-42")
	assert.Contains(t, doc, "16 complete, 0 partial, 0 failed")
	assert.Contains(t, doc, experiment.FactorRecognition)
	assert.Contains(t, doc, "### Marginal means")
	for _, key := range experiment.AllCellKeys() {
		assert.Contains(t, doc, string(key))
	}
}

func TestRenderHTML_ProducesTables(t *testing.T) {
	sessions, results, _ := sampleRun(t)

	html := string(RenderHTML(RenderReport("run-42", sessions, results)))
	assert.Contains(t, html, "<h1")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, experiment.FactorRecognition)
}

func TestWriteReport_WritesBothFiles(t *testing.T) {
	sessions, results, _ := sampleRun(t)
	dir := t.TempDir()

	mdPath := filepath.Join(dir, "report.md")
	htmlPath := filepath.Join(dir, "report.html")
	require.NoError(t, WriteReport(mdPath, htmlPath, "run-42", sessions, results))

	assert.FileExists(t, mdPath)
	assert.FileExists(t, htmlPath)
}

func TestWriteWorkbook_WritesAllSheets(t *testing.T) {
	sessions, results, tables := sampleRun(t)
	path := filepath.Join(t.TempDir(), "run.xlsx")

	require.NoError(t, WriteWorkbook(path, sessions, results, tables))
	assert.FileExists(t, path)
}
