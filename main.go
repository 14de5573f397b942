package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"tutorlab/adapters/api"
	"tutorlab/adapters/export"
	"tutorlab/adapters/judge"
	"tutorlab/adapters/postgres"
	"tutorlab/adapters/stats/anova"
	"tutorlab/ai"
	"tutorlab/domain/core"
	"tutorlab/domain/dialogue"
	"tutorlab/domain/experiment"
	"tutorlab/domain/rubric"
	"tutorlab/internal/harness"
	"tutorlab/models"
	"tutorlab/ports"
)

func main() {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Printf("[Main] No .env file found, using system environment")
	}

	cfg := models.LoadHarnessConfig()
	if cfg.OpenAIKey == "" {
		log.Fatal("[Main] OPENAI_API_KEY is required")
	}

	ctx := context.Background()

	sink, db := initSink(ctx, cfg)
	if db != nil {
		defer db.Close()
	}

	client := ai.NewChatClient(cfg)
	tutor := ai.NewTutorAgent(client)
	learner := ai.NewLearnerAgent(client)
	judgeAgent := ai.NewJudgeAgent(client, cfg.JudgeModel)
	parser := judge.NewParser(judge.WithMinRescueDimensions(cfg.MinRescueDimensions))

	orchestrator := harness.NewOrchestrator(tutor, learner, judgeAgent, parser, sink, harness.Config{
		CallTimeout:                cfg.CallTimeout,
		ContinueAfterTurnFailure:   cfg.ContinueAfterTurnFailure,
		FlagDeliberationExhaustion: cfg.FlagDeliberationExhaustion,
	})

	resolver := experiment.NewResolver(experiment.ResolverConfig{
		TutorModel:         cfg.TutorModel,
		CritiqueModel:      cfg.CritiqueModel,
		LearnerModel:       cfg.LearnerModel,
		DialogueTurns:      cfg.DialogueTurns,
		DeliberationRounds: cfg.DeliberationRounds,
	})

	scenarios, err := loadScenarios(cfg.ScenariosPath)
	if err != nil {
		log.Fatalf("[Main] Failed to load scenarios: %v", err)
	}
	specs := harness.ExpandSpecs(resolver, scenarios, cfg.Replicates)

	runID := core.RunID(core.NewID())
	registry := api.NewRegistry()
	registry.StartRun(runID, len(specs))
	log.Printf("[Main] Run %s: %d conditions x %d scenarios x %d replicates = %d sessions",
		runID, len(resolver.KnownConditions()), len(scenarios), cfg.Replicates, len(specs))

	if cfg.APIListenAddr != "" {
		server := api.NewServer(registry)
		go func() {
			log.Printf("[Main] Status API listening on %s", cfg.APIListenAddr)
			if err := http.ListenAndServe(cfg.APIListenAddr, server); err != nil {
				log.Printf("[Main] Status API stopped: %v", err)
			}
		}()
	}

	batch := orchestrator.RunBatch(ctx, specs, cfg.Concurrency)
	for _, session := range batch.Sessions {
		if session != nil {
			registry.RecordSession(runID, session)
		} else {
			registry.RecordFailure(runID)
		}
	}
	for _, failure := range batch.Failures {
		log.Printf("[Main] Session failed: cell=%s scenario=%s rep=%d: %v",
			failure.Spec.Plan.Condition.Key(), failure.Spec.Scenario.ID, failure.Spec.Replicate, failure.Err)
	}

	results, tables := analyze(batch.Sessions, runID, registry)
	state := api.RunStateComplete
	if len(results) == 0 {
		state = api.RunStateFailed
	}
	registry.FinishRun(runID, state, "")

	if err := writeOutputs(cfg.OutputDir, runID, batch.Sessions, results, tables); err != nil {
		log.Printf("[Main] Export failed: %v", err)
	}

	if cfg.APIListenAddr != "" {
		log.Printf("[Main] Run finished; status API remains available (Ctrl+C to exit)")
		select {}
	}
}

// initSink connects the Postgres session sink when DATABASE_URL is set and
// falls back to the no-op sink otherwise.
func initSink(ctx context.Context, cfg *models.HarnessConfig) (ports.SessionSink, *sqlx.DB) {
	if cfg.DatabaseURL == "" {
		log.Printf("[Main] DATABASE_URL not set, session persistence disabled")
		return ports.NopSink{}, nil
	}
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[Main] Failed to connect to database: %v", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("[Main] Failed to ensure schema: %v", err)
	}
	log.Printf("[Main] Session persistence enabled")
	return postgres.NewSessionRepository(db), db
}

// loadScenarios reads the scenario file, or falls back to a built-in probe
// set when no path is configured.
func loadScenarios(path string) ([]experiment.Scenario, error) {
	if path == "" {
		return defaultScenarios(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios file: %w", err)
	}
	var scenarios []experiment.Scenario
	if err := json.Unmarshal(data, &scenarios); err != nil {
		return nil, fmt.Errorf("failed to parse scenarios file: %w", err)
	}
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("scenarios file %s is empty", path)
	}
	return scenarios, nil
}

func defaultScenarios() []experiment.Scenario {
	return []experiment.Scenario{
		{
			ID:      "fractions-compare",
			Topic:   "comparing fractions with unlike denominators",
			Opening: "I don't get why 3/4 is bigger than 5/8. Five is more than three, right?",
		},
		{
			ID:      "photosynthesis-inputs",
			Topic:   "what plants need for photosynthesis",
			Opening: "My teacher said plants eat sunlight but that makes no sense to me.",
		},
		{
			ID:    "negative-numbers",
			Topic: "subtracting negative numbers",
		},
	}
}

// analyze computes the factorial decomposition for each composite group that
// yields a full 8-cell table.
func analyze(sessions []*dialogue.Session, runID core.RunID, registry *api.Registry) (map[string]*anova.Result, map[string]anova.ScoreTable) {
	results := make(map[string]*anova.Result)
	tables := make(map[string]anova.ScoreTable)
	for _, group := range []string{rubric.GroupCore, rubric.GroupExtended, rubric.GroupOverall} {
		table := anova.AssembleFromSessions(sessions, group)
		result, err := anova.Compute(table)
		fmt.Println(anova.Render(result, err))
		if err != nil {
			log.Printf("[Main] Analysis for group %q unavailable: %v", group, err)
			continue
		}
		results[group] = result
		tables[group] = table
		registry.RecordResult(runID, group, result)
	}
	return results, tables
}

// writeOutputs saves the xlsx workbook plus markdown and HTML reports
func writeOutputs(dir string, runID core.RunID, sessions []*dialogue.Session, results map[string]*anova.Result, tables map[string]anova.ScoreTable) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	base := filepath.Join(dir, "run-"+runID.String())
	if err := export.WriteWorkbook(base+".xlsx", sessions, results, tables); err != nil {
		return err
	}
	if err := export.WriteReport(base+".md", base+".html", runID.String(), sessions, results); err != nil {
		return err
	}
	log.Printf("[Main] Wrote %s.xlsx, %s.md, %s.html", base, base, base)
	return nil
}
