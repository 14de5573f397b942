package models

import (
	"os"
	"strconv"
	"time"
)

// HarnessConfig carries every knob the experiment harness needs. It is
// constructed once at startup and passed explicitly into the orchestrator;
// nothing reads configuration from ambient state after that.
type HarnessConfig struct {
	// LLM transport
	OpenAIKey     string
	OpenAIBaseURL string
	Temperature   float64
	MaxTokens     int
	CallTimeout   time.Duration

	// Model bindings per role
	TutorModel    string
	CritiqueModel string
	LearnerModel  string
	JudgeModel    string

	// Experiment shape
	DialogueTurns      int
	DeliberationRounds int
	Replicates         int
	Concurrency        int

	// Parsing and failure policy
	MinRescueDimensions        int
	ContinueAfterTurnFailure   bool
	FlagDeliberationExhaustion bool

	// Optional integrations
	DatabaseURL   string
	APIListenAddr string
	OutputDir     string
	ScenariosPath string
}

// LoadHarnessConfig builds the config from environment variables with
// defaults suitable for a local probe run.
func LoadHarnessConfig() *HarnessConfig {
	cfg := &HarnessConfig{
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Temperature:   envFloat("LLM_TEMPERATURE", 0.7),
		MaxTokens:     envInt("LLM_MAX_TOKENS", 2048),
		CallTimeout:   time.Duration(envInt("LLM_TIMEOUT_SECONDS", 120)) * time.Second,

		TutorModel:    envOr("TUTOR_MODEL", "gpt-4o-mini"),
		CritiqueModel: envOr("CRITIQUE_MODEL", "gpt-4o-mini"),
		LearnerModel:  envOr("LEARNER_MODEL", "gpt-4o-mini"),
		JudgeModel:    envOr("JUDGE_MODEL", "gpt-4o"),

		DialogueTurns:      envInt("DIALOGUE_TURNS", 3),
		DeliberationRounds: envInt("DELIBERATION_ROUNDS", 2),
		Replicates:         envInt("REPLICATES", 5),
		Concurrency:        envInt("CONCURRENCY", 4),

		MinRescueDimensions:        envInt("MIN_RESCUE_DIMENSIONS", 3),
		ContinueAfterTurnFailure:   envBool("CONTINUE_AFTER_TURN_FAILURE", true),
		FlagDeliberationExhaustion: envBool("FLAG_DELIBERATION_EXHAUSTION", true),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		APIListenAddr: envOr("API_LISTEN_ADDR", ""),
		OutputDir:     envOr("OUTPUT_DIR", "results"),
		ScenariosPath: envOr("SCENARIOS_PATH", ""),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
