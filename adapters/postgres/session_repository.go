package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"tutorlab/domain/core"
	"tutorlab/domain/dialogue"
	"tutorlab/ports"
)

// sessionRepository implements the SessionSink persistence collaborator
type sessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a session repository backed by Postgres
func NewSessionRepository(db *sqlx.DB) ports.SessionSink {
	return &sessionRepository{db: db}
}

// Schema creates the tables the repository writes to
const Schema = `
CREATE TABLE IF NOT EXISTS dialogue_sessions (
	id TEXT PRIMARY KEY,
	cell_key TEXT NOT NULL,
	condition_name TEXT NOT NULL DEFAULT '',
	scenario TEXT NOT NULL,
	replicate INT NOT NULL,
	state TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	opening TEXT NOT NULL DEFAULT '',
	prompt_tokens INT NOT NULL DEFAULT 0,
	completion_tokens INT NOT NULL DEFAULT 0,
	total_tokens INT NOT NULL DEFAULT 0,
	agent_calls INT NOT NULL DEFAULT 0,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ NOT NULL,
	sealed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS dialogue_turns (
	session_id TEXT NOT NULL REFERENCES dialogue_sessions(id),
	turn_index INT NOT NULL,
	tutor_content TEXT NOT NULL,
	learner_content TEXT NOT NULL DEFAULT '',
	deliberation JSONB,
	deliberation_exhausted BOOLEAN NOT NULL DEFAULT FALSE,
	ratings JSONB,
	scores JSONB,
	failure TEXT NOT NULL DEFAULT '',
	failure_detail TEXT NOT NULL DEFAULT '',
	prompt_tokens INT NOT NULL DEFAULT 0,
	completion_tokens INT NOT NULL DEFAULT 0,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	completed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, turn_index)
);
`

// EnsureSchema creates the tables if they do not exist
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure session schema: %w", err)
	}
	return nil
}

// RecordTurn upserts one turn as it completes. Sessions are inserted lazily
// on their first turn so a crashed run still leaves its turns queryable.
func (r *sessionRepository) RecordTurn(ctx context.Context, sessionID core.SessionID, turn dialogue.Turn) error {
	deliberationJSON, err := json.Marshal(turn.Deliberation)
	if err != nil {
		return fmt.Errorf("failed to marshal deliberation trace: %w", err)
	}
	ratingsJSON, err := json.Marshal(turn.Ratings)
	if err != nil {
		return fmt.Errorf("failed to marshal ratings: %w", err)
	}
	scoresJSON, err := json.Marshal(turn.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}

	// Register the session before its first turn so the turn's foreign key
	// resolves; SealSession fills in the real metadata at the end.
	stub := `INSERT INTO dialogue_sessions (id, cell_key, scenario, replicate, state, started_at)
		VALUES ($1, '', '', 0, $2, NOW())
		ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, stub, sessionID.String(), string(dialogue.SessionStateRunning)); err != nil {
		return fmt.Errorf("failed to register session %s: %w", sessionID, err)
	}

	query := `INSERT INTO dialogue_turns (
		session_id, turn_index, tutor_content, learner_content, deliberation,
		deliberation_exhausted, ratings, scores, failure, failure_detail,
		prompt_tokens, completion_tokens, latency_ms, completed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (session_id, turn_index) DO UPDATE SET
		tutor_content = EXCLUDED.tutor_content,
		learner_content = EXCLUDED.learner_content,
		deliberation = EXCLUDED.deliberation,
		ratings = EXCLUDED.ratings,
		scores = EXCLUDED.scores,
		failure = EXCLUDED.failure,
		failure_detail = EXCLUDED.failure_detail`

	_, err = r.db.ExecContext(ctx, query,
		sessionID.String(), turn.Index, turn.TutorContent, turn.LearnerContent, deliberationJSON,
		turn.DeliberationExhausted, ratingsJSON, scoresJSON, string(turn.Failure), turn.FailureDetail,
		turn.Metrics.PromptTokens, turn.Metrics.CompletionTokens, turn.Metrics.Latency.Milliseconds(),
		turn.CompletedAt.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to record turn %d of session %s: %w", turn.Index, sessionID, err)
	}
	return nil
}

// SealSession writes the session row in its terminal state
func (r *sessionRepository) SealSession(ctx context.Context, session *dialogue.Session) error {
	query := `INSERT INTO dialogue_sessions (
		id, cell_key, condition_name, scenario, replicate, state, error_message, opening,
		prompt_tokens, completion_tokens, total_tokens, agent_calls, latency_ms,
		started_at, sealed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (id) DO UPDATE SET
		cell_key = EXCLUDED.cell_key,
		condition_name = EXCLUDED.condition_name,
		scenario = EXCLUDED.scenario,
		replicate = EXCLUDED.replicate,
		opening = EXCLUDED.opening,
		started_at = EXCLUDED.started_at,
		state = EXCLUDED.state,
		error_message = EXCLUDED.error_message,
		prompt_tokens = EXCLUDED.prompt_tokens,
		completion_tokens = EXCLUDED.completion_tokens,
		total_tokens = EXCLUDED.total_tokens,
		agent_calls = EXCLUDED.agent_calls,
		latency_ms = EXCLUDED.latency_ms,
		sealed_at = EXCLUDED.sealed_at`

	var sealedAt interface{}
	if session.SealedAt != nil {
		sealedAt = session.SealedAt.Time()
	}
	_, err := r.db.ExecContext(ctx, query,
		session.ID.String(), string(session.CellKey), session.Condition.Name,
		session.Scenario.String(), session.Replicate, string(session.State), session.Error,
		session.Opening, session.Metrics.PromptTokens, session.Metrics.CompletionTokens,
		session.Metrics.TotalTokens, session.Metrics.Calls, session.Metrics.Latency.Milliseconds(),
		session.StartedAt.Time(), sealedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to seal session %s: %w", session.ID, err)
	}
	return nil
}
