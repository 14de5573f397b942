package ports

import (
	"context"
	"time"

	"tutorlab/domain/dialogue"
	"tutorlab/domain/experiment"
)

// AgentResult is the successful outcome of one agent invocation.
// Usage and latency must be reported on every success; the orchestrator
// accumulates them monotonically across the whole session.
type AgentResult struct {
	Content string
	Usage   dialogue.Usage
	Latency time.Duration
}

// CritiqueResult is a critic's review of a candidate draft
type CritiqueResult struct {
	Verdict   dialogue.Verdict
	Rationale string
	Usage     dialogue.Usage
	Latency   time.Duration
}

// GenerateRequest carries everything an agent needs to produce or revise a
// candidate. Configuration is threaded through explicitly; agents never
// consult ambient state.
type GenerateRequest struct {
	Plan    experiment.ExecutionPlan
	Topic   string
	History []dialogue.Utterance

	// CritiqueFeedback holds the critic's rationale when this request is a
	// revision inside the deliberation loop; empty on the initial draft.
	CritiqueFeedback string
	Round            int
}

// TutorPort is the tutoring-agent collaborator: it drafts candidate
// suggestions and, in multi-agent plans, reviews drafts as the critic.
// Either call may fail; failures are turn-scoped, not session-scoped.
type TutorPort interface {
	Generate(ctx context.Context, req GenerateRequest) (*AgentResult, error)
	Critique(ctx context.Context, candidate string, req GenerateRequest) (*CritiqueResult, error)
}
