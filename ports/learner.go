package ports

import (
	"context"

	"tutorlab/domain/dialogue"
	"tutorlab/domain/experiment"
)

// RespondRequest asks the simulated learner for its next message given the
// conversation so far. History is the fully flattened, labeled context.
type RespondRequest struct {
	Plan    experiment.ExecutionPlan
	Topic   string
	History []dialogue.Utterance
}

// LearnerPort is the simulated-learner collaborator for multi-turn scenarios.
// Respond with an empty history produces the opening message.
type LearnerPort interface {
	Respond(ctx context.Context, req RespondRequest) (*AgentResult, error)
}
