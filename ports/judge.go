package ports

import (
	"context"

	"tutorlab/domain/dialogue"
	"tutorlab/domain/experiment"
)

// JudgeRequest asks the judge to rate one accepted tutor response in context
type JudgeRequest struct {
	Plan      experiment.ExecutionPlan
	Topic     string
	History   []dialogue.Utterance
	Candidate string
}

// JudgePort is the judge collaborator. It returns the model's raw free-form
// text; turning that text into structured ratings is the parser's job, so a
// judge transport failure stays distinguishable from a judge parsing failure.
type JudgePort interface {
	Evaluate(ctx context.Context, req JudgeRequest) (*AgentResult, error)
}
