package ai

import (
	"context"

	"tutorlab/ports"
)

// JudgeAgent asks the judge model to rate one tutor response. It returns the
// model's raw text untouched; structural parsing is the judge parser's job,
// which keeps transport failures and parsing failures distinguishable.
type JudgeAgent struct {
	client *ChatClient
	model  string
}

// NewJudgeAgent creates the judge collaborator bound to one judge model
func NewJudgeAgent(client *ChatClient, model string) *JudgeAgent {
	return &JudgeAgent{client: client, model: model}
}

// Evaluate rates the candidate in conversation context
func (a *JudgeAgent) Evaluate(ctx context.Context, req ports.JudgeRequest) (*ports.AgentResult, error) {
	user := judgeUserPrompt(req.Topic, req.Candidate, req.History)
	result, err := a.client.Complete(ctx, a.model, judgeSystem, user)
	if err != nil {
		return nil, err
	}
	return &ports.AgentResult{
		Content: result.Content,
		Usage:   result.Usage,
		Latency: result.Latency,
	}, nil
}
