package ai

import (
	"context"
	"strings"

	"tutorlab/domain/experiment"
	"tutorlab/ports"
)

// LearnerAgent simulates the learner. In the multi-agent architecture the
// spoken reply is produced in two passes: a gut reaction, then a
// reconsideration pass that rewrites it before anything is "said".
type LearnerAgent struct {
	client *ChatClient
}

// NewLearnerAgent creates the learner collaborator
func NewLearnerAgent(client *ChatClient) *LearnerAgent {
	return &LearnerAgent{client: client}
}

// Respond produces the learner's next message; with empty history it
// produces the opening message.
func (a *LearnerAgent) Respond(ctx context.Context, req ports.RespondRequest) (*ports.AgentResult, error) {
	system := learnerSystemPrompt(req.Plan.LearnerArch)
	user := learnerUserPrompt(req.Topic, req.History)
	model := req.Plan.LearnerAgent.Model

	result, err := a.client.Complete(ctx, model, system, user)
	if err != nil {
		return nil, err
	}
	out := &ports.AgentResult{
		Content: strings.TrimSpace(result.Content),
		Usage:   result.Usage,
		Latency: result.Latency,
	}
	if req.Plan.LearnerArch != experiment.LearnerArchMulti {
		return out, nil
	}

	// Second pass: reconsider the gut reaction before speaking
	reconsider := "Your gut reaction was:\n" + out.Content +
		"\n\nReconsider it against what you already believe about the topic, then write what you actually say to the tutor."
	second, err := a.client.Complete(ctx, model, system, reconsider)
	if err != nil {
		return nil, err
	}
	out.Content = strings.TrimSpace(second.Content)
	out.Usage.PromptTokens += second.Usage.PromptTokens
	out.Usage.CompletionTokens += second.Usage.CompletionTokens
	out.Usage.TotalTokens += second.Usage.TotalTokens
	out.Latency += second.Latency
	return out, nil
}
