package ai

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"tutorlab/domain/dialogue"
	"tutorlab/ports"
)

// TutorAgent implements the tutoring-agent collaborator on top of the chat
// client. Generate plays the ego; Critique plays the superego reviewer when
// the plan binds one.
type TutorAgent struct {
	client *ChatClient
}

// NewTutorAgent creates the tutor collaborator
func NewTutorAgent(client *ChatClient) *TutorAgent {
	return &TutorAgent{client: client}
}

// Generate drafts (or revises) a candidate tutoring response
func (a *TutorAgent) Generate(ctx context.Context, req ports.GenerateRequest) (*ports.AgentResult, error) {
	system := tutorSystemPrompt(req.Plan.PromptVariant)
	user := tutorUserPrompt(req.Topic, req.History, req.CritiqueFeedback)

	result, err := a.client.Complete(ctx, req.Plan.TutorAgent.Model, system, user)
	if err != nil {
		return nil, err
	}
	return &ports.AgentResult{
		Content: strings.TrimSpace(result.Content),
		Usage:   result.Usage,
		Latency: result.Latency,
	}, nil
}

// Critique reviews a candidate draft and returns a verdict with rationale
func (a *TutorAgent) Critique(ctx context.Context, candidate string, req ports.GenerateRequest) (*ports.CritiqueResult, error) {
	if req.Plan.CritiqueAgent == nil {
		return nil, fmt.Errorf("plan has no critique agent bound")
	}
	user := critiqueUserPrompt(req.Topic, candidate, req.History)

	result, err := a.client.Complete(ctx, req.Plan.CritiqueAgent.Model, critiqueSystem, user)
	if err != nil {
		return nil, err
	}
	verdict, rationale := parseVerdict(result.Content)
	return &ports.CritiqueResult{
		Verdict:   verdict,
		Rationale: rationale,
		Usage:     result.Usage,
		Latency:   result.Latency,
	}, nil
}

var verdictLine = regexp.MustCompile(`(?im)^\s*VERDICT\s*:\s*([a-z]+)\s*$`)

// parseVerdict pulls the "VERDICT: <word>" line out of the critic's reply.
// Everything else is the rationale. A missing or unrecognized verdict
// normalizes to revise, which keeps the deliberation loop moving.
func parseVerdict(content string) (dialogue.Verdict, string) {
	verdict := dialogue.VerdictRevise
	if m := verdictLine.FindStringSubmatch(content); m != nil {
		verdict = dialogue.NormalizeVerdict(strings.ToLower(m[1]))
	}
	rationale := strings.TrimSpace(verdictLine.ReplaceAllString(content, ""))
	return verdict, rationale
}
