package ai

import (
	"fmt"
	"strings"

	"tutorlab/domain/dialogue"
	"tutorlab/domain/experiment"
)

const tutorSystemBase = `You are a patient tutor. Respond to the learner's latest message with a
clear, accurate explanation appropriate for their level. Acknowledge their
question, explain the concept correctly, and keep the response focused.`

const tutorSystemRecognition = `You are a tutor who treats the learner as a partner in inquiry. The
learner's own framing is the starting point, not an obstacle: engage with
their metaphors and half-formed ideas directly, explore what makes them see
it that way, and synthesize their understanding with the concept being
taught instead of redirecting to a textbook explanation.`

const critiqueSystem = `You review a tutor's draft response before it reaches the learner. Judge
pedagogical quality: accuracy, whether it builds on the learner's own
framing, and whether it invites further inquiry.

Reply with a single line "VERDICT: <verdict>" where <verdict> is one of
approve, reject, revise, enhance, reframe, followed by a short rationale.`

const learnerSystemSingle = `You simulate a curious learner working through unfamiliar material. Ask
genuine questions, offer your own tentative interpretations, and react
naturally to the tutor's explanations. Stay in character; never tutor back.`

const learnerSystemMulti = `You simulate a learner with an inner voice: first you form a gut reaction
to the tutor's message, then you reconsider it against what you already
believe before speaking. Your spoken reply should carry traces of that
reconsideration - partial understanding, productive confusion, your own
metaphors. Stay in character; never tutor back.`

const judgeSystem = `You are an expert rater of tutoring quality. Rate the tutor's response on
each dimension from 1 (poor) to 5 (excellent) with a one-sentence rationale.

Respond with a JSON object of this shape and nothing else:
{
  "ratings": {
    "accuracy": {"score": 1-5, "rationale": "..."},
    "clarity": {"score": 1-5, "rationale": "..."},
    "scaffolding": {"score": 1-5, "rationale": "..."},
    "responsiveness": {"score": 1-5, "rationale": "..."},
    "engagement": {"score": 1-5, "rationale": "..."},
    "recognition": {"score": 1-5, "rationale": "..."},
    "adaptivity": {"score": 1-5, "rationale": "..."},
    "depth": {"score": 1-5, "rationale": "..."},
    "encouragement": {"score": 1-5, "rationale": "..."},
    "coherence": {"score": 1-5, "rationale": "..."}
  },
  "validation": {"on_topic": "pass|fail", "factually_grounded": "pass|fail"},
  "overall_score": 0-100,
  "summary": "..."
}`

// tutorSystemPrompt selects the prompt variant the plan resolved
func tutorSystemPrompt(variant string) string {
	if variant == experiment.PromptVariantRecognition {
		return tutorSystemRecognition
	}
	return tutorSystemBase
}

func learnerSystemPrompt(arch string) string {
	if arch == experiment.LearnerArchMulti {
		return learnerSystemMulti
	}
	return learnerSystemSingle
}

// transcript renders labeled history lines for agent context. Every prior
// tutor and learner line appears separately, in order, with its role label.
func transcript(history []dialogue.Utterance) string {
	if len(history) == 0 {
		return "(no conversation yet)"
	}
	var b strings.Builder
	for _, u := range history {
		switch u.Role {
		case dialogue.RoleTutor:
			b.WriteString("Tutor: ")
		case dialogue.RoleLearner:
			b.WriteString("Learner: ")
		}
		b.WriteString(u.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func tutorUserPrompt(topic string, history []dialogue.Utterance, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nConversation so far:\n%s\n\n", topic, transcript(history))
	if feedback != "" {
		fmt.Fprintf(&b, "A reviewer raised this concern about your previous draft:\n%s\n\nRevise your response accordingly.\n", feedback)
	} else {
		b.WriteString("Write your next tutoring response.\n")
	}
	return b.String()
}

func critiqueUserPrompt(topic, candidate string, history []dialogue.Utterance) string {
	return fmt.Sprintf("Topic: %s\n\nConversation so far:\n%s\n\nDraft tutor response under review:\n%s\n",
		topic, transcript(history), candidate)
}

func learnerUserPrompt(topic string, history []dialogue.Utterance) string {
	if len(history) == 0 {
		return fmt.Sprintf("Topic: %s\n\nOpen the conversation: tell the tutor what you currently think about this topic, in your own words.\n", topic)
	}
	return fmt.Sprintf("Topic: %s\n\nConversation so far:\n%s\n\nReply as the learner.\n", topic, transcript(history))
}

func judgeUserPrompt(topic, candidate string, history []dialogue.Utterance) string {
	return fmt.Sprintf("Topic: %s\n\nConversation before the response:\n%s\n\nTutor response to rate:\n%s\n",
		topic, transcript(history), candidate)
}
