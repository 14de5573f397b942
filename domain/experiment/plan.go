package experiment

import "strings"

// Prompt variant identifiers
const (
	PromptVariantBase        = "base"
	PromptVariantRecognition = "recognition"
)

// Learner architecture identifiers
const (
	LearnerArchSingle = "single"
	LearnerArchMulti  = "multi"
)

// AgentBinding binds a dialogue role to a concrete model
type AgentBinding struct {
	Role  string `json:"role"`
	Model string `json:"model"`
}

// ExecutionPlan holds the concrete execution parameters derived from a
// Condition. Derived once per condition and never mutated afterwards.
type ExecutionPlan struct {
	Condition     Condition    `json:"condition"`
	TutorAgent    AgentBinding `json:"tutor_agent"`
	LearnerAgent  AgentBinding `json:"learner_agent"`
	PromptVariant string       `json:"prompt_variant"`
	LearnerArch   string       `json:"learner_arch"`

	// CritiqueAgent is non-nil exactly when the tutor-multi-agent factor is
	// on. A nil pointer here is the explicit "no critique loop" signal that
	// downstream components branch on; it is never merely left unset.
	CritiqueAgent *AgentBinding `json:"critique_agent"`

	// DialogueTurns is the number of tutor/learner exchange pairs after the
	// opening message. Zero means single-turn mode.
	DialogueTurns int `json:"dialogue_turns"`

	// DeliberationRounds bounds the critique sub-loop per turn (1-3 typical).
	// Meaningful only when CritiqueAgent is non-nil.
	DeliberationRounds int `json:"deliberation_rounds"`
}

// ResolverConfig supplies the concrete bindings a condition resolves against.
// Passed in explicitly at configuration time; there is no ambient default.
type ResolverConfig struct {
	TutorModel         string
	CritiqueModel      string
	LearnerModel       string
	DialogueTurns      int
	DeliberationRounds int
}

// Resolver maps symbolic condition identifiers and factor bundles to
// execution plans. Total and deterministic: every input maps to exactly one
// plan, and unrecognized names degrade to safe defaults instead of failing,
// so one stale identifier cannot crash a long batch.
type Resolver struct {
	config ResolverConfig
	named  map[string]Condition
}

// NewResolver creates a resolver with the standard 8-cell named registry
func NewResolver(config ResolverConfig) *Resolver {
	if config.DeliberationRounds <= 0 {
		config.DeliberationRounds = 1
	}
	named := make(map[string]Condition, 8)
	for _, cond := range AllConditions() {
		cond.Name = conditionName(cond)
		named[cond.Name] = cond
	}
	return &Resolver{config: config, named: named}
}

// conditionName builds the canonical symbolic name for a factor bundle,
// e.g. "recognition_multitutor_singlelearner".
func conditionName(c Condition) string {
	parts := make([]string, 0, 3)
	if c.Recognition {
		parts = append(parts, "recognition")
	} else {
		parts = append(parts, "base")
	}
	if c.TutorMulti {
		parts = append(parts, "multitutor")
	} else {
		parts = append(parts, "singletutor")
	}
	if c.LearnerMulti {
		parts = append(parts, "multilearner")
	} else {
		parts = append(parts, "singlelearner")
	}
	return strings.Join(parts, "_")
}

// ResolvePlan derives the execution plan for an explicit factor bundle
func (r *Resolver) ResolvePlan(cond Condition) ExecutionPlan {
	plan := ExecutionPlan{
		Condition:          cond,
		TutorAgent:         AgentBinding{Role: "tutor", Model: r.config.TutorModel},
		LearnerAgent:       AgentBinding{Role: "learner", Model: r.config.LearnerModel},
		PromptVariant:      PromptVariantBase,
		LearnerArch:        LearnerArchSingle,
		CritiqueAgent:      nil,
		DialogueTurns:      r.config.DialogueTurns,
		DeliberationRounds: r.config.DeliberationRounds,
	}
	if cond.Recognition {
		plan.PromptVariant = PromptVariantRecognition
	}
	if cond.TutorMulti {
		plan.CritiqueAgent = &AgentBinding{Role: "superego", Model: r.config.CritiqueModel}
	}
	if cond.LearnerMulti {
		plan.LearnerArch = LearnerArchMulti
	}
	return plan
}

// ResolveNamed derives the execution plan for a symbolic condition name.
// Unknown names resolve to the safe default plan rather than an error.
func (r *Resolver) ResolveNamed(name string) ExecutionPlan {
	cond, ok := r.named[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return r.defaultPlan(name)
	}
	plan := r.ResolvePlan(cond)
	plan.Condition.Name = cond.Name
	return plan
}

// defaultPlan is the degradation target for unrecognized identifiers:
// dialogue disabled, zero rounds, no critique loop.
func (r *Resolver) defaultPlan(name string) ExecutionPlan {
	return ExecutionPlan{
		Condition:          Condition{Name: name},
		TutorAgent:         AgentBinding{Role: "tutor", Model: r.config.TutorModel},
		LearnerAgent:       AgentBinding{Role: "learner", Model: r.config.LearnerModel},
		PromptVariant:      PromptVariantBase,
		LearnerArch:        LearnerArchSingle,
		CritiqueAgent:      nil,
		DialogueTurns:      0,
		DeliberationRounds: 0,
	}
}

// KnownConditions lists the registered symbolic names in stable order
func (r *Resolver) KnownConditions() []Condition {
	conds := AllConditions()
	for i := range conds {
		conds[i].Name = conditionName(conds[i])
	}
	return conds
}
