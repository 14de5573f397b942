package dialogue

import (
	"fmt"
	"time"

	"tutorlab/domain/core"
	"tutorlab/domain/experiment"
	"tutorlab/domain/rubric"
)

// Role identifies the speaker of an utterance
type Role string

const (
	RoleTutor   Role = "tutor"
	RoleLearner Role = "learner"
)

// Utterance is one labeled line of conversation history
type Utterance struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	TurnIndex int    `json:"turn_index"`
}

// SessionState tracks the lifecycle of a dialogue session
type SessionState string

const (
	SessionStateRunning  SessionState = "running"
	SessionStateComplete SessionState = "complete"
	// SessionStatePartial means at least one turn completed before a failure
	SessionStatePartial SessionState = "partial"
	// SessionStateFailed means zero turns completed
	SessionStateFailed SessionState = "failed"
)

// TurnFailure classifies why a turn carries no score. The two kinds are kept
// apart so analysis can separate "agent errored" from "agent answered but the
// judge text was malformed". A failed turn never receives a synthetic score.
type TurnFailure string

const (
	FailureNone       TurnFailure = ""
	FailureAgent      TurnFailure = "agent_invocation"
	FailureJudgeParse TurnFailure = "judge_parse"
)

// DeliberationAction is the kind of step inside the critique sub-loop
type DeliberationAction string

const (
	ActionGenerate DeliberationAction = "generate"
	ActionReview   DeliberationAction = "review"
	ActionRevise   DeliberationAction = "revise"
)

// Verdict is a critic's judgment of a draft
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
	VerdictRevise  Verdict = "revise"
	VerdictEnhance Verdict = "enhance"
	VerdictReframe Verdict = "reframe"
)

// NormalizeVerdict maps free-form critic output onto the closed verdict set,
// defaulting to revise so an unrecognized verdict still drives another round.
func NormalizeVerdict(s string) Verdict {
	switch Verdict(s) {
	case VerdictApprove, VerdictReject, VerdictRevise, VerdictEnhance, VerdictReframe:
		return Verdict(s)
	}
	return VerdictRevise
}

// DeliberationEntry is one append-only step of the internal critique loop
type DeliberationEntry struct {
	Round     int                `json:"round"`
	Actor     string             `json:"actor"`
	Action    DeliberationAction `json:"action"`
	Verdict   Verdict            `json:"verdict,omitempty"`
	Rationale string             `json:"rationale,omitempty"`
}

// Usage is a token count delta reported by one agent invocation
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Metrics accumulates usage and latency across agent invocations.
// Accumulation is monotonic; metrics are never reset mid-session.
type Metrics struct {
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	Calls            int           `json:"calls"`
	Latency          time.Duration `json:"latency_ns"`
}

// Add folds one invocation's usage and latency into the running totals
func (m *Metrics) Add(u Usage, latency time.Duration) {
	m.PromptTokens += u.PromptTokens
	m.CompletionTokens += u.CompletionTokens
	m.TotalTokens += u.TotalTokens
	m.Calls++
	m.Latency += latency
}

// Merge folds another metrics block into this one
func (m *Metrics) Merge(other Metrics) {
	m.PromptTokens += other.PromptTokens
	m.CompletionTokens += other.CompletionTokens
	m.TotalTokens += other.TotalTokens
	m.Calls += other.Calls
	m.Latency += other.Latency
}

// Turn is one exchange of the dialogue: the accepted tutor suggestion, its
// optional deliberation trace, the learner's simulated reply (multi-turn
// only), the judge's ratings and the derived composite scores.
// A turn is owned exclusively by its session.
type Turn struct {
	Index                int                    `json:"index"`
	TutorContent         string                 `json:"tutor_content"`
	LearnerContent       string                 `json:"learner_content,omitempty"`
	Deliberation         []DeliberationEntry    `json:"deliberation,omitempty"`
	DeliberationExhausted bool                  `json:"deliberation_exhausted,omitempty"`
	Ratings              *rubric.RatingSet      `json:"ratings,omitempty"`
	Scores               rubric.CompositeBundle `json:"scores,omitempty"`
	Failure              TurnFailure            `json:"failure,omitempty"`
	FailureDetail        string                 `json:"failure_detail,omitempty"`
	Metrics              Metrics                `json:"metrics"`
	CompletedAt          core.Timestamp         `json:"completed_at"`
}

// Completed reports whether the turn produced an accepted tutor response.
// A turn whose judge output could not be parsed still counts as completed;
// it simply carries no score.
func (t *Turn) Completed() bool {
	return t.Failure != FailureAgent
}

// Session owns the ordered turn list and aggregate metrics for one
// (condition, scenario, replicate) triple. Appended to as turns complete and
// sealed on completion or terminal failure.
type Session struct {
	ID        core.SessionID           `json:"id"`
	CellKey   experiment.CellKey       `json:"cell_key"`
	Condition experiment.Condition     `json:"condition"`
	Scenario  core.ScenarioID          `json:"scenario"`
	Replicate int                      `json:"replicate"`
	// Opening is the learner's turn-0 message in multi-turn mode, either
	// externally supplied or learner-agent-generated. Empty in single-turn mode.
	Opening string `json:"opening,omitempty"`
	Turns   []Turn `json:"turns"`
	Metrics   Metrics                  `json:"metrics"`
	State     SessionState             `json:"state"`
	Error     string                   `json:"error,omitempty"`
	StartedAt core.Timestamp           `json:"started_at"`
	SealedAt  *core.Timestamp          `json:"sealed_at,omitempty"`

	sealed bool
}

// NewSession creates a running, unsealed session
func NewSession(cond experiment.Condition, scenario core.ScenarioID, replicate int) *Session {
	return &Session{
		ID:        core.SessionID(core.NewID()),
		CellKey:   cond.Key(),
		Condition: cond,
		Scenario:  scenario,
		Replicate: replicate,
		State:     SessionStateRunning,
		StartedAt: core.Now(),
	}
}

// AppendTurn adds a completed turn and folds its metrics into the session
func (s *Session) AppendTurn(turn Turn) error {
	if s.sealed {
		return core.ErrSessionSealed
	}
	turn.Index = len(s.Turns)
	turn.CompletedAt = core.Now()
	s.Turns = append(s.Turns, turn)
	s.Metrics.Merge(turn.Metrics)
	return nil
}

// Seal freezes the session in the given terminal state
func (s *Session) Seal(state SessionState, errDetail string) {
	if s.sealed {
		return
	}
	s.sealed = true
	s.State = state
	s.Error = errDetail
	now := core.Now()
	s.SealedAt = &now
}

// Sealed reports whether the session is read-only
func (s *Session) Sealed() bool { return s.sealed }

// CompletedTurns counts turns that produced an accepted tutor response
func (s *Session) CompletedTurns() int {
	n := 0
	for i := range s.Turns {
		if s.Turns[i].Completed() {
			n++
		}
	}
	return n
}

// ScoredValues returns the named composite score of every scored turn in order
func (s *Session) ScoredValues(group string) []float64 {
	values := make([]float64, 0, len(s.Turns))
	for i := range s.Turns {
		if s.Turns[i].Scores == nil {
			continue
		}
		if v, ok := s.Turns[i].Scores[group]; ok {
			values = append(values, v)
		}
	}
	return values
}

// FlattenHistory converts the turns completed so far into labeled,
// chronologically ordered utterances for agent context. For N complete
// (tutor, learner) pairs the result holds exactly 2N entries in strict
// tutor/learner alternation. Lines are never merged or dropped: doing so
// would silently corrupt every downstream agent context.
func (s *Session) FlattenHistory() []Utterance {
	history := make([]Utterance, 0, len(s.Turns)*2)
	for i := range s.Turns {
		t := &s.Turns[i]
		if t.Failure == FailureAgent {
			continue
		}
		history = append(history, Utterance{Role: RoleTutor, Content: t.TutorContent, TurnIndex: t.Index})
		if t.LearnerContent != "" {
			history = append(history, Utterance{Role: RoleLearner, Content: t.LearnerContent, TurnIndex: t.Index})
		}
	}
	return history
}

// ContextHistory is the full chronological context passed to agents: the
// opening message (when present) followed by the flattened turn pairs.
func (s *Session) ContextHistory() []Utterance {
	pairs := s.FlattenHistory()
	if s.Opening == "" {
		return pairs
	}
	history := make([]Utterance, 0, len(pairs)+1)
	history = append(history, Utterance{Role: RoleLearner, Content: s.Opening, TurnIndex: -1})
	return append(history, pairs...)
}

// String renders a short session descriptor for logs
func (s *Session) String() string {
	return fmt.Sprintf("session %s cell=%s scenario=%s rep=%d", s.ID, s.CellKey, s.Scenario, s.Replicate)
}
