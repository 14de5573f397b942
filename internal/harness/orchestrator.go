package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tutorlab/adapters/judge"
	"tutorlab/domain/core"
	"tutorlab/domain/dialogue"
	"tutorlab/domain/experiment"
	"tutorlab/domain/rubric"
	"tutorlab/internal"
	"tutorlab/ports"
)

// Config is the orchestrator's explicit configuration, threaded through
// every downstream call. There is no ambient global lookup.
type Config struct {
	// CallTimeout bounds every single agent invocation. A timeout is
	// treated identically to an invocation failure and is never retried
	// here; retry policy belongs to the collaborator layer, if anywhere.
	CallTimeout time.Duration

	// ContinueAfterTurnFailure keeps a multi-turn session going past a
	// failed turn instead of sealing it partial immediately.
	ContinueAfterTurnFailure bool

	// FlagDeliberationExhaustion records budget exhaustion on the turn so
	// analysis can weight exhausted turns differently from clean approvals.
	// Whether exhaustion should downgrade confidence is an open question
	// upstream, so it stays a flag rather than an assumption.
	FlagDeliberationExhaustion bool

	Weights      rubric.WeightTable
	GroupWeights rubric.GroupWeights
}

// Orchestrator drives dialogue sessions end to end: agent calls, bounded
// deliberation, judging, scoring, metric accumulation and persistence.
type Orchestrator struct {
	tutor   ports.TutorPort
	learner ports.LearnerPort
	judge   ports.JudgePort
	parser  *judge.Parser
	sink    ports.SessionSink
	config  Config
	logger  *internal.Logger
}

// NewOrchestrator wires the orchestrator's collaborators together
func NewOrchestrator(tutor ports.TutorPort, learner ports.LearnerPort, judgePort ports.JudgePort, parser *judge.Parser, sink ports.SessionSink, config Config) *Orchestrator {
	if parser == nil {
		parser = judge.NewParser()
	}
	if sink == nil {
		sink = ports.NopSink{}
	}
	if config.Weights == nil {
		config.Weights = rubric.DefaultWeightTable()
	}
	if config.GroupWeights == nil {
		config.GroupWeights = rubric.DefaultGroupWeights()
	}
	return &Orchestrator{
		tutor:   tutor,
		learner: learner,
		judge:   judgePort,
		parser:  parser,
		sink:    sink,
		config:  config,
		logger:  internal.NewDefaultLogger().WithComponent("Orchestrator"),
	}
}

// RunSession drives one dialogue session for a (plan, scenario, replicate)
// triple and returns the sealed session. A session with zero completed turns
// is a total failure and returns an error alongside the failed session.
func (o *Orchestrator) RunSession(ctx context.Context, plan experiment.ExecutionPlan, scenario experiment.Scenario, replicate int) (*dialogue.Session, error) {
	session := dialogue.NewSession(plan.Condition, scenario.ID, replicate)
	o.logger.Info("starting %s (variant=%s, turns=%d, critique=%v)",
		session, plan.PromptVariant, plan.DialogueTurns, plan.CritiqueAgent != nil)

	if plan.DialogueTurns <= 0 {
		return o.runSingleTurn(ctx, plan, scenario, session)
	}
	return o.runMultiTurn(ctx, plan, scenario, session)
}

func (o *Orchestrator) runSingleTurn(ctx context.Context, plan experiment.ExecutionPlan, scenario experiment.Scenario, session *dialogue.Session) (*dialogue.Session, error) {
	turn, err := o.runTutorTurn(ctx, plan, scenario, session)
	if err != nil {
		// The failed turn is kept so the usage its successful calls
		// accumulated still reaches the session metrics.
		turn.Failure = dialogue.FailureAgent
		turn.FailureDetail = err.Error()
		o.appendAndRecord(ctx, session, turn)
		o.sealSession(ctx, session, dialogue.SessionStateFailed, err.Error())
		return session, fmt.Errorf("%w: %v", core.ErrSessionFailed, err)
	}
	o.appendAndRecord(ctx, session, turn)
	o.sealSession(ctx, session, dialogue.SessionStateComplete, "")
	return session, nil
}

func (o *Orchestrator) runMultiTurn(ctx context.Context, plan experiment.ExecutionPlan, scenario experiment.Scenario, session *dialogue.Session) (*dialogue.Session, error) {
	if err := o.openDialogue(ctx, plan, scenario, session); err != nil {
		o.sealSession(ctx, session, dialogue.SessionStateFailed, err.Error())
		return session, fmt.Errorf("%w: opening message: %v", core.ErrSessionFailed, err)
	}

	partial := false
	for i := 0; i < plan.DialogueTurns; i++ {
		turn, err := o.runTutorTurn(ctx, plan, scenario, session)
		if err != nil {
			o.logger.Warn("%s turn %d aborted: %v", session, i, err)
			turn.Failure = dialogue.FailureAgent
			turn.FailureDetail = err.Error()
			o.appendAndRecord(ctx, session, turn)
			partial = true
			if !o.config.ContinueAfterTurnFailure {
				break
			}
			continue
		}

		reply, err := o.learnerReply(ctx, plan, scenario, session, &turn)
		if err != nil {
			// The learner reply is the context every later turn builds on;
			// without it the dialogue cannot continue coherently.
			o.logger.Warn("%s learner reply failed after turn %d: %v", session, i, err)
			o.appendAndRecord(ctx, session, turn)
			partial = true
			break
		}
		turn.LearnerContent = reply
		o.appendAndRecord(ctx, session, turn)
	}

	if session.CompletedTurns() == 0 {
		o.sealSession(ctx, session, dialogue.SessionStateFailed, "no turns completed")
		return session, core.ErrSessionFailed
	}
	state := dialogue.SessionStateComplete
	if partial {
		state = dialogue.SessionStatePartial
	}
	o.sealSession(ctx, session, state, "")
	return session, nil
}

// openDialogue establishes turn 0: the externally supplied opening message,
// or a learner-agent-generated one when the scenario does not provide it.
func (o *Orchestrator) openDialogue(ctx context.Context, plan experiment.ExecutionPlan, scenario experiment.Scenario, session *dialogue.Session) error {
	if scenario.Opening != "" {
		session.Opening = scenario.Opening
		return nil
	}
	result, err := o.callLearner(ctx, plan, scenario, nil, &session.Metrics)
	if err != nil {
		return err
	}
	session.Opening = result
	return nil
}

// runTutorTurn produces one judged tutor turn: candidate generation with
// optional bounded deliberation, then judging and composite scoring. Agent
// failures abort the turn; judge parsing failures do not, they just leave
// the turn unscored with a distinct provenance marker.
func (o *Orchestrator) runTutorTurn(ctx context.Context, plan experiment.ExecutionPlan, scenario experiment.Scenario, session *dialogue.Session) (dialogue.Turn, error) {
	turn := dialogue.Turn{}
	history := session.ContextHistory()

	content, trace, exhausted, err := o.produceCandidate(ctx, plan, scenario, history, &turn.Metrics)
	if err != nil {
		return turn, err
	}
	turn.TutorContent = content
	turn.Deliberation = trace
	if o.config.FlagDeliberationExhaustion {
		turn.DeliberationExhausted = exhausted
	}

	raw, err := o.callJudge(ctx, plan, scenario, history, content, &turn.Metrics)
	if err != nil {
		return turn, err
	}

	ratings, parseErr := o.parser.Parse(raw)
	if parseErr != nil {
		// Judge answered but its text was malformed. Recorded apart from
		// agent failures; the turn stands, unscored. Synthetic fallback
		// scores are forbidden here.
		o.logger.Warn("%s judge output unparseable: %v", session, parseErr)
		turn.Failure = dialogue.FailureJudgeParse
		turn.FailureDetail = parseErr.Error()
		return turn, nil
	}
	turn.Ratings = ratings
	turn.Scores = rubric.Score(ratings, o.config.Weights, o.config.GroupWeights)
	return turn, nil
}

// produceCandidate drafts the tutor's suggestion, running the bounded
// critique sub-loop when the plan binds a critique agent.
func (o *Orchestrator) produceCandidate(ctx context.Context, plan experiment.ExecutionPlan, scenario experiment.Scenario, history []dialogue.Utterance, metrics *dialogue.Metrics) (string, []dialogue.DeliberationEntry, bool, error) {
	req := ports.GenerateRequest{Plan: plan, Topic: scenario.Topic, History: history}

	draft, err := o.callTutorGenerate(ctx, req, metrics)
	if err != nil {
		return "", nil, false, err
	}
	if plan.CritiqueAgent == nil {
		return draft, nil, false, nil
	}

	trace := []dialogue.DeliberationEntry{{
		Round:  0,
		Actor:  plan.TutorAgent.Role,
		Action: dialogue.ActionGenerate,
	}}

	// Bounded draft -> critique -> revise loop. On approve, or once the
	// round budget runs out, the latest draft is accepted regardless of
	// verdict: exhaustion is "best effort so far", not a failure.
	exhausted := false
	for round := 1; round <= plan.DeliberationRounds; round++ {
		critique, err := o.callTutorCritique(ctx, draft, req, metrics)
		if err != nil {
			return "", trace, false, err
		}
		trace = append(trace, dialogue.DeliberationEntry{
			Round:     round,
			Actor:     plan.CritiqueAgent.Role,
			Action:    dialogue.ActionReview,
			Verdict:   critique.Verdict,
			Rationale: critique.Rationale,
		})
		if critique.Verdict == dialogue.VerdictApprove {
			return draft, trace, false, nil
		}
		if round == plan.DeliberationRounds {
			exhausted = true
			break
		}

		revision := req
		revision.CritiqueFeedback = critique.Rationale
		revision.Round = round
		draft, err = o.callTutorGenerate(ctx, revision, metrics)
		if err != nil {
			return "", trace, false, err
		}
		trace = append(trace, dialogue.DeliberationEntry{
			Round:  round,
			Actor:  plan.TutorAgent.Role,
			Action: dialogue.ActionRevise,
		})
	}
	return draft, trace, exhausted, nil
}

// learnerReply asks the simulated learner for its response to the turn just
// produced, seen in full history context.
func (o *Orchestrator) learnerReply(ctx context.Context, plan experiment.ExecutionPlan, scenario experiment.Scenario, session *dialogue.Session, turn *dialogue.Turn) (string, error) {
	history := append(session.ContextHistory(), dialogue.Utterance{
		Role:    dialogue.RoleTutor,
		Content: turn.TutorContent,
	})
	return o.callLearner(ctx, plan, scenario, history, &turn.Metrics)
}

func (o *Orchestrator) callTutorGenerate(ctx context.Context, req ports.GenerateRequest, metrics *dialogue.Metrics) (string, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	result, err := o.tutor.Generate(callCtx, req)
	if err != nil {
		return "", o.wrapAgentErr("tutor", "generate", err)
	}
	metrics.Add(result.Usage, result.Latency)
	return result.Content, nil
}

func (o *Orchestrator) callTutorCritique(ctx context.Context, candidate string, req ports.GenerateRequest, metrics *dialogue.Metrics) (*ports.CritiqueResult, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	result, err := o.tutor.Critique(callCtx, candidate, req)
	if err != nil {
		return nil, o.wrapAgentErr("critic", "critique", err)
	}
	metrics.Add(result.Usage, result.Latency)
	return result, nil
}

func (o *Orchestrator) callLearner(ctx context.Context, plan experiment.ExecutionPlan, scenario experiment.Scenario, history []dialogue.Utterance, metrics *dialogue.Metrics) (string, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	result, err := o.learner.Respond(callCtx, ports.RespondRequest{Plan: plan, Topic: scenario.Topic, History: history})
	if err != nil {
		return "", o.wrapAgentErr("learner", "respond", err)
	}
	metrics.Add(result.Usage, result.Latency)
	return result.Content, nil
}

func (o *Orchestrator) callJudge(ctx context.Context, plan experiment.ExecutionPlan, scenario experiment.Scenario, history []dialogue.Utterance, candidate string, metrics *dialogue.Metrics) (string, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	result, err := o.judge.Evaluate(callCtx, ports.JudgeRequest{Plan: plan, Topic: scenario.Topic, History: history, Candidate: candidate})
	if err != nil {
		return "", o.wrapAgentErr("judge", "evaluate", err)
	}
	metrics.Add(result.Usage, result.Latency)
	return result.Content, nil
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.config.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.config.CallTimeout)
}

func (o *Orchestrator) wrapAgentErr(role, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewAgentTimeoutError(role, op, err)
	}
	return core.NewAgentError(role, op, err)
}

// appendAndRecord appends the turn to the session and persists it. A sink
// failure is logged and swallowed: durable storage must not kill a batch.
func (o *Orchestrator) appendAndRecord(ctx context.Context, session *dialogue.Session, turn dialogue.Turn) {
	if err := session.AppendTurn(turn); err != nil {
		o.logger.Error("%s append turn: %v", session, err)
		return
	}
	recorded := session.Turns[len(session.Turns)-1]
	if err := o.sink.RecordTurn(ctx, session.ID, recorded); err != nil {
		o.logger.Warn("%s record turn %d: %v", session, recorded.Index, err)
	}
}

func (o *Orchestrator) sealSession(ctx context.Context, session *dialogue.Session, state dialogue.SessionState, detail string) {
	session.Seal(state, detail)
	if err := o.sink.SealSession(ctx, session); err != nil {
		o.logger.Warn("%s seal: %v", session, err)
	}
	o.logger.Info("%s sealed state=%s turns=%d tokens=%d latency=%s",
		session, state, len(session.Turns), session.Metrics.TotalTokens, session.Metrics.Latency)
}
