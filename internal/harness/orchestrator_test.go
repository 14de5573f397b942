package harness

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorlab/domain/core"
	"tutorlab/domain/dialogue"
	"tutorlab/domain/experiment"
	"tutorlab/ports"
)

const goodJudgeJSON = `{"accuracy": {"score": 4, "rationale": "solid"}, "clarity": {"score": 4, "rationale": "clear"}, "engagement": {"score": 4, "rationale": "lively"}, "overall_score": 4.0}`

var callUsage = dialogue.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}

func okResult(content string) *ports.AgentResult {
	return &ports.AgentResult{Content: content, Usage: callUsage, Latency: 5 * time.Millisecond}
}

type fakeTutor struct {
	mu            sync.Mutex
	generateCalls int
	critiqueCalls int
	generate      func(ctx context.Context, call int, req ports.GenerateRequest) (*ports.AgentResult, error)
	critique      func(call int, candidate string, req ports.GenerateRequest) (*ports.CritiqueResult, error)
}

func (f *fakeTutor) Generate(ctx context.Context, req ports.GenerateRequest) (*ports.AgentResult, error) {
	f.mu.Lock()
	f.generateCalls++
	call := f.generateCalls
	f.mu.Unlock()
	if f.generate != nil {
		return f.generate(ctx, call, req)
	}
	return okResult(fmt.Sprintf("draft %d", call)), nil
}

func (f *fakeTutor) Critique(ctx context.Context, candidate string, req ports.GenerateRequest) (*ports.CritiqueResult, error) {
	f.mu.Lock()
	f.critiqueCalls++
	call := f.critiqueCalls
	f.mu.Unlock()
	if f.critique != nil {
		return f.critique(call, candidate, req)
	}
	return &ports.CritiqueResult{Verdict: dialogue.VerdictApprove, Usage: callUsage, Latency: 5 * time.Millisecond}, nil
}

// verdictScript returns critique behavior that walks a fixed verdict sequence,
// repeating the last verdict once exhausted
func verdictScript(verdicts ...dialogue.Verdict) func(call int, candidate string, req ports.GenerateRequest) (*ports.CritiqueResult, error) {
	return func(call int, candidate string, req ports.GenerateRequest) (*ports.CritiqueResult, error) {
		idx := call - 1
		if idx >= len(verdicts) {
			idx = len(verdicts) - 1
		}
		return &ports.CritiqueResult{
			Verdict:   verdicts[idx],
			Rationale: "needs work",
			Usage:     callUsage,
			Latency:   5 * time.Millisecond,
		}, nil
	}
}

type fakeLearner struct {
	mu      sync.Mutex
	calls   int
	respond func(call int, req ports.RespondRequest) (*ports.AgentResult, error)
}

func (f *fakeLearner) Respond(ctx context.Context, req ports.RespondRequest) (*ports.AgentResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(call, req)
	}
	return okResult(fmt.Sprintf("learner reply %d", call)), nil
}

type fakeJudge struct {
	mu       sync.Mutex
	calls    int
	evaluate func(call int, req ports.JudgeRequest) (*ports.AgentResult, error)
}

func (f *fakeJudge) Evaluate(ctx context.Context, req ports.JudgeRequest) (*ports.AgentResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.evaluate != nil {
		return f.evaluate(call, req)
	}
	return okResult(goodJudgeJSON), nil
}

type recordingSink struct {
	mu     sync.Mutex
	turns  []dialogue.Turn
	sealed []*dialogue.Session
}

func (s *recordingSink) RecordTurn(ctx context.Context, sessionID core.SessionID, turn dialogue.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return nil
}

func (s *recordingSink) SealSession(ctx context.Context, session *dialogue.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = append(s.sealed, session)
	return nil
}

func singleTurnPlan() experiment.ExecutionPlan {
	return experiment.ExecutionPlan{
		Condition:  experiment.Condition{Name: "base_singletutor_singlelearner"},
		TutorAgent: experiment.AgentBinding{Role: "tutor", Model: "m"},
	}
}

func multiTurnPlan(turns, rounds int, critique bool) experiment.ExecutionPlan {
	plan := experiment.ExecutionPlan{
		Condition:          experiment.Condition{TutorMulti: critique},
		TutorAgent:         experiment.AgentBinding{Role: "tutor", Model: "m"},
		LearnerAgent:       experiment.AgentBinding{Role: "learner", Model: "m"},
		DialogueTurns:      turns,
		DeliberationRounds: rounds,
	}
	if critique {
		plan.CritiqueAgent = &experiment.AgentBinding{Role: "superego", Model: "m"}
	}
	return plan
}

func testScenario() experiment.Scenario {
	return experiment.Scenario{ID: "fractions", Topic: "fractions", Opening: "help me with fractions"}
}

func TestRunSession_SingleTurn(t *testing.T) {
	tutor := &fakeTutor{}
	sink := &recordingSink{}
	o := NewOrchestrator(tutor, &fakeLearner{}, &fakeJudge{}, nil, sink, Config{})

	session, err := o.RunSession(context.Background(), singleTurnPlan(), testScenario(), 0)
	require.NoError(t, err)

	assert.Equal(t, dialogue.SessionStateComplete, session.State)
	require.Len(t, session.Turns, 1)
	turn := session.Turns[0]
	assert.Equal(t, "draft 1", turn.TutorContent)
	assert.Empty(t, turn.LearnerContent)
	assert.Equal(t, dialogue.FailureNone, turn.Failure)
	require.NotNil(t, turn.Ratings)
	assert.NotEmpty(t, turn.Scores)

	// one generate plus one judge call
	assert.Equal(t, 2, session.Metrics.Calls)
	assert.Equal(t, 20, session.Metrics.TotalTokens)

	assert.Len(t, sink.turns, 1)
	require.Len(t, sink.sealed, 1)
	assert.True(t, sink.sealed[0].Sealed())
}

func TestRunSession_MultiTurnDialogue(t *testing.T) {
	tutor := &fakeTutor{}
	learner := &fakeLearner{}
	o := NewOrchestrator(tutor, learner, &fakeJudge{}, nil, nil, Config{})

	session, err := o.RunSession(context.Background(), multiTurnPlan(3, 0, false), testScenario(), 0)
	require.NoError(t, err)

	assert.Equal(t, dialogue.SessionStateComplete, session.State)
	assert.Equal(t, "help me with fractions", session.Opening)
	require.Len(t, session.Turns, 3)
	for i, turn := range session.Turns {
		assert.NotEmpty(t, turn.TutorContent, "turn %d", i)
		assert.NotEmpty(t, turn.LearnerContent, "turn %d", i)
	}

	// opening came from the scenario, so the learner only produced replies
	assert.Equal(t, 3, learner.calls)
	assert.Len(t, session.FlattenHistory(), 6)
	assert.Len(t, session.ContextHistory(), 7)
}

func TestRunSession_GeneratesOpeningWhenMissing(t *testing.T) {
	learner := &fakeLearner{}
	o := NewOrchestrator(&fakeTutor{}, learner, &fakeJudge{}, nil, nil, Config{})

	scenario := experiment.Scenario{ID: "neg", Topic: "negative numbers"}
	session, err := o.RunSession(context.Background(), multiTurnPlan(1, 0, false), scenario, 0)
	require.NoError(t, err)

	assert.Equal(t, "learner reply 1", session.Opening)
	assert.Equal(t, 2, learner.calls)
}

func TestRunSession_DeliberationApproval(t *testing.T) {
	tutor := &fakeTutor{critique: verdictScript(dialogue.VerdictApprove)}
	o := NewOrchestrator(tutor, &fakeLearner{}, &fakeJudge{}, nil, nil, Config{FlagDeliberationExhaustion: true})

	plan := singleTurnPlan()
	plan.CritiqueAgent = &experiment.AgentBinding{Role: "superego", Model: "m"}
	plan.DeliberationRounds = 3

	session, err := o.RunSession(context.Background(), plan, testScenario(), 0)
	require.NoError(t, err)

	turn := session.Turns[0]
	assert.Equal(t, "draft 1", turn.TutorContent)
	assert.False(t, turn.DeliberationExhausted)
	require.Len(t, turn.Deliberation, 2)
	assert.Equal(t, dialogue.ActionGenerate, turn.Deliberation[0].Action)
	assert.Equal(t, dialogue.ActionReview, turn.Deliberation[1].Action)
	assert.Equal(t, dialogue.VerdictApprove, turn.Deliberation[1].Verdict)
	assert.Equal(t, 1, tutor.generateCalls)
	assert.Equal(t, 1, tutor.critiqueCalls)
}

func TestRunSession_DeliberationExhaustion(t *testing.T) {
	tutor := &fakeTutor{critique: verdictScript(dialogue.VerdictRevise, dialogue.VerdictRevise)}
	o := NewOrchestrator(tutor, &fakeLearner{}, &fakeJudge{}, nil, nil, Config{FlagDeliberationExhaustion: true})

	plan := singleTurnPlan()
	plan.CritiqueAgent = &experiment.AgentBinding{Role: "superego", Model: "m"}
	plan.DeliberationRounds = 2

	session, err := o.RunSession(context.Background(), plan, testScenario(), 0)
	require.NoError(t, err)

	turn := session.Turns[0]
	// the budget ran out without approval; the latest draft stands
	assert.Equal(t, "draft 2", turn.TutorContent)
	assert.True(t, turn.DeliberationExhausted)
	assert.Equal(t, dialogue.SessionStateComplete, session.State)

	// generate, review, revise, review
	require.Len(t, turn.Deliberation, 4)
	assert.Equal(t, dialogue.ActionRevise, turn.Deliberation[2].Action)
	assert.Equal(t, 2, tutor.generateCalls)
	assert.Equal(t, 2, tutor.critiqueCalls)
}

func TestRunSession_ExhaustionFlagDisabled(t *testing.T) {
	tutor := &fakeTutor{critique: verdictScript(dialogue.VerdictRevise)}
	o := NewOrchestrator(tutor, &fakeLearner{}, &fakeJudge{}, nil, nil, Config{FlagDeliberationExhaustion: false})

	plan := singleTurnPlan()
	plan.CritiqueAgent = &experiment.AgentBinding{Role: "superego", Model: "m"}
	plan.DeliberationRounds = 1

	session, err := o.RunSession(context.Background(), plan, testScenario(), 0)
	require.NoError(t, err)
	assert.False(t, session.Turns[0].DeliberationExhausted)
}

func TestRunSession_JudgeParseFailureLeavesTurnUnscored(t *testing.T) {
	judge := &fakeJudge{evaluate: func(call int, req ports.JudgeRequest) (*ports.AgentResult, error) {
		return okResult("I cannot produce JSON today."), nil
	}}
	o := NewOrchestrator(&fakeTutor{}, &fakeLearner{}, judge, nil, nil, Config{})

	session, err := o.RunSession(context.Background(), singleTurnPlan(), testScenario(), 0)
	require.NoError(t, err)

	assert.Equal(t, dialogue.SessionStateComplete, session.State)
	turn := session.Turns[0]
	assert.Equal(t, dialogue.FailureJudgeParse, turn.Failure)
	assert.NotEmpty(t, turn.FailureDetail)
	assert.Nil(t, turn.Ratings)
	assert.Empty(t, turn.Scores)
	assert.Equal(t, 1, session.CompletedTurns())
}

func TestRunSession_AgentFailureFailsSingleTurnSession(t *testing.T) {
	tutor := &fakeTutor{generate: func(ctx context.Context, call int, req ports.GenerateRequest) (*ports.AgentResult, error) {
		return nil, fmt.Errorf("connection refused")
	}}
	o := NewOrchestrator(tutor, &fakeLearner{}, &fakeJudge{}, nil, nil, Config{})

	session, err := o.RunSession(context.Background(), singleTurnPlan(), testScenario(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSessionFailed)
	assert.Equal(t, dialogue.SessionStateFailed, session.State)
	assert.True(t, session.Sealed())
}

func TestRunSession_FailedSingleTurnKeepsAccruedUsage(t *testing.T) {
	// tutor generation succeeds, the judge call fails: the session fails but
	// the billed generation tokens must still land in the session metrics
	judge := &fakeJudge{evaluate: func(call int, req ports.JudgeRequest) (*ports.AgentResult, error) {
		return nil, fmt.Errorf("connection refused")
	}}
	sink := &recordingSink{}
	o := NewOrchestrator(&fakeTutor{}, &fakeLearner{}, judge, nil, sink, Config{})

	session, err := o.RunSession(context.Background(), singleTurnPlan(), testScenario(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSessionFailed)
	assert.Equal(t, dialogue.SessionStateFailed, session.State)

	require.Len(t, session.Turns, 1)
	assert.Equal(t, dialogue.FailureAgent, session.Turns[0].Failure)
	assert.Contains(t, session.Turns[0].FailureDetail, "connection refused")
	assert.Equal(t, 1, session.Metrics.Calls)
	assert.Equal(t, 10, session.Metrics.TotalTokens)

	require.Len(t, sink.turns, 1)
	assert.Equal(t, dialogue.FailureAgent, sink.turns[0].Failure)
}

func TestRunSession_ContinuesPastFailedTurn(t *testing.T) {
	tutor := &fakeTutor{generate: func(ctx context.Context, call int, req ports.GenerateRequest) (*ports.AgentResult, error) {
		if call == 2 {
			return nil, fmt.Errorf("transient failure")
		}
		return okResult(fmt.Sprintf("draft %d", call)), nil
	}}
	o := NewOrchestrator(tutor, &fakeLearner{}, &fakeJudge{}, nil, nil, Config{ContinueAfterTurnFailure: true})

	session, err := o.RunSession(context.Background(), multiTurnPlan(3, 0, false), testScenario(), 0)
	require.NoError(t, err)

	assert.Equal(t, dialogue.SessionStatePartial, session.State)
	require.Len(t, session.Turns, 3)
	assert.Equal(t, dialogue.FailureAgent, session.Turns[1].Failure)
	assert.Contains(t, session.Turns[1].FailureDetail, "transient failure")
	assert.Equal(t, 2, session.CompletedTurns())

	// the failed turn is excluded from downstream context
	assert.Len(t, session.FlattenHistory(), 4)
}

func TestRunSession_StopsAtFailedTurnWhenConfigured(t *testing.T) {
	tutor := &fakeTutor{generate: func(ctx context.Context, call int, req ports.GenerateRequest) (*ports.AgentResult, error) {
		if call == 2 {
			return nil, fmt.Errorf("transient failure")
		}
		return okResult(fmt.Sprintf("draft %d", call)), nil
	}}
	o := NewOrchestrator(tutor, &fakeLearner{}, &fakeJudge{}, nil, nil, Config{ContinueAfterTurnFailure: false})

	session, err := o.RunSession(context.Background(), multiTurnPlan(3, 0, false), testScenario(), 0)
	require.NoError(t, err)

	assert.Equal(t, dialogue.SessionStatePartial, session.State)
	assert.Len(t, session.Turns, 2)
	assert.Equal(t, 1, session.CompletedTurns())
}

func TestRunSession_LearnerFailureSealsPartial(t *testing.T) {
	learner := &fakeLearner{respond: func(call int, req ports.RespondRequest) (*ports.AgentResult, error) {
		if call == 2 {
			return nil, fmt.Errorf("learner gone")
		}
		return okResult(fmt.Sprintf("learner reply %d", call)), nil
	}}
	o := NewOrchestrator(&fakeTutor{}, learner, &fakeJudge{}, nil, nil, Config{ContinueAfterTurnFailure: true})

	// scenario provides the opening, so learner call 2 is the reply to turn 2
	session, err := o.RunSession(context.Background(), multiTurnPlan(3, 0, false), testScenario(), 0)
	require.NoError(t, err)

	assert.Equal(t, dialogue.SessionStatePartial, session.State)
	require.Len(t, session.Turns, 2)
	assert.NotEmpty(t, session.Turns[0].LearnerContent)
	assert.Empty(t, session.Turns[1].LearnerContent)
	assert.Equal(t, 2, session.CompletedTurns())
}

func TestRunSession_AllTurnsFailedIsTotalFailure(t *testing.T) {
	tutor := &fakeTutor{generate: func(ctx context.Context, call int, req ports.GenerateRequest) (*ports.AgentResult, error) {
		return nil, fmt.Errorf("hard down")
	}}
	o := NewOrchestrator(tutor, &fakeLearner{}, &fakeJudge{}, nil, nil, Config{ContinueAfterTurnFailure: true})

	session, err := o.RunSession(context.Background(), multiTurnPlan(2, 0, false), testScenario(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSessionFailed)
	assert.Equal(t, dialogue.SessionStateFailed, session.State)
	assert.Equal(t, 0, session.CompletedTurns())
}

func TestRunSession_CallTimeoutBecomesAgentTimeout(t *testing.T) {
	tutor := &fakeTutor{generate: func(ctx context.Context, call int, req ports.GenerateRequest) (*ports.AgentResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := NewOrchestrator(tutor, &fakeLearner{}, &fakeJudge{}, nil, nil, Config{CallTimeout: 10 * time.Millisecond})

	session, err := o.RunSession(context.Background(), singleTurnPlan(), testScenario(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSessionFailed)
	assert.Equal(t, dialogue.SessionStateFailed, session.State)
	assert.Contains(t, session.Error, "timed out")
}

func TestRunSession_MetricsCoverEveryCall(t *testing.T) {
	o := NewOrchestrator(&fakeTutor{}, &fakeLearner{}, &fakeJudge{}, nil, nil, Config{})

	// 2 turns x (generate + judge + learner reply) = 6 calls; opening from scenario
	session, err := o.RunSession(context.Background(), multiTurnPlan(2, 0, false), testScenario(), 0)
	require.NoError(t, err)

	assert.Equal(t, 6, session.Metrics.Calls)
	assert.Equal(t, 60, session.Metrics.TotalTokens)
	assert.Equal(t, 42, session.Metrics.PromptTokens)
	assert.Equal(t, 30*time.Millisecond, session.Metrics.Latency)
}

func TestRunBatch_CollectsSessionsAndFailures(t *testing.T) {
	o := NewOrchestrator(&fakeTutor{}, &fakeLearner{}, &fakeJudge{}, nil, nil, Config{})

	resolver := experiment.NewResolver(experiment.ResolverConfig{
		TutorModel: "m", CritiqueModel: "m", LearnerModel: "m",
	})
	scenarios := []experiment.Scenario{
		{ID: "fractions", Topic: "fractions", Opening: "hi"},
		{ID: "photosynthesis", Topic: "photosynthesis", Opening: "hi"},
	}
	specs := ExpandSpecs(resolver, scenarios, 2)
	assert.Len(t, specs, 8*2*2)

	result := o.RunBatch(context.Background(), specs, 4)
	require.Len(t, result.Sessions, len(specs))
	assert.Empty(t, result.Failures)
	for i, session := range result.Sessions {
		require.NotNil(t, session, "spec %d", i)
		assert.True(t, session.Sealed(), "spec %d", i)
		assert.Equal(t, specs[i].Plan.Condition.Key(), session.CellKey, "spec %d", i)
		assert.Equal(t, specs[i].Scenario.ID, session.Scenario, "spec %d", i)
		assert.Equal(t, specs[i].Replicate, session.Replicate, "spec %d", i)
	}
}

func TestRunBatch_FailuresDoNotStopTheBatch(t *testing.T) {
	tutor := &fakeTutor{generate: func(ctx context.Context, call int, req ports.GenerateRequest) (*ports.AgentResult, error) {
		if req.Topic == "broken" {
			return nil, fmt.Errorf("scenario unavailable")
		}
		return okResult("draft"), nil
	}}
	o := NewOrchestrator(tutor, &fakeLearner{}, &fakeJudge{}, nil, nil, Config{})

	plan := singleTurnPlan()
	specs := []SessionSpec{
		{Plan: plan, Scenario: experiment.Scenario{ID: "a", Topic: "fine"}, Replicate: 0},
		{Plan: plan, Scenario: experiment.Scenario{ID: "b", Topic: "broken"}, Replicate: 0},
		{Plan: plan, Scenario: experiment.Scenario{ID: "c", Topic: "fine"}, Replicate: 0},
	}

	result := o.RunBatch(context.Background(), specs, 2)
	require.Len(t, result.Sessions, 3)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, core.ScenarioID("b"), result.Failures[0].Spec.Scenario.ID)
	assert.ErrorIs(t, result.Failures[0].Err, core.ErrSessionFailed)

	assert.Equal(t, dialogue.SessionStateComplete, result.Sessions[0].State)
	assert.Equal(t, dialogue.SessionStateFailed, result.Sessions[1].State)
	assert.Equal(t, dialogue.SessionStateComplete, result.Sessions[2].State)
}
