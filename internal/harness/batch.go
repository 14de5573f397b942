package harness

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"tutorlab/domain/dialogue"
	"tutorlab/domain/experiment"
)

// SessionSpec names one independent unit of batch work: a (condition,
// scenario, replicate) triple with its resolved plan.
type SessionSpec struct {
	Plan      experiment.ExecutionPlan
	Scenario  experiment.Scenario
	Replicate int
}

// SessionFailure records a session that failed completely
type SessionFailure struct {
	Spec SessionSpec
	Err  error
}

// BatchResult collects every sealed session plus the total failures.
// Sessions appear in spec order regardless of completion order.
type BatchResult struct {
	Sessions []*dialogue.Session
	Failures []SessionFailure
}

// ExpandSpecs builds the full cross of conditions x scenarios x replicates
func ExpandSpecs(resolver *experiment.Resolver, scenarios []experiment.Scenario, replicates int) []SessionSpec {
	conditions := resolver.KnownConditions()
	specs := make([]SessionSpec, 0, len(conditions)*len(scenarios)*replicates)
	for _, cond := range conditions {
		plan := resolver.ResolvePlan(cond)
		plan.Condition.Name = cond.Name
		for _, scenario := range scenarios {
			for rep := 0; rep < replicates; rep++ {
				specs = append(specs, SessionSpec{Plan: plan, Scenario: scenario, Replicate: rep})
			}
		}
	}
	return specs
}

// RunBatch runs independent sessions on a bounded-concurrency worker pool.
// Sessions within the batch never share mutable state; turns inside one
// session stay strictly sequential. The batch continues past individual
// session failures; one broken cell never takes down the run.
func (o *Orchestrator) RunBatch(ctx context.Context, specs []SessionSpec, concurrency int) *BatchResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	o.logger.Info("running batch: %d sessions, concurrency %d", len(specs), concurrency)

	sessions := make([]*dialogue.Session, len(specs))
	var mu sync.Mutex
	var failures []SessionFailure

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			session, err := o.RunSession(ctx, spec.Plan, spec.Scenario, spec.Replicate)
			sessions[i] = session
			if err != nil {
				mu.Lock()
				failures = append(failures, SessionFailure{Spec: spec, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	// Worker funcs always return nil; failures are collected, not propagated.
	_ = g.Wait()

	o.logger.Info("batch finished: %d sessions, %d total failures", len(specs), len(failures))
	return &BatchResult{Sessions: sessions, Failures: failures}
}
