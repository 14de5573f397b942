package api

import (
	"sort"
	"sync"

	"tutorlab/adapters/stats/anova"
	"tutorlab/domain/core"
	"tutorlab/domain/dialogue"
)

// RunState tracks a run's lifecycle for the status surface
type RunState string

const (
	RunStateRunning  RunState = "running"
	RunStateComplete RunState = "complete"
	RunStateFailed   RunState = "failed"
)

// RunStatus is a point-in-time view of one experiment run
type RunStatus struct {
	ID               core.RunID     `json:"id"`
	State            RunState       `json:"state"`
	TotalSessions    int            `json:"total_sessions"`
	FinishedSessions int            `json:"finished_sessions"`
	FailedSessions   int            `json:"failed_sessions"`
	StartedAt        core.Timestamp `json:"started_at"`
	FinishedAt       *core.Timestamp `json:"finished_at,omitempty"`
	Error            string         `json:"error,omitempty"`
}

type runRecord struct {
	status   RunStatus
	sessions []*dialogue.Session
	results  map[string]*anova.Result
}

// Registry is the in-memory run store the status API reads from.
// The batch runner writes to it as sessions finish; readers always see
// a consistent snapshot.
type Registry struct {
	mu   sync.RWMutex
	runs map[core.RunID]*runRecord
}

// NewRegistry creates an empty run registry
func NewRegistry() *Registry {
	return &Registry{runs: make(map[core.RunID]*runRecord)}
}

// StartRun registers a run before its first session executes
func (r *Registry) StartRun(id core.RunID, totalSessions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id] = &runRecord{
		status: RunStatus{
			ID:            id,
			State:         RunStateRunning,
			TotalSessions: totalSessions,
			StartedAt:     core.Now(),
		},
		results: make(map[string]*anova.Result),
	}
}

// RecordSession appends a sealed session to the run's snapshot
func (r *Registry) RecordSession(id core.RunID, session *dialogue.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[id]
	if !ok {
		return
	}
	rec.sessions = append(rec.sessions, session)
	rec.status.FinishedSessions++
	if session.State == dialogue.SessionStateFailed {
		rec.status.FailedSessions++
	}
}

// RecordFailure counts a session that never produced a sealed session
func (r *Registry) RecordFailure(id core.RunID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[id]
	if !ok {
		return
	}
	rec.status.FinishedSessions++
	rec.status.FailedSessions++
}

// RecordResult stores the factorial analysis computed for one score group
func (r *Registry) RecordResult(id core.RunID, group string, result *anova.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[id]
	if !ok {
		return
	}
	rec.results[group] = result
}

// FinishRun seals the run in a terminal state
func (r *Registry) FinishRun(id core.RunID, state RunState, errDetail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.runs[id]
	if !ok {
		return
	}
	rec.status.State = state
	rec.status.Error = errDetail
	now := core.Now()
	rec.status.FinishedAt = &now
}

// Runs returns all run statuses, newest first
func (r *Registry) Runs() []RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RunStatus, 0, len(r.runs))
	for _, rec := range r.runs {
		out = append(out, rec.status)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Run returns one run's status
func (r *Registry) Run(id core.RunID) (RunStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.runs[id]
	if !ok {
		return RunStatus{}, false
	}
	return rec.status, true
}

// Sessions returns the sealed sessions recorded for a run
func (r *Registry) Sessions(id core.RunID) ([]*dialogue.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.runs[id]
	if !ok {
		return nil, false
	}
	out := make([]*dialogue.Session, len(rec.sessions))
	copy(out, rec.sessions)
	return out, true
}

// Results returns the per-group factorial results recorded for a run
func (r *Registry) Results(id core.RunID) (map[string]*anova.Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.runs[id]
	if !ok {
		return nil, false
	}
	out := make(map[string]*anova.Result, len(rec.results))
	for k, v := range rec.results {
		out[k] = v
	}
	return out, true
}
