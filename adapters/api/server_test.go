package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorlab/adapters/stats/anova"
	"tutorlab/domain/core"
	"tutorlab/domain/dialogue"
	"tutorlab/domain/experiment"
)

func seededRegistry(t *testing.T) (*Registry, core.RunID) {
	t.Helper()
	registry := NewRegistry()
	runID := core.RunID("run-1")
	registry.StartRun(runID, 2)

	cond := experiment.Condition{Recognition: true}
	session := dialogue.NewSession(cond, core.ScenarioID("s"), 0)
	session.Seal(dialogue.SessionStateComplete, "")
	registry.RecordSession(runID, session)

	failed := dialogue.NewSession(cond, core.ScenarioID("s"), 1)
	failed.Seal(dialogue.SessionStateFailed, "no turns completed")
	registry.RecordSession(runID, failed)

	registry.RecordResult(runID, "overall", &anova.Result{GrandMean: 61.5, N: 2})
	registry.FinishRun(runID, RunStateComplete, "")
	return registry, runID
}

func TestRegistry_TracksRunLifecycle(t *testing.T) {
	registry, runID := seededRegistry(t)

	status, ok := registry.Run(runID)
	require.True(t, ok)
	assert.Equal(t, RunStateComplete, status.State)
	assert.Equal(t, 2, status.TotalSessions)
	assert.Equal(t, 2, status.FinishedSessions)
	assert.Equal(t, 1, status.FailedSessions)
	require.NotNil(t, status.FinishedAt)

	sessions, ok := registry.Sessions(runID)
	require.True(t, ok)
	assert.Len(t, sessions, 2)

	results, ok := registry.Results(runID)
	require.True(t, ok)
	assert.InDelta(t, 61.5, results["overall"].GrandMean, 1e-9)
}

func TestRegistry_UnknownRun(t *testing.T) {
	registry := NewRegistry()

	_, ok := registry.Run(core.RunID("missing"))
	assert.False(t, ok)

	// writes against an unknown run are ignored, not panics
	registry.RecordFailure(core.RunID("missing"))
	registry.FinishRun(core.RunID("missing"), RunStateFailed, "x")
}

func TestServer_RunEndpoints(t *testing.T) {
	registry, runID := seededRegistry(t)
	server := httptest.NewServer(NewServer(registry))
	defer server.Close()

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("list runs", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/runs")
		require.NoError(t, err)
		defer resp.Body.Close()

		var payload struct {
			Runs []RunStatus `json:"runs"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		require.Len(t, payload.Runs, 1)
		assert.Equal(t, runID, payload.Runs[0].ID)
	})

	t.Run("get run", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/runs/" + runID.String())
		require.NoError(t, err)
		defer resp.Body.Close()

		var status RunStatus
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		assert.Equal(t, RunStateComplete, status.State)
		assert.Equal(t, 1, status.FailedSessions)
	})

	t.Run("run results", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/runs/" + runID.String() + "/results")
		require.NoError(t, err)
		defer resp.Body.Close()

		var payload struct {
			Results map[string]*anova.Result `json:"results"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		require.Contains(t, payload.Results, "overall")
		assert.Equal(t, 2, payload.Results["overall"].N)
	})

	t.Run("unknown run is 404", func(t *testing.T) {
		for _, path := range []string{"/api/runs/nope", "/api/runs/nope/sessions", "/api/runs/nope/results"} {
			resp, err := http.Get(server.URL + path)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		}
	})
}
