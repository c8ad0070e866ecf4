package agenttask

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_PostsTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		assert.Equal(t, "summarizer", req.Agent)
		assert.Equal(t, "summarize report-7", req.Task)
		assert.Equal(t, "exec-1", req.ExecutionID)
		assert.Equal(t, "ask", req.StepID)
		assert.Equal(t, "ada", req.Input["user"])
		assert.Equal(t, float64(3), req.Input["limit"])

		_, _ = w.Write([]byte(`{"summary": "short"}`))
	}))
	defer server.Close()

	step := &models.Step{ID: "ask", Kind: models.StepKindAgentTask, Config: map[string]any{
		"agent": "summarizer",
		"task":  "summarize {{.vars.report}}",
		"input": map[string]any{"user": "{{.vars.user}}", "limit": 3},
	}}

	exec, err := NewFactory(nil, server.URL).Create(step)
	require.NoError(t, err)

	out, err := exec.Execute(context.Background(), &executor.Context{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		Step:        step,
		Variables:   map[string]any{"report": "report-7", "user": "ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"summary": "short"}, out)
}

func TestExecute_AgentErrorFailsStep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	step := &models.Step{ID: "ask", Kind: models.StepKindAgentTask, Config: map[string]any{
		"agent":    "summarizer",
		"task":     "go",
		"endpoint": server.URL,
	}}

	exec, err := NewFactory(nil, "").Create(step)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), &executor.Context{Step: step})
	require.ErrorIs(t, err, ErrAgentFailed)
	assert.Contains(t, err.Error(), "429")
}

func TestNew_RequiresEndpoint(t *testing.T) {
	step := &models.Step{ID: "ask", Kind: models.StepKindAgentTask, Config: map[string]any{"agent": "a", "task": "t"}}

	_, err := NewFactory(nil, "").Create(step)
	require.ErrorIs(t, err, ErrMissingEndpoint)
}
