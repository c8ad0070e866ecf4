package loop

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	calls  int
	failAt int
}

func (r *countingRunner) RunStep(_ context.Context, stepID string) (any, error) {
	r.calls++
	if r.calls == r.failAt {
		return nil, errors.New("target failed")
	}

	return map[string]any{"call": r.calls, "done": r.calls >= 3}, nil
}

func execute(t *testing.T, config map[string]any, runner executor.StepRunner) (map[string]any, error) {
	t.Helper()

	step := &models.Step{ID: "repeat", Kind: models.StepKindLoop, Config: config}

	exec, err := New(step)
	require.NoError(t, err)

	out, err := exec.Execute(context.Background(), &executor.Context{
		ExecutionID: "exec-1",
		Step:        step,
		Variables:   map[string]any{},
		Results:     map[string]any{},
		Runner:      runner,
	})
	if err != nil {
		return nil, err
	}

	return out.(map[string]any), nil
}

func TestExecute_StopsWhenConditionFails(t *testing.T) {
	runner := &countingRunner{}

	out, err := execute(t, map[string]any{
		"target":    "work",
		"condition": "{{lt .loop.iteration 2}}",
	}, runner)
	require.NoError(t, err)

	assert.Equal(t, 2, runner.calls)
	assert.Equal(t, 2, out["iterations"])
	assert.Equal(t, false, out["exhausted"])
	assert.Len(t, out["outputs"], 2)
}

func TestExecute_ConditionSeesLastOutput(t *testing.T) {
	runner := &countingRunner{}

	out, err := execute(t, map[string]any{
		"target":    "work",
		"condition": "{{if .loop.last}}{{not .loop.last.done}}{{else}}true{{end}}",
	}, runner)
	require.NoError(t, err)

	assert.Equal(t, 3, runner.calls)
	assert.Equal(t, 3, out["iterations"])
}

func TestExecute_BoundedByDefaultLimit(t *testing.T) {
	runner := &countingRunner{}

	out, err := execute(t, map[string]any{
		"target":    "work",
		"condition": "true",
	}, runner)
	require.NoError(t, err)

	assert.Equal(t, models.DefaultMaxIterations, runner.calls)
	assert.Equal(t, true, out["exhausted"])
}

func TestExecute_TargetFailureFailsLoop(t *testing.T) {
	_, err := execute(t, map[string]any{"target": "work", "max_iterations": 5}, &countingRunner{failAt: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loop iteration 2")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(&models.Step{ID: "l", Kind: models.StepKindLoop})
	require.ErrorIs(t, err, ErrMissingTarget)

	_, err = New(&models.Step{ID: "l", Kind: models.StepKindLoop, Config: map[string]any{"target": "l"}})
	require.Error(t, err)

	err = executor.ValidateConfig(NewFactory().Schema(), map[string]any{"target": "x", "max_iterations": 0})
	require.ErrorIs(t, err, executor.ErrInvalidConfig)
}
