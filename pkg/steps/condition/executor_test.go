package condition

import (
	"context"
	"testing"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStep(expression string) *models.Step {
	return &models.Step{
		ID:   "check",
		Kind: models.StepKindCondition,
		Config: map[string]any{
			"expression": expression,
			"then":       "yes",
			"else":       "no",
		},
	}
}

func evaluate(t *testing.T, step *models.Step, vars map[string]any) (*Executor, any) {
	t.Helper()

	exec, err := New(step)
	require.NoError(t, err)

	out, err := exec.Execute(context.Background(), &executor.Context{
		ExecutionID: "exec-1",
		Step:        step,
		Variables:   vars,
		Results:     map[string]any{},
		Logger:      log.Discard(),
	})
	require.NoError(t, err)

	return exec, out
}

func TestExecute_SelectsBranch(t *testing.T) {
	tests := []struct {
		name     string
		vars     map[string]any
		selected string
	}{
		{"truthy bool", map[string]any{"flag": true}, "yes"},
		{"falsy bool", map[string]any{"flag": false}, "no"},
		{"missing value", map[string]any{}, "no"},
		{"non-empty string", map[string]any{"flag": "on"}, "yes"},
		{"zero", map[string]any{"flag": 0}, "no"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, out := evaluate(t, newStep("{{.vars.flag}}"), tt.vars)

			next, ok := exec.Next(out)
			assert.True(t, ok)
			assert.Equal(t, tt.selected, next)
		})
	}
}

func TestExecute_EmptyBranchSelectsNothing(t *testing.T) {
	step := newStep("{{.vars.flag}}")
	delete(step.Config, "else")

	exec, out := evaluate(t, step, map[string]any{"flag": false})

	assert.Equal(t, false, out.(map[string]any)["result"])

	_, ok := exec.Next(out)
	assert.False(t, ok)
}

func TestNew_RequiresExpression(t *testing.T) {
	_, err := New(&models.Step{ID: "c", Kind: models.StepKindCondition})
	require.ErrorIs(t, err, ErrMissingExpression)

	err = executor.ValidateConfig(NewFactory().Schema(), map[string]any{"then": "a"})
	require.ErrorIs(t, err, executor.ErrInvalidConfig)
}
