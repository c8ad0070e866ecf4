package executor_test

import (
	"context"
	"testing"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/steps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry() *executor.Registry {
	reg := executor.NewRegistry(log.Discard())
	steps.RegisterDefaults(reg, steps.Options{AgentEndpoint: "http://agents.local/run"})

	return reg
}

func TestRegistry_KindsCoverEveryStepKind(t *testing.T) {
	assert.ElementsMatch(t, models.StepKinds, newRegistry().Kinds())
}

func TestRegistry_CreateValidatesSchema(t *testing.T) {
	reg := newRegistry()

	_, err := reg.Create(&models.Step{ID: "c", Kind: models.StepKindCondition, Config: map[string]any{"then": "x"}})
	require.ErrorIs(t, err, executor.ErrInvalidConfig)

	_, err = reg.Create(&models.Step{ID: "c", Kind: models.StepKindCondition, Config: map[string]any{"expression": "true"}})
	require.NoError(t, err)
}

func TestRegistry_UnknownKind(t *testing.T) {
	_, err := newRegistry().Create(&models.Step{ID: "x", Kind: "teleport"})
	require.ErrorIs(t, err, executor.ErrUnknownKind)
}

func TestRegistry_StepOverrideWins(t *testing.T) {
	reg := newRegistry()
	reg.RegisterStep("special", executor.Func(func(context.Context, *executor.Context) (any, error) {
		return "override", nil
	}))

	exec, err := reg.Create(&models.Step{ID: "special", Kind: models.StepKindScript})
	require.NoError(t, err)

	out, err := exec.Execute(context.Background(), &executor.Context{Step: &models.Step{ID: "special"}})
	require.NoError(t, err)
	assert.Equal(t, "override", out)
}

func TestValidateConfig_TimeoutAcceptsStringOrNumber(t *testing.T) {
	reg := newRegistry()

	for _, timeout := range []any{"5s", 1500} {
		err := reg.Validate(&models.Step{ID: "s", Kind: models.StepKindScript, Config: map[string]any{"timeout": timeout}})
		assert.NoError(t, err)
	}

	err := reg.Validate(&models.Step{ID: "s", Kind: models.StepKindScript, Config: map[string]any{"timeout": true}})
	assert.ErrorIs(t, err, executor.ErrInvalidConfig)
}
