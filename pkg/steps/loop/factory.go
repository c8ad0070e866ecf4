package loop

import (
	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
)

type Factory struct{}

func NewFactory() executor.Factory {
	return Factory{}
}

func (Factory) Kind() models.StepKind {
	return models.StepKindLoop
}

func (Factory) Description() string {
	return "Re-runs a target step while a condition holds, bounded by max_iterations"
}

func (Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"description": "Evaluated before each pass; empty runs exactly max_iterations passes",
				"examples":    []string{"{{lt .loop.iteration 3}}", "{{not .loop.last.done}}"},
			},
			"target": map[string]any{"type": "string", "minLength": 1},
			"max_iterations": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 10000,
				"default": models.DefaultMaxIterations,
			},
			"timeout": executor.TimeoutProperty(),
		},
		"required": []string{"target"},
	}
}

func (Factory) Create(step *models.Step) (executor.Executor, error) {
	return New(step)
}
