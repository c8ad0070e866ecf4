package condition

import (
	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
)

type Factory struct{}

func NewFactory() executor.Factory {
	return Factory{}
}

func (Factory) Kind() models.StepKind {
	return models.StepKindCondition
}

func (Factory) Description() string {
	return "Evaluates an expression and routes to the then or else step"
}

func (Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Template that renders to a truthy or falsy value",
				"examples": []string{
					"{{.vars.enabled}}",
					"{{gt .results.score.value 10.0}}",
				},
			},
			"then":    map[string]any{"type": "string"},
			"else":    map[string]any{"type": "string"},
			"timeout": executor.TimeoutProperty(),
		},
		"required": []string{"expression"},
	}
}

func (Factory) Create(step *models.Step) (executor.Executor, error) {
	return New(step)
}
