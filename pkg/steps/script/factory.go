package script

import (
	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
)

type Factory struct{}

func NewFactory() executor.Factory {
	return Factory{}
}

func (Factory) Kind() models.StepKind {
	return models.StepKindScript
}

func (Factory) Description() string {
	return "Renders a template expression against variables and results"
}

func (Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Template rendered as the step output",
				"examples":    []string{"{{.vars.greeting}}", `{"total": {{.results.sum}}}`},
			},
			"fail": map[string]any{
				"type":        "boolean",
				"description": "Always fail, for drills and tests",
				"default":     false,
			},
			"message": map[string]any{"type": "string"},
			"timeout": executor.TimeoutProperty(),
		},
	}
}

func (Factory) Create(step *models.Step) (executor.Executor, error) {
	return New(step)
}
