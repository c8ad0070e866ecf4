package parallel

import (
	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
)

type Factory struct{}

func NewFactory() executor.Factory {
	return Factory{}
}

func (Factory) Kind() models.StepKind {
	return models.StepKindParallel
}

func (Factory) Description() string {
	return "Runs branch steps concurrently and joins them; any failure fails the step"
}

func (Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"branches": map[string]any{
				"type":        "array",
				"minItems":    1,
				"uniqueItems": true,
				"items":       map[string]any{"type": "string", "minLength": 1},
			},
			"max_concurrency": map[string]any{
				"type":        "integer",
				"minimum":     0,
				"description": "Upper bound of branches running at once; 0 is unbounded",
			},
			"timeout": executor.TimeoutProperty(),
		},
		"required": []string{"branches"},
	}
}

func (Factory) Create(step *models.Step) (executor.Executor, error) {
	return New(step)
}
