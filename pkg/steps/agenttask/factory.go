package agenttask

import (
	"net/http"
	"time"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
)

type Factory struct {
	client   *http.Client
	endpoint string
}

// NewFactory posts tasks to endpoint unless a step names its own.
func NewFactory(client *http.Client, endpoint string) executor.Factory {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	return &Factory{client: client, endpoint: endpoint}
}

func (f *Factory) Kind() models.StepKind {
	return models.StepKindAgentTask
}

func (f *Factory) Description() string {
	return "Hands a task to an external agent service and returns its answer"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{"type": "string", "minLength": 1},
			"task": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples":  []string{"Summarize {{.results.fetch.body}}"},
			},
			"endpoint": map[string]any{"type": "string"},
			"input":    map[string]any{"type": "object"},
			"timeout":  executor.TimeoutProperty(),
		},
		"required": []string{"agent", "task"},
	}
}

func (f *Factory) Create(step *models.Step) (executor.Executor, error) {
	return New(step, f.client, f.endpoint)
}
