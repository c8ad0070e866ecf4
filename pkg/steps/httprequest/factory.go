package httprequest

import (
	"net/http"
	"time"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
)

type Factory struct {
	client *http.Client
}

// NewFactory uses client for every request; nil gets a client with a 30s
// timeout. Per-step timeouts are applied by the engine through the context.
func NewFactory(client *http.Client) executor.Factory {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Factory{client: client}
}

func (f *Factory) Kind() models.StepKind {
	return models.StepKindHTTP
}

func (f *Factory) Description() string {
	return "Performs an HTTP request; any non-2xx response fails the step"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Request URL. Supports templating with {{.vars.name}} and {{.results.step_id}}",
				"examples": []string{
					"https://api.example.com/users",
					"https://{{.vars.api_host}}/orders/{{.results.create_order.json.id}}",
				},
			},
			"method": map[string]any{
				"type":    "string",
				"default": "GET",
				"enum":    []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS", "get", "post", "put", "delete", "patch", "head", "options"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body":    map[string]any{"type": "string"},
			"timeout": executor.TimeoutProperty(),
		},
		"required": []string{"url"},
	}
}

func (f *Factory) Create(step *models.Step) (executor.Executor, error) {
	return New(step, f.client)
}
