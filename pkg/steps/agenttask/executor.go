// Package agenttask provides the agent-task step. The agent itself is an
// external service reached over HTTP.
package agenttask

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/template"
)

var (
	ErrMissingEndpoint = errors.New("agent-task step requires an endpoint")
	ErrAgentFailed     = errors.New("agent task failed")
)

// Request is the body posted to the agent endpoint.
type Request struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	StepID      string         `json:"step_id"`
	Agent       string         `json:"agent"`
	Task        string         `json:"task"`
	Input       map[string]any `json:"input,omitempty"`
}

type Executor struct {
	config models.AgentTaskConfig
	client *http.Client
}

func New(step *models.Step, client *http.Client, defaultEndpoint string) (*Executor, error) {
	var config models.AgentTaskConfig
	if err := models.DecodeConfig(step.Config, &config); err != nil {
		return nil, err
	}

	if config.Endpoint == "" {
		config.Endpoint = defaultEndpoint
	}

	if config.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}

	return &Executor{config: config, client: client}, nil
}

func (e *Executor) Execute(ctx context.Context, ec *executor.Context) (any, error) {
	view := ec.Execution()

	task, err := template.RenderWithContext(e.config.Task, view)
	if err != nil {
		return nil, fmt.Errorf("failed to render task: %w", err)
	}

	input := make(map[string]any, len(e.config.Input))

	for key, value := range e.config.Input {
		s, ok := value.(string)
		if !ok {
			input[key] = value

			continue
		}

		rendered, err := template.RenderWithContext(s, view)
		if err != nil {
			return nil, fmt.Errorf("failed to render input %s: %w", key, err)
		}

		input[key] = rendered
	}

	payload, err := json.Marshal(Request{
		ExecutionID: ec.ExecutionID,
		WorkflowID:  ec.WorkflowID,
		StepID:      ec.Step.ID,
		Agent:       e.config.Agent,
		Task:        fmt.Sprint(task),
		Input:       input,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAgentFailed, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: agent %s returned %d: %s", ErrAgentFailed, e.config.Agent, resp.StatusCode, body)
	}

	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return map[string]any{"output": string(body)}, nil
	}

	return out, nil
}
