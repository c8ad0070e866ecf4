// Package httprequest provides the http step.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/template"
)

var ErrMissingURL = errors.New("http step requires a url")

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true, http.MethodDelete: true,
	http.MethodPatch: true, http.MethodHead: true, http.MethodOptions: true,
}

// StatusError is returned for responses outside 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

type Executor struct {
	config models.HTTPConfig
	client *http.Client
}

func New(step *models.Step, client *http.Client) (*Executor, error) {
	var config models.HTTPConfig
	if err := models.DecodeConfig(step.Config, &config); err != nil {
		return nil, err
	}

	if config.URL == "" {
		return nil, ErrMissingURL
	}

	config.Method = strings.ToUpper(config.Method)
	if config.Method == "" {
		config.Method = http.MethodGet
	}

	if !validMethods[config.Method] {
		return nil, fmt.Errorf("invalid HTTP method: %s", config.Method)
	}

	return &Executor{config: config, client: client}, nil
}

// Execute renders url, headers and body, then performs the request. The
// output holds status_code, headers, body and, when the body is JSON, json.
func (e *Executor) Execute(ctx context.Context, ec *executor.Context) (any, error) {
	view := ec.Execution()

	url, err := renderString(e.config.URL, view)
	if err != nil {
		return nil, fmt.Errorf("failed to render url: %w", err)
	}

	var body io.Reader

	if e.config.Body != "" {
		rendered, err := renderString(e.config.Body, view)
		if err != nil {
			return nil, fmt.Errorf("failed to render body: %w", err)
		}

		body = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, e.config.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range e.config.Headers {
		rendered, err := renderString(value, view)
		if err != nil {
			return nil, fmt.Errorf("failed to render header %s: %w", key, err)
		}

		req.Header.Set(key, rendered)
	}

	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(respBody),
	}

	var parsed any
	if err := json.Unmarshal(respBody, &parsed); err == nil {
		result["json"] = parsed
	}

	return result, nil
}

// renderString renders a template and keeps the rendered text even when it
// looks like JSON or a number.
func renderString(input string, view *models.Execution) (string, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}

	rendered, err := template.RenderWithContext(input, view)
	if err != nil {
		return "", err
	}

	switch v := rendered.(type) {
	case string:
		return v, nil
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return "", err
		}

		return string(out), nil
	}
}
