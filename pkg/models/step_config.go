package models

import (
	"encoding/json"
	"fmt"
)

// ParallelConfig fans out to sibling steps and joins them.
type ParallelConfig struct {
	Branches       []string `json:"branches"`
	MaxConcurrency int      `json:"max_concurrency,omitempty"`
}

// ConditionConfig selects one of two next steps.
type ConditionConfig struct {
	Expression string `json:"expression"`
	Then       string `json:"then,omitempty"`
	Else       string `json:"else,omitempty"`
}

// DefaultMaxIterations bounds loops that don't set max_iterations.
const DefaultMaxIterations = 10

// LoopConfig re-runs a target step while a condition holds.
type LoopConfig struct {
	Condition     string `json:"condition"`
	Target        string `json:"target"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// Limit returns the effective iteration bound.
func (c LoopConfig) Limit() int {
	if c.MaxIterations <= 0 {
		return DefaultMaxIterations
	}

	return c.MaxIterations
}

type HTTPConfig struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// ScriptConfig renders an expression. No code is executed.
type ScriptConfig struct {
	Expression string `json:"expression,omitempty"`
	Fail       bool   `json:"fail,omitempty"`
	Message    string `json:"message,omitempty"`
}

type AgentTaskConfig struct {
	Agent    string         `json:"agent"`
	Task     string         `json:"task"`
	Endpoint string         `json:"endpoint,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}

// DecodeConfig converts a step's raw config map into a typed payload.
func DecodeConfig(raw map[string]any, out any) error {
	if raw == nil {
		raw = map[string]any{}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode step config: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode step config: %w", err)
	}

	return nil
}
