package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

var transitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionPending: {ExecutionRunning, ExecutionCancelled},
	ExecutionRunning: {ExecutionPaused, ExecutionCompleted, ExecutionFailed, ExecutionCancelled},
	ExecutionPaused:  {ExecutionRunning, ExecutionCancelled},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to ExecutionStatus) bool {
	return slices.Contains(transitions[from], to)
}

// LogEntry is one timestamped line of an execution log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	StepID    string    `json:"step_id,omitempty"`
	Message   string    `json:"message"`
}

// Execution is one run of a workflow definition.
type Execution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	WorkflowVersion int             `json:"workflow_version"`
	Status          ExecutionStatus `json:"status"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	CurrentStepID   string          `json:"current_step_id,omitempty"`
	PendingSteps    []string        `json:"pending_steps,omitempty"`
	Variables       map[string]any  `json:"variables,omitempty"`
	Results         map[string]any  `json:"results"`
	Logs            []LogEntry      `json:"logs,omitempty"`
	Error           string          `json:"error,omitempty"`
	Revision        int64           `json:"revision"`
}

// NewExecution merges definition defaults with caller overrides; caller wins.
func NewExecution(id string, workflow *Workflow, overrides map[string]any, now time.Time) *Execution {
	vars := make(map[string]any, len(workflow.Variables)+len(overrides))
	maps.Copy(vars, workflow.Variables)
	maps.Copy(vars, overrides)

	var pending []string
	if first := workflow.FirstStep(); first != nil {
		pending = []string{first.ID}
	}

	return &Execution{
		ID:              id,
		WorkflowID:      workflow.ID,
		WorkflowVersion: workflow.Version,
		Status:          ExecutionPending,
		StartTime:       now,
		PendingSteps:    pending,
		Variables:       vars,
		Results:         map[string]any{},
	}
}

// SetResult records output for a step unless one is already present.
// Returns false when the existing entry was kept.
func (e *Execution) SetResult(stepID string, output any) bool {
	if e.Results == nil {
		e.Results = map[string]any{}
	}

	if _, exists := e.Results[stepID]; exists {
		return false
	}

	e.Results[stepID] = output

	return true
}

// Clone returns a deep copy through a JSON round trip so step outputs
// are detached from the live record.
func (e *Execution) Clone() (*Execution, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution %s: %w", e.ID, err)
	}

	var out Execution
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode execution %s: %w", e.ID, err)
	}

	if out.Results == nil {
		out.Results = map[string]any{}
	}

	return &out, nil
}

// Snapshot is a resumable copy of an execution's dynamic state.
type Snapshot struct {
	ExecutionID string     `json:"execution_id"`
	Sequence    int64      `json:"sequence"`
	CreatedAt   time.Time  `json:"created_at"`
	Execution   *Execution `json:"execution"`
}

// ResumeOptions tunes how a paused execution re-enters its step loop.
type ResumeOptions struct {
	// SkipCurrent records the re-entered step as skipped and moves past it.
	SkipCurrent bool `json:"skip_current,omitempty"`
}
