package web

import "github.com/dukex/stepflow/pkg/models"

// ExecuteWorkflowRequest overrides the definition's default variables.
type ExecuteWorkflowRequest struct {
	Variables map[string]any `json:"variables"`
}

type ExecuteWorkflowResponse struct {
	ExecutionID string `json:"execution_id"`
}

type PauseExecutionRequest struct {
	Reason string `json:"reason" validate:"max=512"`
}

type ResumeExecutionRequest struct {
	SkipCurrent bool `json:"skip_current"`
}

type ResolveErrorRequest struct {
	Resolution string `json:"resolution" validate:"required,oneof=retry skip cancel"`
}

// ExecutionSummary is the list representation of an execution; logs and
// results are only returned by GET /executions/:id.
type ExecutionSummary struct {
	ID              string                 `json:"id"`
	WorkflowID      string                 `json:"workflow_id"`
	WorkflowVersion int                    `json:"workflow_version"`
	Status          models.ExecutionStatus `json:"status"`
	CurrentStepID   string                 `json:"current_step_id,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Revision        int64                  `json:"revision"`
}

func summarize(exec *models.Execution) ExecutionSummary {
	return ExecutionSummary{
		ID:              exec.ID,
		WorkflowID:      exec.WorkflowID,
		WorkflowVersion: exec.WorkflowVersion,
		Status:          exec.Status,
		CurrentStepID:   exec.CurrentStepID,
		Error:           exec.Error,
		Revision:        exec.Revision,
	}
}
