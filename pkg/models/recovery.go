package models

import "time"

// RecoveryStrategyType names how a step failure is handled.
type RecoveryStrategyType string

const (
	RecoveryRetry       RecoveryStrategyType = "retry"
	RecoverySkip        RecoveryStrategyType = "skip"
	RecoveryAlternative RecoveryStrategyType = "alternative"
	RecoveryRollback    RecoveryStrategyType = "rollback"
	RecoveryEscalate    RecoveryStrategyType = "escalate"
)

// RecoveryStrategy configures how a failure is handled. Only the fields that
// matter for Type are read.
type RecoveryStrategy struct {
	Type            RecoveryStrategyType `json:"type"                       yaml:"type"                       validate:"required,oneof=retry skip alternative rollback escalate"`
	MaxAttempts     int                  `json:"max_attempts,omitempty"     yaml:"max_attempts,omitempty"     validate:"gte=0"`
	DelayMS         int64                `json:"delay_ms,omitempty"         yaml:"delay_ms,omitempty"         validate:"gte=0"`
	Backoff         string               `json:"backoff,omitempty"          yaml:"backoff,omitempty"          validate:"omitempty,oneof=constant linear exponential exponential_jitter"`
	AlternativeStep string               `json:"alternative_step,omitempty" yaml:"alternative_step,omitempty"`
	RollbackSteps   []string             `json:"rollback_steps,omitempty"   yaml:"rollback_steps,omitempty"`
}

// Delay returns the configured retry delay.
func (r RecoveryStrategy) Delay() time.Duration {
	return time.Duration(r.DelayMS) * time.Millisecond
}

// DefaultRecoveryStrategy is applied when nothing more specific is registered.
func DefaultRecoveryStrategy() RecoveryStrategy {
	return RecoveryStrategy{
		Type:        RecoveryRetry,
		MaxAttempts: 3,
		DelayMS:     1000,
	}
}

// Result sentinels written by recovery strategies.
var (
	SkippedResult    = map[string]any{"status": "skipped"}
	RolledBackResult = map[string]any{"status": "rolled_back"}
)

// IsSkipped reports whether a step result is the skip sentinel.
func IsSkipped(result any) bool {
	m, ok := result.(map[string]any)
	if !ok {
		return false
	}

	return m["status"] == "skipped"
}

// WorkflowError records a step failure routed to the error handler.
type WorkflowError struct {
	ID               string               `json:"id"`
	ExecutionID      string               `json:"execution_id"`
	WorkflowID       string               `json:"workflow_id,omitempty"`
	StepID           string               `json:"step_id"`
	StepKind         StepKind             `json:"step_kind"`
	Cause            string               `json:"cause"`
	Timestamp        time.Time            `json:"timestamp"`
	Attempts         int                  `json:"attempts"`
	Resolved         bool                 `json:"resolved"`
	RecoveryStrategy RecoveryStrategyType `json:"recovery_strategy,omitempty"`
	Resolution       string               `json:"resolution,omitempty"`
	ResolvedAt       *time.Time           `json:"resolved_at,omitempty"`
}

// CircuitState is the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitBreakerState is keyed by step kind or step id.
type CircuitBreakerState struct {
	Key         string       `json:"key"`
	Failures    int          `json:"failures"`
	State       CircuitState `json:"state"`
	NextAttempt time.Time    `json:"next_attempt,omitzero"`
}
