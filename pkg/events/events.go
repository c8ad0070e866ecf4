// Package events defines the lifecycle notifications emitted by the engine
// and the error handler.
package events

import (
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every lifecycle event.
const Topic = "stepflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow lifecycle events.
	WorkflowCreatedEvent   EventType = "workflow:created"
	WorkflowStartedEvent   EventType = "workflow:started"
	WorkflowCompletedEvent EventType = "workflow:completed"
	WorkflowFailedEvent    EventType = "workflow:failed"
	WorkflowPausedEvent    EventType = "workflow:paused"
	WorkflowResumedEvent   EventType = "workflow:resumed"
	WorkflowCancelledEvent EventType = "workflow:cancelled"
	WorkflowLogEvent       EventType = "workflow:log"

	// Step events.
	StepCompletedEvent EventType = "step:completed"
	StepFailedEvent    EventType = "step:failed"

	// Error handler events.
	CircuitBreakerOpenedEvent   EventType = "circuit-breaker:opened"
	CircuitBreakerHalfOpenEvent EventType = "circuit-breaker:half-open"
	CircuitBreakerReopenedEvent EventType = "circuit-breaker:reopened"
	CircuitBreakerResetEvent    EventType = "circuit-breaker:reset"
	DeadLetterAddedEvent        EventType = "dead-letter:added"
	ErrorResolvedEvent          EventType = "error:resolved"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  workflowID,
		ExecutionID: executionID,
	}
}

type WorkflowCreated struct {
	BaseEvent

	Name    string `json:"name"`
	Version int    `json:"version"`
	Steps   int    `json:"steps"`
}

func (w WorkflowCreated) GetType() EventType {
	return WorkflowCreatedEvent
}

type WorkflowStarted struct {
	BaseEvent

	Variables map[string]any `json:"variables,omitempty"`
}

func (w WorkflowStarted) GetType() EventType {
	return WorkflowStartedEvent
}

type WorkflowCompleted struct {
	BaseEvent

	DurationMs    int64          `json:"duration_ms"`
	StepsExecuted int            `json:"steps_executed"`
	Results       map[string]any `json:"results,omitempty"`
}

func (w WorkflowCompleted) GetType() EventType {
	return WorkflowCompletedEvent
}

type WorkflowFailed struct {
	BaseEvent

	StepID     string `json:"step_id,omitempty"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

func (w WorkflowFailed) GetType() EventType {
	return WorkflowFailedEvent
}

type WorkflowPaused struct {
	BaseEvent

	StepID string `json:"step_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (w WorkflowPaused) GetType() EventType {
	return WorkflowPausedEvent
}

type WorkflowResumed struct {
	BaseEvent

	StepID      string `json:"step_id,omitempty"`
	SkipCurrent bool   `json:"skip_current,omitempty"`
}

func (w WorkflowResumed) GetType() EventType {
	return WorkflowResumedEvent
}

type WorkflowCancelled struct {
	BaseEvent

	StepID string `json:"step_id,omitempty"`
}

func (w WorkflowCancelled) GetType() EventType {
	return WorkflowCancelledEvent
}

type WorkflowLog struct {
	BaseEvent

	Entry models.LogEntry `json:"entry"`
}

func (w WorkflowLog) GetType() EventType {
	return WorkflowLogEvent
}

type StepCompleted struct {
	BaseEvent

	StepID     string          `json:"step_id"`
	StepKind   models.StepKind `json:"step_kind"`
	DurationMs int64           `json:"duration_ms"`
}

func (s StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	StepID     string          `json:"step_id"`
	StepKind   models.StepKind `json:"step_kind"`
	Error      string          `json:"error"`
	DurationMs int64           `json:"duration_ms"`
}

func (s StepFailed) GetType() EventType {
	return StepFailedEvent
}

// CircuitBreakerTransition carries every circuit-breaker:* event; the
// concrete transition is in Type.
type CircuitBreakerTransition struct {
	BaseEvent

	Key         string              `json:"key"`
	From        models.CircuitState `json:"from"`
	To          models.CircuitState `json:"to"`
	Failures    int                 `json:"failures"`
	NextAttempt time.Time           `json:"next_attempt,omitzero"`
}

func (c CircuitBreakerTransition) GetType() EventType {
	return c.Type
}

type DeadLetterAdded struct {
	BaseEvent

	ErrorID   string          `json:"error_id"`
	StepID    string          `json:"step_id"`
	StepKind  models.StepKind `json:"step_kind"`
	Cause     string          `json:"cause"`
	QueueSize int             `json:"queue_size"`
}

func (d DeadLetterAdded) GetType() EventType {
	return DeadLetterAddedEvent
}

type ErrorResolved struct {
	BaseEvent

	ErrorID    string `json:"error_id"`
	StepID     string `json:"step_id"`
	Resolution string `json:"resolution"`
}

func (e ErrorResolved) GetType() EventType {
	return ErrorResolvedEvent
}

// New returns an empty event value for a type, used to decode payloads.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case WorkflowCreatedEvent:
		return &WorkflowCreated{}, true
	case WorkflowStartedEvent:
		return &WorkflowStarted{}, true
	case WorkflowCompletedEvent:
		return &WorkflowCompleted{}, true
	case WorkflowFailedEvent:
		return &WorkflowFailed{}, true
	case WorkflowPausedEvent:
		return &WorkflowPaused{}, true
	case WorkflowResumedEvent:
		return &WorkflowResumed{}, true
	case WorkflowCancelledEvent:
		return &WorkflowCancelled{}, true
	case WorkflowLogEvent:
		return &WorkflowLog{}, true
	case StepCompletedEvent:
		return &StepCompleted{}, true
	case StepFailedEvent:
		return &StepFailed{}, true
	case CircuitBreakerOpenedEvent, CircuitBreakerHalfOpenEvent, CircuitBreakerReopenedEvent, CircuitBreakerResetEvent:
		return &CircuitBreakerTransition{}, true
	case DeadLetterAddedEvent:
		return &DeadLetterAdded{}, true
	case ErrorResolvedEvent:
		return &ErrorResolved{}, true
	default:
		return nil, false
	}
}
