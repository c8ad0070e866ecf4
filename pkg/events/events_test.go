package events

import (
	"encoding/json"
	"testing"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetType(t *testing.T) {
	assert.Equal(t, WorkflowCreatedEvent, WorkflowCreated{}.GetType())
	assert.Equal(t, WorkflowCompletedEvent, WorkflowCompleted{}.GetType())
	assert.Equal(t, WorkflowPausedEvent, WorkflowPaused{}.GetType())
	assert.Equal(t, StepFailedEvent, StepFailed{}.GetType())
	assert.Equal(t, DeadLetterAddedEvent, DeadLetterAdded{}.GetType())
	assert.Equal(t, ErrorResolvedEvent, ErrorResolved{}.GetType())
}

func TestCircuitBreakerTransition_TypeComesFromBase(t *testing.T) {
	event := CircuitBreakerTransition{
		BaseEvent: NewBaseEvent(CircuitBreakerReopenedEvent, "", ""),
		Key:       "http",
		From:      models.CircuitHalfOpen,
		To:        models.CircuitOpen,
	}

	assert.Equal(t, CircuitBreakerReopenedEvent, event.GetType())
}

func TestNewBaseEvent(t *testing.T) {
	base := NewBaseEvent(WorkflowStartedEvent, "wf-1", "exec-1")

	assert.NotEmpty(t, base.ID)
	assert.Equal(t, WorkflowStartedEvent, base.Type)
	assert.Equal(t, "wf-1", base.WorkflowID)
	assert.Equal(t, "exec-1", base.ExecutionID)
	assert.False(t, base.Timestamp.IsZero())
}

func TestNew_DecodesEveryEmittedType(t *testing.T) {
	types := []EventType{
		WorkflowCreatedEvent, WorkflowStartedEvent, WorkflowCompletedEvent, WorkflowFailedEvent,
		WorkflowPausedEvent, WorkflowResumedEvent, WorkflowCancelledEvent, WorkflowLogEvent,
		StepCompletedEvent, StepFailedEvent,
		CircuitBreakerOpenedEvent, CircuitBreakerHalfOpenEvent, CircuitBreakerReopenedEvent, CircuitBreakerResetEvent,
		DeadLetterAddedEvent, ErrorResolvedEvent,
	}

	for _, eventType := range types {
		t.Run(string(eventType), func(t *testing.T) {
			event, ok := New(eventType)
			require.True(t, ok)
			assert.NotNil(t, event)
		})
	}

	_, ok := New("unknown")
	assert.False(t, ok)
}

func TestDeadLetterAdded_JSON(t *testing.T) {
	original := DeadLetterAdded{
		BaseEvent: NewBaseEvent(DeadLetterAddedEvent, "wf-1", "exec-1"),
		ErrorID:   "err-1",
		StepID:    "s1",
		StepKind:  models.StepKindHTTP,
		Cause:     "boom",
		QueueSize: 3,
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"dead-letter:added"`)
	assert.Contains(t, string(data), `"step_kind":"http"`)
}
