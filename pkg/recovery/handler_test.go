package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/mocks"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type fixture struct {
	handler    *Handler
	controller *mocks.MockExecutionController
	bus        *mocks.MockEventBus
	clock      *fakeClock
	sleeps     []time.Duration
	workflow   *models.Workflow
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		controller: &mocks.MockExecutionController{},
		bus:        &mocks.MockEventBus{},
		clock:      newFakeClock(),
		workflow: &models.Workflow{
			ID:   "wf-1",
			Name: "recovery",
			Steps: []*models.Step{
				{ID: "s1", Kind: models.StepKindHTTP},
				{ID: "fallback", Kind: models.StepKindScript},
			},
		},
	}

	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	f.handler = NewHandler(cfg, f.bus, log.Discard(),
		WithClock(f.clock.Now),
		WithSleep(func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)

			return nil
		}),
	)
	f.handler.Attach(f.controller)

	return f
}

func (f *fixture) expectLookup(stepID string) {
	f.controller.On("LookupStep", mock.Anything, "exec-1", stepID).
		Return(f.workflow, f.workflow.StepByID(stepID), nil).Maybe()
}

func TestStrategyFor_Precedence(t *testing.T) {
	h := NewHandler(Config{}, nil, log.Discard())

	step := &models.Step{ID: "s1", Kind: models.StepKindHTTP, Recovery: &models.RecoveryStrategy{Type: models.RecoveryRollback}}

	assert.Equal(t, models.RecoveryRetry, h.StrategyFor("other", nil, models.StepKindHTTP).Type, "default")

	h.RegisterKindStrategy(models.StepKindHTTP, models.RecoveryStrategy{Type: models.RecoverySkip})
	assert.Equal(t, models.RecoverySkip, h.StrategyFor("other", nil, models.StepKindHTTP).Type, "kind")
	assert.Equal(t, models.RecoveryRollback, h.StrategyFor("s1", step, models.StepKindHTTP).Type, "definition block beats kind")

	h.RegisterStepStrategy("s1", models.RecoveryStrategy{Type: models.RecoveryEscalate})
	assert.Equal(t, models.RecoveryEscalate, h.StrategyFor("s1", step, models.StepKindHTTP).Type, "step id wins")

	h.SetDefaultStrategy(models.RecoveryStrategy{Type: models.RecoveryAlternative})
	assert.Equal(t, models.RecoveryAlternative, h.StrategyFor("x", nil, models.StepKindScript).Type)
}

func TestHandleStepError_RetryFailsTwiceThenSucceeds(t *testing.T) {
	f := newFixture(t, Config{})
	f.expectLookup("s1")
	f.handler.RegisterStepStrategy("s1", models.RecoveryStrategy{Type: models.RecoveryRetry, MaxAttempts: 3, DelayMS: 10})

	f.controller.On("InvokeStep", mock.Anything, "exec-1", "s1").Return(nil, errBoom).Once()
	f.controller.On("InvokeStep", mock.Anything, "exec-1", "s1").Return("ok", nil).Once()
	f.controller.On("RecordRecovery", mock.Anything, "exec-1", "s1", "ok", models.RecoveryRetry).Return(nil).Once()

	resolved, err := f.handler.HandleStepError(context.Background(), "exec-1", "s1", errBoom, models.StepKindHTTP)
	require.NoError(t, err)
	assert.True(t, resolved)

	errs := f.handler.Errors("exec-1")
	require.Len(t, errs, 1)
	assert.Equal(t, 3, errs[0].Attempts)
	assert.True(t, errs[0].Resolved)
	assert.Equal(t, "retry", errs[0].Resolution)
	assert.Equal(t, "wf-1", errs[0].WorkflowID)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, f.sleeps)

	assert.Empty(t, f.handler.DeadLetters())
	f.controller.AssertNotCalled(t, "PauseExecution", mock.Anything, mock.Anything, mock.Anything)
	f.controller.AssertExpectations(t)
}

func TestHandleStepError_RetryExhaustedDeadLettersAndPauses(t *testing.T) {
	f := newFixture(t, Config{})
	f.expectLookup("s1")
	f.handler.RegisterStepStrategy("s1", models.RecoveryStrategy{Type: models.RecoveryRetry, MaxAttempts: 3, DelayMS: 100, Backoff: "exponential"})

	f.controller.On("InvokeStep", mock.Anything, "exec-1", "s1").Return(nil, errors.New("still down")).Twice()
	f.controller.On("PauseExecution", mock.Anything, "exec-1", mock.Anything).Return(nil).Once()

	resolved, err := f.handler.HandleStepError(context.Background(), "exec-1", "s1", errBoom, models.StepKindHTTP)
	require.NoError(t, err)
	assert.False(t, resolved)

	dead := f.handler.DeadLetterFor("exec-1")
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, "still down", dead[0].Cause)
	assert.False(t, dead[0].Resolved)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, f.sleeps)

	f.bus.AssertCalled(t, "Publish", mock.Anything, "exec-1", mocks.EventOfType(events.DeadLetterAddedEvent))
	f.controller.AssertExpectations(t)
}

func TestHandleStepError_PausesBeforeDeadLettering(t *testing.T) {
	f := newFixture(t, Config{})
	f.expectLookup("s1")
	f.handler.RegisterStepStrategy("s1", models.RecoveryStrategy{Type: models.RecoveryEscalate})

	var queuedAtPause int

	f.controller.On("PauseExecution", mock.Anything, "exec-1", mock.Anything).
		Run(func(mock.Arguments) { queuedAtPause = len(f.handler.DeadLetters()) }).
		Return(nil).Once()

	resolved, err := f.handler.HandleStepError(context.Background(), "exec-1", "s1", errBoom, models.StepKindHTTP)
	require.NoError(t, err)
	assert.False(t, resolved)

	assert.Zero(t, queuedAtPause)
	assert.Len(t, f.handler.DeadLetters(), 1)
	f.controller.AssertExpectations(t)
}

func TestHandleStepError_PauseRejectedSkipsDeadLetter(t *testing.T) {
	f := newFixture(t, Config{})
	f.expectLookup("s1")
	f.handler.RegisterStepStrategy("s1", models.RecoveryStrategy{Type: models.RecoveryEscalate})

	rejected := errors.New("invalid execution status transition: cancelled -> paused")
	f.controller.On("PauseExecution", mock.Anything, "exec-1", mock.Anything).Return(rejected).Once()

	resolved, err := f.handler.HandleStepError(context.Background(), "exec-1", "s1", errBoom, models.StepKindHTTP)
	require.ErrorIs(t, err, rejected)
	assert.False(t, resolved)

	assert.Empty(t, f.handler.DeadLetters())
	f.bus.AssertNotCalled(t, "Publish", mock.Anything, "exec-1", mocks.EventOfType(events.DeadLetterAddedEvent))
}

func TestHandleStepError_RetryAbandonedWhenExecutionStops(t *testing.T) {
	f := newFixture(t, Config{})
	f.expectLookup("s1")
	f.handler.RegisterStepStrategy("s1", models.RecoveryStrategy{Type: models.RecoveryRetry, MaxAttempts: 5, DelayMS: 10})

	f.controller.On("InvokeStep", mock.Anything, "exec-1", "s1").Return(nil, errBoom).Once()
	f.controller.On("InvokeStep", mock.Anything, "exec-1", "s1").
		Return(nil, fmt.Errorf("%w: exec-1 is cancelled", ErrExecutionNotRunning)).Once()

	resolved, err := f.handler.HandleStepError(context.Background(), "exec-1", "s1", errBoom, models.StepKindHTTP)
	require.NoError(t, err)
	assert.False(t, resolved)

	errs := f.handler.Errors("exec-1")
	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].Attempts)
	assert.True(t, errs[0].Resolved)
	assert.Equal(t, ResolutionAbandoned, errs[0].Resolution)

	assert.Empty(t, f.handler.DeadLetters())
	assert.Len(t, f.sleeps, 2)
	f.controller.AssertNotCalled(t, "PauseExecution", mock.Anything, mock.Anything, mock.Anything)
	f.controller.AssertNumberOfCalls(t, "InvokeStep", 2)
}

func TestResolveError_RejectedWhileRecovering(t *testing.T) {
	f := newFixture(t, Config{})
	f.expectLookup("s1")
	f.handler.RegisterStepStrategy("s1", models.RecoveryStrategy{Type: models.RecoveryRetry, MaxAttempts: 2})

	var resolveErr error

	f.controller.On("InvokeStep", mock.Anything, "exec-1", "s1").
		Run(func(mock.Arguments) {
			errs := f.handler.Errors("exec-1")
			resolveErr = f.handler.ResolveError(context.Background(), errs[0].ID, ResolutionSkip)
		}).
		Return("ok", nil).Once()
	f.controller.On("RecordRecovery", mock.Anything, "exec-1", "s1", "ok", models.RecoveryRetry).Return(nil).Once()

	resolved, err := f.handler.HandleStepError(context.Background(), "exec-1", "s1", errBoom, models.StepKindHTTP)
	require.NoError(t, err)
	assert.True(t, resolved)

	require.ErrorIs(t, resolveErr, ErrRecoveryInProgress)
	f.controller.AssertNotCalled(t, "ResumeExecution", mock.Anything, mock.Anything, mock.Anything)

	errs := f.handler.Errors("exec-1")
	require.Len(t, errs, 1)
	assert.Equal(t, "retry", errs[0].Resolution)
}

func TestHandleStepError_Skip(t *testing.T) {
	f := newFixture(t, Config{DefaultStrategy: models.RecoveryStrategy{Type: models.RecoverySkip}})
	f.expectLookup("s1")
	f.controller.On("RecordRecovery", mock.Anything, "exec-1", "s1", models.SkippedResult, models.RecoverySkip).Return(nil).Once()

	resolved, err := f.handler.HandleStepError(context.Background(), "exec-1", "s1", errBoom, models.StepKindHTTP)
	require.NoError(t, err)
	assert.True(t, resolved)
	f.controller.AssertExpectations(t)
}

func TestHandleStepError_Alternative(t *testing.T) {
	f := newFixture(t, Config{})
	f.expectLookup("s1")
	f.handler.RegisterKindStrategy(models.StepKindHTTP, models.RecoveryStrategy{Type: models.RecoveryAlternative, AlternativeStep: "fallback"})

	f.controller.On("InvokeStep", mock.Anything, "exec-1", "fallback").Return("cached", nil).Once()
	f.controller.On("RecordRecovery", mock.Anything, "exec-1", "s1", "cached", models.RecoveryAlternative).Return(nil).Once()

	resolved, err := f.handler.HandleStepError(context.Background(), "exec-1", "s1", errBoom, models.StepKindHTTP)
	require.NoError(t, err)
	assert.True(t, resolved)
	f.controller.AssertExpectations(t)
}

func TestHandleStepError_AlternativeFailureIsRecoveryFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.expectLookup("s1")
	f.handler.RegisterKindStrategy(models.StepKindHTTP, models.RecoveryStrategy{Type: models.RecoveryAlternative, AlternativeStep: "fallback"})

	f.controller.On("InvokeStep", mock.Anything, "exec-1", "fallback").Return(nil, errors.New("fallback down")).Once()
	f.controller.On("PauseExecution", mock.Anything, "exec-1", mock.Anything).Return(nil).Once()

	resolved, err := f.handler.HandleStepError(context.Background(), "exec-1", "s1", errBoom, models.StepKindHTTP)
	require.NoError(t, err)
	assert.False(t, resolved)

	dead := f.handler.DeadLetters()
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].Cause, "fallback down")
	f.controller.AssertNotCalled(t, "RecordRecovery", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleStepError_Rollback(t *testing.T) {
	f := newFixture(t, Config{})
	f.expectLookup("s1")
	f.handler.RegisterStepStrategy("s1", models.RecoveryStrategy{Type: models.RecoveryRollback, RollbackSteps: []string{"a", "b"}})

	f.controller.On("RemoveResults", mock.Anything, "exec-1", []string{"a", "b"}).Return(nil).Once()
	f.controller.On("RecordRecovery", mock.Anything, "exec-1", "s1", models.RolledBackResult, models.RecoveryRollback).Return(nil).Once()

	resolved, err := f.handler.HandleStepError(context.Background(), "exec-1", "s1", errBoom, models.StepKindHTTP)
	require.NoError(t, err)
	assert.True(t, resolved)
	f.controller.AssertExpectations(t)
}

func TestHandleStepError_EscalatePauses(t *testing.T) {
	f := newFixture(t, Config{})
	f.expectLookup("s1")
	f.workflow.Steps[0].Recovery = &models.RecoveryStrategy{Type: models.RecoveryEscalate}

	f.controller.On("PauseExecution", mock.Anything, "exec-1", mock.MatchedBy(func(reason string) bool {
		return reason == "step s1 escalated: boom"
	})).Return(nil).Once()

	resolved, err := f.handler.HandleStepError(context.Background(), "exec-1", "s1", errBoom, models.StepKindHTTP)
	require.NoError(t, err)
	assert.False(t, resolved)

	errs := f.handler.Errors("exec-1")
	require.Len(t, errs, 1)
	assert.Equal(t, models.RecoveryEscalate, errs[0].RecoveryStrategy)
	assert.Len(t, f.handler.DeadLetterFor("exec-1"), 1)
	f.controller.AssertExpectations(t)
}

func TestHandleStepError_WithoutController(t *testing.T) {
	h := NewHandler(Config{}, nil, log.Discard())

	_, err := h.HandleStepError(context.Background(), "exec-1", "s1", errBoom, models.StepKindScript)
	require.ErrorIs(t, err, ErrNoController)
}

func TestCircuitBreaker_OpensRejectsAndHalfOpens(t *testing.T) {
	f := newFixture(t, Config{DefaultStrategy: models.RecoveryStrategy{Type: models.RecoverySkip}})
	f.expectLookup("s1")
	f.controller.On("RecordRecovery", mock.Anything, "exec-1", "s1", mock.Anything, models.RecoverySkip).Return(nil)

	ctx := context.Background()

	for range DefaultBreakerThreshold {
		require.NoError(t, f.handler.AllowStep(ctx, "s1", models.StepKindHTTP))

		resolved, err := f.handler.HandleStepError(ctx, "exec-1", "s1", errBoom, models.StepKindHTTP)
		require.NoError(t, err)
		assert.True(t, resolved)
	}

	state := f.handler.BreakerState(string(models.StepKindHTTP))
	assert.Equal(t, models.CircuitOpen, state.State)
	assert.Equal(t, f.clock.Now().Add(DefaultBreakerTimeout), state.NextAttempt)
	f.bus.AssertCalled(t, "Publish", mock.Anything, "http", mocks.EventOfType(events.CircuitBreakerOpenedEvent))

	err := f.handler.AllowStep(ctx, "s1", models.StepKindHTTP)
	require.ErrorIs(t, err, ErrCircuitOpen)

	resolved, err := f.handler.HandleStepError(ctx, "exec-1", "s1", err, models.StepKindHTTP)
	require.NoError(t, err)
	assert.False(t, resolved, "open breaker short-circuits recovery")
	f.controller.AssertNumberOfCalls(t, "RecordRecovery", DefaultBreakerThreshold)
	f.controller.AssertNotCalled(t, "PauseExecution", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.handler.DeadLetters())

	f.clock.Advance(DefaultBreakerTimeout)

	require.NoError(t, f.handler.AllowStep(ctx, "s1", models.StepKindHTTP))

	state = f.handler.BreakerState("http")
	assert.Equal(t, models.CircuitHalfOpen, state.State)
	assert.Zero(t, state.Failures)
	f.bus.AssertCalled(t, "Publish", mock.Anything, "http", mocks.EventOfType(events.CircuitBreakerHalfOpenEvent))
}

func TestCircuitBreaker_HalfOpenReopensAndSuccessResets(t *testing.T) {
	f := newFixture(t, Config{BreakerThreshold: 1, HalfOpenThreshold: 2, BreakerTimeout: time.Second})
	ctx := context.Background()
	breakers := f.handler.breakers

	breakers.RecordFailure(ctx, "script")
	assert.True(t, breakers.IsOpen("script"))

	f.clock.Advance(time.Second)
	require.NoError(t, breakers.Allow(ctx, "script"))

	breakers.RecordFailure(ctx, "script")
	assert.Equal(t, models.CircuitHalfOpen, breakers.State("script").State)

	breakers.RecordFailure(ctx, "script")
	assert.Equal(t, models.CircuitOpen, breakers.State("script").State)
	f.bus.AssertCalled(t, "Publish", mock.Anything, "script", mocks.EventOfType(events.CircuitBreakerReopenedEvent))

	f.clock.Advance(time.Second)
	require.NoError(t, breakers.Allow(ctx, "script"))

	f.handler.StepSucceeded(ctx, "any", models.StepKindScript)
	assert.Equal(t, models.CircuitClosed, breakers.State("script").State)
	assert.Zero(t, breakers.State("script").Failures)
	f.bus.AssertCalled(t, "Publish", mock.Anything, "script", mocks.EventOfType(events.CircuitBreakerResetEvent))
}

func TestCircuitBreaker_KeyByStepID(t *testing.T) {
	h := NewHandler(Config{BreakerKeyByStepID: true}, nil, log.Discard())

	assert.Equal(t, "s1", h.BreakerKey("s1", models.StepKindHTTP))
	assert.Equal(t, "http", NewHandler(Config{}, nil, log.Discard()).BreakerKey("s1", models.StepKindHTTP))
}

func TestDeadLetterQueue_EvictsOldest(t *testing.T) {
	q := NewDeadLetterQueue(2)

	q.Add(models.WorkflowError{ID: "1"})
	q.Add(models.WorkflowError{ID: "2"})
	size := q.Add(models.WorkflowError{ID: "3"})

	assert.Equal(t, 2, size)

	ids := []string{}
	for _, e := range q.All() {
		ids = append(ids, e.ID)
	}

	assert.Equal(t, []string{"2", "3"}, ids)
	assert.True(t, q.Remove("2"))
	assert.False(t, q.Remove("2"))
	assert.Equal(t, 1, q.Len())
}

func deadLetter(t *testing.T, f *fixture) models.WorkflowError {
	t.Helper()

	f.expectLookup("s1")
	f.handler.RegisterStepStrategy("s1", models.RecoveryStrategy{Type: models.RecoveryEscalate})
	f.controller.On("PauseExecution", mock.Anything, "exec-1", mock.Anything).Return(nil).Once()

	resolved, err := f.handler.HandleStepError(context.Background(), "exec-1", "s1", errBoom, models.StepKindHTTP)
	require.NoError(t, err)
	require.False(t, resolved)

	dead := f.handler.DeadLetters()
	require.Len(t, dead, 1)

	return dead[0]
}

func TestResolveError(t *testing.T) {
	tests := []struct {
		resolution string
		expect     func(c *mocks.MockExecutionController)
	}{
		{ResolutionRetry, func(c *mocks.MockExecutionController) {
			c.On("ResumeExecution", mock.Anything, "exec-1", models.ResumeOptions{}).Return(nil).Once()
		}},
		{ResolutionSkip, func(c *mocks.MockExecutionController) {
			c.On("ResumeExecution", mock.Anything, "exec-1", models.ResumeOptions{SkipCurrent: true}).Return(nil).Once()
		}},
		{ResolutionCancel, func(c *mocks.MockExecutionController) {
			c.On("CancelExecution", mock.Anything, "exec-1").Return(nil).Once()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.resolution, func(t *testing.T) {
			f := newFixture(t, Config{})
			entry := deadLetter(t, f)
			tt.expect(f.controller)

			require.NoError(t, f.handler.ResolveError(context.Background(), entry.ID, tt.resolution))

			resolved, ok := f.handler.Error(entry.ID)
			require.True(t, ok)
			assert.True(t, resolved.Resolved)
			assert.Equal(t, tt.resolution, resolved.Resolution)
			assert.NotNil(t, resolved.ResolvedAt)
			assert.Empty(t, f.handler.DeadLetters())
			f.bus.AssertCalled(t, "Publish", mock.Anything, "exec-1", mocks.EventOfType(events.ErrorResolvedEvent))

			err := f.handler.ResolveError(context.Background(), entry.ID, tt.resolution)
			require.ErrorIs(t, err, ErrAlreadyResolved)
			f.controller.AssertExpectations(t)
		})
	}
}

func TestResolveError_Invalid(t *testing.T) {
	f := newFixture(t, Config{})

	err := f.handler.ResolveError(context.Background(), "missing", ResolutionRetry)
	require.ErrorIs(t, err, ErrErrorNotFound)

	entry := deadLetter(t, f)

	err = f.handler.ResolveError(context.Background(), entry.ID, "ignore")
	require.ErrorIs(t, err, ErrInvalidResolution)
	assert.Len(t, f.handler.DeadLetters(), 1)
}

func TestCleanupResolvedErrors(t *testing.T) {
	f := newFixture(t, Config{})
	entry := deadLetter(t, f)
	f.controller.On("CancelExecution", mock.Anything, "exec-1").Return(nil).Once()

	require.NoError(t, f.handler.ResolveError(context.Background(), entry.ID, ResolutionCancel))

	assert.Zero(t, f.handler.CleanupResolvedErrors(time.Hour), "too recent")

	f.clock.Advance(2 * time.Hour)

	assert.Equal(t, 1, f.handler.CleanupResolvedErrors(time.Hour))
	_, ok := f.handler.Error(entry.ID)
	assert.False(t, ok)
}
