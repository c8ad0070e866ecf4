package engine

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/events"
	"github.com/dukex/stepflow/pkg/models"
)

// run is the in-memory side of one execution. mu guards every field; events
// queued with emit are published by Engine.unlock once mu is released.
type run struct {
	mu    sync.Mutex
	exec  *models.Execution
	graph *graph

	// recoveredBy holds the strategy that recovered a failed step until the
	// loop routes past it.
	recoveredBy map[string]models.RecoveryStrategyType

	unflushed    int
	steps        int
	lastSnapshot time.Time
	outbox       []eventbus.Event

	active bool
	done   chan struct{}
	// halted is set when the last write failed and memory is ahead of the
	// store.
	halted bool
}

func newRun(exec *models.Execution, g *graph) *run {
	if exec.Results == nil {
		exec.Results = map[string]any{}
	}

	done := make(chan struct{})
	close(done)

	return &run{
		exec:        exec,
		graph:       g,
		recoveredBy: map[string]models.RecoveryStrategyType{},
		done:        done,
	}
}

func (r *run) head() string {
	if len(r.exec.PendingSteps) == 0 {
		return ""
	}

	return r.exec.PendingSteps[0]
}

// advance pops step from the queue head and pushes its successors in front
// of the remaining entries.
func (r *run) advance(step *models.Step, output any, recoveredBy models.RecoveryStrategyType) {
	rest := r.exec.PendingSteps
	if len(rest) > 0 && rest[0] == step.ID {
		rest = rest[1:]
	}

	next := r.graph.successors(step, output, recoveredBy)

	pending := make([]string, 0, len(next)+len(rest))
	pending = append(pending, next...)
	pending = append(pending, rest...)

	r.exec.PendingSteps = pending
}

func (r *run) emit(event eventbus.Event) {
	r.outbox = append(r.outbox, event)
}

func (r *run) snapshot() (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.exec.Clone()
}

// unlock releases r.mu and publishes the events queued while it was held.
func (e *Engine) unlock(ctx context.Context, r *run) {
	queued := r.outbox
	r.outbox = nil
	key := r.exec.ID
	r.mu.Unlock()

	for _, event := range queued {
		e.publish(ctx, key, event)
	}
}

// appendLog adds an entry to the execution log. Entries are written with the
// next persist, or right away once LogBatchSize are pending.
func (e *Engine) appendLog(ctx context.Context, r *run, level, stepID, message string) {
	entry := models.LogEntry{
		Timestamp: e.now().UTC(),
		Level:     level,
		StepID:    stepID,
		Message:   message,
	}

	r.exec.Logs = append(r.exec.Logs, entry)
	r.unflushed++

	r.emit(&events.WorkflowLog{
		BaseEvent: events.NewBaseEvent(events.WorkflowLogEvent, r.exec.WorkflowID, r.exec.ID),
		Entry:     entry,
	})

	if r.unflushed >= e.cfg.LogBatchSize && r.exec.Status == models.ExecutionRunning {
		if err := e.persist(ctx, r); err != nil {
			e.logger.WarnContext(ctx, "Failed to flush execution logs",
				"execution_id", r.exec.ID,
				"error", err)
		}
	}
}

// persist writes the full record, retrying transient failures. A revision
// conflict is not retried. Called with r.mu held; the lock is released while
// waiting between attempts so readers and lifecycle calls are not blocked,
// and the next attempt writes whatever the record holds by then.
func (e *Engine) persist(ctx context.Context, r *run) error {
	var err error

	for attempt := 1; attempt <= e.cfg.PersistAttempts; attempt++ {
		err = e.store.ExecutionRepository().Update(ctx, r.exec)
		if err == nil {
			r.unflushed = 0
			r.halted = false

			return nil
		}

		e.logger.WarnContext(ctx, "Failed to persist execution",
			"execution_id", r.exec.ID,
			"attempt", attempt,
			"error", err)

		if attempt == e.cfg.PersistAttempts || isPermanent(err) {
			break
		}

		r.mu.Unlock()
		time.Sleep(e.cfg.PersistRetryDelay * time.Duration(attempt))
		r.mu.Lock()
	}

	r.halted = true

	return fmt.Errorf("persist execution %s: %w", r.exec.ID, err)
}

func (e *Engine) takeSnapshot(ctx context.Context, r *run) {
	state, err := r.exec.Clone()
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to copy execution for snapshot", "execution_id", r.exec.ID, "error", err)

		return
	}

	snapshot := &models.Snapshot{
		ExecutionID: r.exec.ID,
		CreatedAt:   e.now().UTC(),
		Execution:   state,
	}

	if err := e.store.SnapshotRepository().Save(ctx, snapshot); err != nil {
		e.logger.ErrorContext(ctx, "Failed to save snapshot", "execution_id", r.exec.ID, "error", err)

		return
	}

	r.lastSnapshot = snapshot.CreatedAt

	e.logger.DebugContext(ctx, "Snapshot saved",
		"execution_id", r.exec.ID,
		"sequence", snapshot.Sequence)
}

func (e *Engine) maybeSnapshot(ctx context.Context, r *run) {
	if e.cfg.SnapshotInterval <= 0 || r.exec.Status != models.ExecutionRunning {
		return
	}

	if e.now().Sub(r.lastSnapshot) >= e.cfg.SnapshotInterval {
		e.takeSnapshot(ctx, r)
	}
}

// finish writes the final record of an execution whose terminal status is
// already set. Snapshots are kept only for failed executions.
func (e *Engine) finish(ctx context.Context, r *run) error {
	end := e.now().UTC()
	r.exec.EndTime = &end

	if err := e.persist(ctx, r); err != nil {
		return err
	}

	if r.exec.Status == models.ExecutionFailed {
		return nil
	}

	if err := e.store.SnapshotRepository().DeleteByExecution(ctx, r.exec.ID); err != nil {
		e.logger.WarnContext(ctx, "Failed to delete snapshots", "execution_id", r.exec.ID, "error", err)
	}

	return nil
}

// halt stops an execution whose record could not be written. The failure is
// only known in memory.
func (e *Engine) halt(ctx context.Context, r *run, stepID string, err error) {
	end := e.now().UTC()

	r.exec.Status = models.ExecutionFailed
	r.exec.Error = err.Error()
	r.exec.EndTime = &end
	r.halted = true

	e.logger.ErrorContext(ctx, "Execution halted",
		"execution_id", r.exec.ID,
		"step_id", stepID,
		"error", err)

	r.emit(&events.WorkflowFailed{
		BaseEvent:  events.NewBaseEvent(events.WorkflowFailedEvent, r.exec.WorkflowID, r.exec.ID),
		StepID:     stepID,
		Error:      err.Error(),
		DurationMs: end.Sub(r.exec.StartTime).Milliseconds(),
	})
}

// fail ends an execution because a step failed without recovery.
func (e *Engine) fail(ctx context.Context, r *run, stepID string, cause error) {
	r.exec.Status = models.ExecutionFailed
	r.exec.Error = fmt.Sprintf("step %s: %s", stepID, cause)
	e.appendLog(ctx, r, "error", stepID, "execution failed: "+cause.Error())

	if err := e.finish(ctx, r); err != nil {
		e.halt(ctx, r, stepID, err)

		return
	}

	e.logger.WarnContext(ctx, "Execution failed",
		"execution_id", r.exec.ID,
		"step_id", stepID,
		"error", cause)

	r.emit(&events.WorkflowFailed{
		BaseEvent:  events.NewBaseEvent(events.WorkflowFailedEvent, r.exec.WorkflowID, r.exec.ID),
		StepID:     stepID,
		Error:      r.exec.Error,
		DurationMs: r.exec.EndTime.Sub(r.exec.StartTime).Milliseconds(),
	})
}

func (e *Engine) complete(ctx context.Context, r *run) {
	r.exec.Status = models.ExecutionCompleted
	r.exec.CurrentStepID = ""
	e.appendLog(ctx, r, "info", "", "execution completed")

	if err := e.finish(ctx, r); err != nil {
		e.halt(ctx, r, "", err)

		return
	}

	duration := r.exec.EndTime.Sub(r.exec.StartTime)

	e.logger.InfoContext(ctx, "Execution completed",
		"execution_id", r.exec.ID,
		"workflow_id", r.exec.WorkflowID,
		"duration", duration)

	r.emit(&events.WorkflowCompleted{
		BaseEvent:     events.NewBaseEvent(events.WorkflowCompletedEvent, r.exec.WorkflowID, r.exec.ID),
		DurationMs:    duration.Milliseconds(),
		StepsExecuted: len(r.exec.Results),
		Results:       maps.Clone(r.exec.Results),
	})
}
