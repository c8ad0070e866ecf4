package recovery

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrErrorNotFound     = errors.New("workflow error not found")
	ErrAlreadyResolved   = errors.New("workflow error already resolved")
	ErrInvalidResolution = errors.New("invalid resolution")
	ErrNoController      = errors.New("error handler is not attached to an engine")
	ErrNoAlternative     = errors.New("alternative strategy requires alternative_step")

	// ErrExecutionNotRunning is returned by a controller asked to act on an
	// execution that was paused or ended while recovery was waiting.
	ErrExecutionNotRunning = errors.New("execution is not running")
	ErrRecoveryInProgress  = errors.New("recovery of workflow error still in progress")
)

// CircuitOpenError is returned by Allow while a breaker rejects calls.
type CircuitOpenError struct {
	Key         string
	NextAttempt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open until %s", e.Key, e.NextAttempt.Format(time.RFC3339))
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
