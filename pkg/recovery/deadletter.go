package recovery

import (
	"sync"

	"github.com/dukex/stepflow/pkg/models"
)

// DeadLetterQueue is a bounded FIFO of unrecovered errors.
type DeadLetterQueue struct {
	mu       sync.Mutex
	capacity int
	entries  []models.WorkflowError
}

func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	return &DeadLetterQueue{capacity: capacity}
}

// Add appends an entry, evicting the oldest ones past capacity. It returns
// the queue size after the append.
func (q *DeadLetterQueue) Add(entry models.WorkflowError) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, entry)

	if overflow := len(q.entries) - q.capacity; overflow > 0 {
		q.entries = append([]models.WorkflowError(nil), q.entries[overflow:]...)
	}

	return len(q.entries)
}

// Remove drops the entry for errorID and reports whether it was present.
func (q *DeadLetterQueue) Remove(errorID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, entry := range q.entries {
		if entry.ID == errorID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)

			return true
		}
	}

	return false
}

// All returns the entries oldest first.
func (q *DeadLetterQueue) All() []models.WorkflowError {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]models.WorkflowError(nil), q.entries...)
}

func (q *DeadLetterQueue) ForExecution(executionID string) []models.WorkflowError {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []models.WorkflowError

	for _, entry := range q.entries {
		if entry.ExecutionID == executionID {
			out = append(out, entry)
		}
	}

	return out
}

func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}
