package redis

import (
	"fmt"

	"github.com/dukex/stepflow/pkg/models"
)

// Redis key layout. Every key starts with the store prefix.

// workflowKey holds one definition version as JSON: {prefix}:workflow:{id}:{version}
func (s *Store) workflowKey(id string, version int) string {
	return fmt.Sprintf("%s:workflow:%s:%d", s.prefix, id, version)
}

// workflowVersionsKey is the sorted set of stored versions, scored by version.
func (s *Store) workflowVersionsKey(id string) string {
	return s.prefix + ":workflow_versions:" + id
}

// workflowIDsKey is the set of every definition id.
func (s *Store) workflowIDsKey() string { return s.prefix + ":workflow_ids" }

// executionKey holds the execution record as JSON: {prefix}:execution:{id}
func (s *Store) executionKey(id string) string { return s.prefix + ":execution:" + id }

// executionsByWorkflowKey is the sorted set of a definition's execution
// ids, scored by start time.
func (s *Store) executionsByWorkflowKey(workflowID string) string {
	return s.prefix + ":executions_by_workflow:" + workflowID
}

// executionsByStatusKey is the sorted set of execution ids currently in a
// status, scored by start time. Update moves ids between these sets.
func (s *Store) executionsByStatusKey(status models.ExecutionStatus) string {
	return s.prefix + ":executions_by_status:" + string(status)
}

// snapshotKey holds one snapshot as JSON: {prefix}:snapshot:{execution}:{seq}
func (s *Store) snapshotKey(executionID string, sequence int64) string {
	return fmt.Sprintf("%s:snapshot:%s:%d", s.prefix, executionID, sequence)
}

// snapshotIndexKey is the sorted set of snapshot sequences for an execution.
func (s *Store) snapshotIndexKey(executionID string) string {
	return s.prefix + ":snapshot_idx:" + executionID
}

// snapshotSeqKey is the INCR counter that assigns snapshot sequences.
func (s *Store) snapshotSeqKey(executionID string) string {
	return s.prefix + ":snapshot_seq:" + executionID
}
