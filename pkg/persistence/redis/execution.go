package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

type executionRepository struct {
	store *Store
}

func (r *executionRepository) Create(ctx context.Context, execution *models.Execution) error {
	s := r.store
	execution.Revision = 1

	data, err := json.Marshal(execution)
	if err != nil {
		execution.Revision = 0

		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("failed to marshal execution: %w", err))
	}

	created, err := s.client.SetNX(ctx, s.executionKey(execution.ID), data, 0).Result()
	if err != nil {
		execution.Revision = 0

		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("redis setnx failed: %w", err))
	}

	if !created {
		execution.Revision = 0

		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	member := startScore(execution)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.executionsByWorkflowKey(execution.WorkflowID), member)
	pipe.ZAdd(ctx, s.executionsByStatusKey(execution.Status), member)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, fmt.Errorf("redis index update failed: %w", err))
	}

	return nil
}

// Update watches the record key, checks the stored revision and writes the
// next revision in a MULTI block, moving the id to its new status index. A
// concurrent write aborts the transaction.
func (r *executionRepository) Update(ctx context.Context, execution *models.Execution) error {
	s := r.store
	key := s.executionKey(execution.ID)
	expected := execution.Revision

	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return persistence.ErrExecutionNotFound
			}

			return err
		}

		var stored models.Execution
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal execution: %w", err)
		}

		if stored.Revision != expected {
			return persistence.ErrRevisionConflict
		}

		execution.Revision = expected + 1

		next, err := json.Marshal(execution)
		if err != nil {
			return fmt.Errorf("failed to marshal execution: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)

			if stored.Status != execution.Status {
				pipe.ZRem(ctx, s.executionsByStatusKey(stored.Status), execution.ID)
				pipe.ZAdd(ctx, s.executionsByStatusKey(execution.Status), startScore(execution))
			}

			return nil
		})

		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if err == nil {
		return nil
	}

	execution.Revision = expected

	if errors.Is(err, goredis.TxFailedErr) || errors.Is(err, persistence.ErrRevisionConflict) {
		return &persistence.ExecutionError{
			Op:          "Update",
			ExecutionID: execution.ID,
			Revision:    expected,
			Err:         persistence.ErrRevisionConflict,
		}
	}

	return persistence.NewExecutionError("Update", execution.ID, err)
}

func (r *executionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	s := r.store

	data, err := s.client.Get(ctx, s.executionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			err = persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return decodeExecution(data)
}

func (r *executionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	return r.load(ctx, r.store.executionsByWorkflowKey(workflowID), func(e *models.Execution) bool {
		return e.WorkflowID == workflowID
	})
}

func (r *executionRepository) GetByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	return r.load(ctx, r.store.executionsByStatusKey(status), func(e *models.Execution) bool {
		return e.Status == status
	})
}

// load reads the records listed in an index, oldest start first. Records
// that no longer match keep are dropped.
func (r *executionRepository) load(ctx context.Context, index string, keep func(*models.Execution) bool) ([]*models.Execution, error) {
	s := r.store

	ids, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange failed: %w", err)
	}

	executions := make([]*models.Execution, 0, len(ids))
	if len(ids) == 0 {
		return executions, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.executionKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}

	for _, value := range values {
		data, ok := value.(string)
		if !ok {
			continue
		}

		execution, err := decodeExecution([]byte(data))
		if err != nil {
			return nil, err
		}

		if keep(execution) {
			executions = append(executions, execution)
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartTime.Before(executions[j].StartTime)
	})

	return executions, nil
}

func startScore(execution *models.Execution) goredis.Z {
	return goredis.Z{
		Score:  float64(execution.StartTime.UnixMilli()),
		Member: execution.ID,
	}
}

func decodeExecution(data []byte) (*models.Execution, error) {
	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	if execution.Results == nil {
		execution.Results = map[string]any{}
	}

	return &execution, nil
}
