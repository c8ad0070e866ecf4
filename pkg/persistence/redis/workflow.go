package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

type workflowRepository struct {
	store *Store
}

// Create claims the version key with SETNX, then indexes it.
func (r *workflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	s := r.store

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, fmt.Errorf("failed to marshal definition: %w", err))
	}

	created, err := s.client.SetNX(ctx, s.workflowKey(workflow.ID, workflow.Version), data, 0).Result()
	if err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, fmt.Errorf("redis setnx failed: %w", err))
	}

	if !created {
		return &persistence.WorkflowError{
			Op:         "Create",
			WorkflowID: workflow.ID,
			Version:    workflow.Version,
			Err:        persistence.ErrWorkflowAlreadyExists,
		}
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.workflowVersionsKey(workflow.ID), goredis.Z{
		Score:  float64(workflow.Version),
		Member: strconv.Itoa(workflow.Version),
	})
	pipe.SAdd(ctx, s.workflowIDsKey(), workflow.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewWorkflowError("Create", workflow.ID, fmt.Errorf("redis pipeline failed: %w", err))
	}

	return nil
}

func (r *workflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	s := r.store

	versions, err := s.client.ZRevRange(ctx, s.workflowVersionsKey(id), 0, 0).Result()
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, fmt.Errorf("redis zrevrange failed: %w", err))
	}

	if len(versions) == 0 {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	version, err := strconv.Atoi(versions[0])
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, fmt.Errorf("invalid version %q: %w", versions[0], err))
	}

	return r.GetVersion(ctx, id, version)
}

func (r *workflowRepository) GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error) {
	s := r.store

	data, err := s.client.Get(ctx, s.workflowKey(id, version)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			err = persistence.ErrWorkflowNotFound
		}

		return nil, &persistence.WorkflowError{Op: "GetVersion", WorkflowID: id, Version: version, Err: err}
	}

	var workflow models.Workflow
	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}

	return &workflow, nil
}

func (r *workflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	s := r.store

	ids, err := s.client.SMembers(ctx, s.workflowIDsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}

	sort.Strings(ids)

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := r.GetByID(ctx, id)
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}
