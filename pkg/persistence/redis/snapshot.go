package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

type snapshotRepository struct {
	store *Store
}

func (r *snapshotRepository) Save(ctx context.Context, snapshot *models.Snapshot) error {
	s := r.store

	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	sequence, err := s.client.Incr(ctx, s.snapshotSeqKey(snapshot.ExecutionID)).Result()
	if err != nil {
		return persistence.NewExecutionError("SaveSnapshot", snapshot.ExecutionID, fmt.Errorf("redis incr failed: %w", err))
	}

	snapshot.Sequence = sequence

	data, err := json.Marshal(snapshot)
	if err != nil {
		return persistence.NewExecutionError("SaveSnapshot", snapshot.ExecutionID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.snapshotKey(snapshot.ExecutionID, sequence), data, 0)
	pipe.ZAdd(ctx, s.snapshotIndexKey(snapshot.ExecutionID), goredis.Z{
		Score:  float64(sequence),
		Member: strconv.FormatInt(sequence, 10),
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewExecutionError("SaveSnapshot", snapshot.ExecutionID, fmt.Errorf("redis pipeline failed: %w", err))
	}

	return nil
}

func (r *snapshotRepository) Latest(ctx context.Context, executionID string) (*models.Snapshot, error) {
	s := r.store

	members, err := s.client.ZRevRange(ctx, s.snapshotIndexKey(executionID), 0, 0).Result()
	if err != nil {
		return nil, persistence.NewExecutionError("LatestSnapshot", executionID, err)
	}

	if len(members) == 0 {
		return nil, persistence.NewExecutionError("LatestSnapshot", executionID, persistence.ErrSnapshotNotFound)
	}

	return r.load(ctx, executionID, members[0])
}

func (r *snapshotRepository) List(ctx context.Context, executionID string) ([]*models.Snapshot, error) {
	s := r.store

	members, err := s.client.ZRange(ctx, s.snapshotIndexKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, persistence.NewExecutionError("ListSnapshots", executionID, err)
	}

	snapshots := make([]*models.Snapshot, 0, len(members))

	for _, member := range members {
		snapshot, err := r.load(ctx, executionID, member)
		if err != nil {
			if persistence.IsSnapshotNotFound(err) {
				continue
			}

			return nil, err
		}

		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

func (r *snapshotRepository) DeleteByExecution(ctx context.Context, executionID string) error {
	s := r.store

	members, err := s.client.ZRange(ctx, s.snapshotIndexKey(executionID), 0, -1).Result()
	if err != nil {
		return persistence.NewExecutionError("DeleteSnapshots", executionID, err)
	}

	keys := make([]string, 0, len(members)+2)

	for _, member := range members {
		seq, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}

		keys = append(keys, s.snapshotKey(executionID, seq))
	}

	keys = append(keys, s.snapshotIndexKey(executionID), s.snapshotSeqKey(executionID))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return persistence.NewExecutionError("DeleteSnapshots", executionID, err)
	}

	return nil
}

func (r *snapshotRepository) load(ctx context.Context, executionID, member string) (*models.Snapshot, error) {
	s := r.store

	seq, err := strconv.ParseInt(member, 10, 64)
	if err != nil {
		return nil, persistence.NewExecutionError("LoadSnapshot", executionID, fmt.Errorf("invalid sequence %q: %w", member, err))
	}

	data, err := s.client.Get(ctx, s.snapshotKey(executionID, seq)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			err = persistence.ErrSnapshotNotFound
		}

		return nil, persistence.NewExecutionError("LoadSnapshot", executionID, err)
	}

	var snapshot models.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}
