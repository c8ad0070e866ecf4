// Package redis provides a Redis-backed state store. Definitions, executions
// and snapshots are JSON strings; execution updates are optimistic
// WATCH/MULTI transactions and snapshot sequences come from INCR.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dukex/stepflow/pkg/persistence"
)

const defaultPrefix = "stepflow"

// Store implements persistence.Persistence on top of a go-redis client.
type Store struct {
	client *goredis.Client
	logger *slog.Logger
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix. Default is "stepflow".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// NewStore wraps an existing client.
func NewStore(client *goredis.Client, logger *slog.Logger, opts ...Option) *Store {
	store := &Store{
		client: client,
		logger: logger,
		prefix: defaultPrefix,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// NewPersistence connects to a redis:// URL and verifies the connection.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string, opts ...Option) (*Store, error) {
	options, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := goredis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewStore(client, logger, opts...), nil
}

func (s *Store) WorkflowRepository() persistence.WorkflowRepository {
	return &workflowRepository{store: s}
}

func (s *Store) ExecutionRepository() persistence.ExecutionRepository {
	return &executionRepository{store: s}
}

func (s *Store) SnapshotRepository() persistence.SnapshotRepository {
	return &snapshotRepository{store: s}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (s *Store) Close(_ context.Context) error {
	err := s.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}
