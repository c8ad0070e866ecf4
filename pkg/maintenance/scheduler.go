// Package maintenance runs periodic housekeeping: dropping resolved errors
// from the error handler and sweeping snapshots of finished executions.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const (
	DefaultErrorCleanupSchedule    = "@every 10m"
	DefaultErrorRetention          = time.Hour
	DefaultSnapshotSweepSchedule   = "@hourly"
	DefaultFailedSnapshotRetention = 7 * 24 * time.Hour
)

var ErrAlreadyStarted = errors.New("maintenance scheduler already started")

type Config struct {
	ErrorCleanupSchedule string
	// ErrorRetention keeps resolved errors visible for this long.
	ErrorRetention        time.Duration
	SnapshotSweepSchedule string
	// FailedSnapshotRetention keeps snapshots of failed executions, which
	// are kept for inspection, for this long after they ended.
	FailedSnapshotRetention time.Duration
}

func DefaultConfig() Config {
	return Config{
		ErrorCleanupSchedule:    DefaultErrorCleanupSchedule,
		ErrorRetention:          DefaultErrorRetention,
		SnapshotSweepSchedule:   DefaultSnapshotSweepSchedule,
		FailedSnapshotRetention: DefaultFailedSnapshotRetention,
	}
}

// ErrorCleaner is implemented by recovery.Handler.
type ErrorCleaner interface {
	CleanupResolvedErrors(olderThan time.Duration) int
}

type Scheduler struct {
	cfg    Config
	errors ErrorCleaner
	store  persistence.Persistence
	logger *slog.Logger
	now    func() time.Time
	cron   *cron.Cron
}

func NewScheduler(cfg Config, cleaner ErrorCleaner, store persistence.Persistence, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		errors: cleaner,
		store:  store,
		logger: logger.With("module", "maintenance"),
		now:    time.Now,
	}
}

// Start validates the schedules and starts the cron runner. An empty
// schedule disables its job.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cron != nil {
		return ErrAlreadyStarted
	}

	logger := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		),
	)

	jobs := []struct {
		name     string
		schedule string
		run      func()
	}{
		{"resolved-errors", s.cfg.ErrorCleanupSchedule, func() { s.CleanupErrors(ctx) }},
		{"snapshot-sweep", s.cfg.SnapshotSweepSchedule, func() {
			if _, err := s.SweepSnapshots(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Snapshot sweep failed", "error", err)
			}
		}},
	}

	for _, job := range jobs {
		if job.schedule == "" {
			s.logger.InfoContext(ctx, "Maintenance job disabled", "job", job.name)

			continue
		}

		if _, err := cron.ParseStandard(job.schedule); err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", job.schedule, job.name, err)
		}

		entryID, err := c.AddFunc(job.schedule, job.run)
		if err != nil {
			return fmt.Errorf("failed to add %s job: %w", job.name, err)
		}

		s.logger.InfoContext(ctx, "Added maintenance job", "job", job.name, "schedule", job.schedule, "entry_id", entryID)
	}

	s.cron = c
	c.Start()

	return nil
}

// Stop stops scheduling and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CleanupErrors drops resolved errors older than the retention.
func (s *Scheduler) CleanupErrors(ctx context.Context) int {
	if s.errors == nil {
		return 0
	}

	removed := s.errors.CleanupResolvedErrors(s.cfg.ErrorRetention)
	if removed > 0 {
		s.logger.InfoContext(ctx, "Removed resolved errors", "count", removed)
	}

	return removed
}

// SweepSnapshots deletes snapshots no execution can resume from: those of
// completed and cancelled executions, and of failed executions past the
// retention. It returns the number of executions swept.
func (s *Scheduler) SweepSnapshots(ctx context.Context) (int, error) {
	repo := s.store.ExecutionRepository()
	snapshots := s.store.SnapshotRepository()
	cutoff := s.now().Add(-s.cfg.FailedSnapshotRetention)
	swept := 0

	for _, status := range []models.ExecutionStatus{models.ExecutionCompleted, models.ExecutionCancelled, models.ExecutionFailed} {
		execs, err := repo.GetByStatus(ctx, status)
		if err != nil {
			return swept, err
		}

		for _, exec := range execs {
			if status == models.ExecutionFailed && (exec.EndTime == nil || exec.EndTime.After(cutoff)) {
				continue
			}

			existing, err := snapshots.List(ctx, exec.ID)
			if err != nil {
				return swept, err
			}

			if len(existing) == 0 {
				continue
			}

			if err := snapshots.DeleteByExecution(ctx, exec.ID); err != nil {
				return swept, err
			}

			swept++
		}
	}

	if swept > 0 {
		s.logger.InfoContext(ctx, "Swept execution snapshots", "executions", swept)
	}

	return swept, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
