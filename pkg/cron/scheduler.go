// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the checkpoint janitor once an hour
const DefaultSchedule = "@hourly"

// Pruner deletes stale import checkpoints
type Pruner interface {
	PruneStale(ctx context.Context) (int, error)
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron     *cron.Cron
	pruner   Pruner
	schedule string
	logger   *slog.Logger
}

// NewScheduler creates a new job scheduler.
func NewScheduler(pruner Pruner, schedule string, logger *slog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:     c,
		pruner:   pruner,
		schedule: schedule,
		logger:   logger,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.pruneCheckpoints); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.String("schedule", s.schedule),
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow prunes stale checkpoints synchronously and returns how many were removed.
func (s *Scheduler) RunNow(ctx context.Context) (int, error) {
	return s.pruner.PruneStale(ctx)
}

func (s *Scheduler) pruneCheckpoints() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pruned, err := s.pruner.PruneStale(ctx)
	if err != nil {
		s.logger.Error("failed to prune stale checkpoints", slog.Any("error", err))
		return
	}
	s.logger.Debug("checkpoint janitor run completed", slog.Int("pruned", pruned))
}
