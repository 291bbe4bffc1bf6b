// Package scheduler runs the worker's recurring jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRolloverSpec fires at 00:00:05 UTC; the seconds offset keeps the job
// clear of the day boundary itself.
const DefaultRolloverSpec = "5 0 0 * * *"

type Roller interface {
	RolloverAll(ctx context.Context) (int, error)
}

type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	roller Roller
	log    *slog.Logger
}

func New(ctx context.Context, roller Roller, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		ctx:    ctx,
		roller: roller,
		log:    logger,
	}
}

func (s *Scheduler) Register(rolloverSpec string) error {
	if rolloverSpec == "" {
		rolloverSpec = DefaultRolloverSpec
	}
	if _, err := s.cron.AddFunc(rolloverSpec, s.RunRollover); err != nil {
		return fmt.Errorf("register rollover %q: %w", rolloverSpec, err)
	}
	return nil
}

// RunRollover resets task boards for every account whose day has ended.
func (s *Scheduler) RunRollover() {
	started := time.Now()
	n, err := s.roller.RolloverAll(s.ctx)
	if err != nil {
		s.log.Error("task rollover failed", "err", err, "rolled", n)
		return
	}
	s.log.Info("task rollover complete", "rolled", n, "took", time.Since(started).String())
}

func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop waits for a running job to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}
