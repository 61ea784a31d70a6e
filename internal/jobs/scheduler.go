package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// runTimeout bounds a single job run
const runTimeout = 5 * time.Minute

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

// NewScheduler creates a new job scheduler. Overlapping runs of the same job
// are skipped and panics are recovered.
func NewScheduler(log *zap.Logger) *Scheduler {
	log = log.Named("jobs")
	cronLog := cron.PrintfLogger(zap.NewStdLog(log))

	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLog),
			cron.SkipIfStillRunning(cronLog),
		)),
		log: log,
	}
}

// Add registers fn under name on a standard five-field cron schedule
func (s *Scheduler) Add(name, schedule string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(ctx); err != nil {
			s.log.Error("Job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.log.Debug("Job completed", zap.String("job", name), zap.Duration("duration", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, name, err)
	}
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Job scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop stops the scheduler and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("Job scheduler stopped before running jobs finished")
		return
	}
	s.log.Info("Job scheduler stopped")
}
