package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs the overdue sweep hourly.
const DefaultSchedule = "@every 1h"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job runs one sweep and reports how many items it handled.
type Job func(ctx context.Context) (int, error)

// Scheduler runs a Job on a cron schedule. Runs never overlap.
type Scheduler struct {
	cron    *cron.Cron
	job     Job
	logger  *zap.Logger
	timeout time.Duration
}

// Validate checks a schedule expression: five cron fields or a descriptor
// such as "@every 1h".
func Validate(schedule string) error {
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return nil
}

func New(schedule string, job Job, logger *zap.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		job:     job,
		logger:  logger,
		timeout: 5 * time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.Run(ctx); err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
	}
}

// Run executes the job immediately.
func (s *Scheduler) Run(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := s.job(ctx)
	if err != nil {
		return n, err
	}
	s.logger.Info("sweep finished", zap.Int("reported", n), zap.Duration("took", time.Since(start)))
	return n, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
