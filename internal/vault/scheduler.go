package vault

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the periodic watchers as independent cron jobs. Each
// job is wrapped with SkipIfStillRunning, so a slow cycle delays only
// its own next invocation and at most one invocation per job is ever in
// flight, and with Recover, so a panicking job never takes the scheduler
// down.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	logger := cron.PrintfLogger(log.Default())
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		)),
	}
}

// AddJob schedules fn to run every interval.
func (s *Scheduler) AddJob(name string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("%w: job %s needs a positive interval", ErrInvalidInput, name)
	}
	if fn == nil {
		return fmt.Errorf("%w: job %s needs a function", ErrInvalidInput, name)
	}
	if _, err := s.cron.AddFunc("@every "+interval.String(), fn); err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	return nil
}

// Start begins running jobs on their intervals.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling new invocations and returns a context that is
// done once the jobs still in flight have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
