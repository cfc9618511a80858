package runner

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Scheduler runs the due renewals periodically
type Scheduler struct {
	runner *Runner
	config SchedulerConfig
	log    *logrus.Entry

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a new Scheduler
func NewScheduler(runner *Runner, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	return &Scheduler{
		runner: runner,
		config: config,
		log:    runner.log.WithField("component", "scheduler"),
	}
}

// Start starts the scheduler; the first batch runs immediately
func (s *Scheduler) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.log.Info("[Scheduler] Disabled, not starting")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	s.log.WithField("interval", s.config.Interval.String()).Info("[Scheduler] Starting")
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop cancels the running batch and waits for the loop to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if done == nil {
		return
	}

	s.log.Info("[Scheduler] Stopping...")
	cancel()
	<-done
	s.log.Info("[Scheduler] Stopped")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.log.Debug("[Scheduler] Tick: checking for due renewals")
	if _, err := s.runner.RunDue(ctx, nil, false); err != nil && ctx.Err() == nil {
		s.log.WithError(err).Error("[Scheduler] Batch failed")
	}
}
