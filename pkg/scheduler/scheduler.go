// Package scheduler runs periodic housekeeping for the serve process: expiring
// resumable gateway turns and pruning the task ledger.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/igorsilveira/switchboard/pkg/telemetry"
)

type Job struct {
	Name     string
	Schedule string
	Func     func(ctx context.Context) error
}

type Scheduler struct {
	mu      sync.Mutex
	jobs    []*entry
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
	tick    time.Duration
}

type entry struct {
	job      Job
	interval time.Duration
	next     time.Time
	busy     bool
}

func New() *Scheduler {
	return &Scheduler{
		stopCh: make(chan struct{}),
		now:    time.Now,
		tick:   time.Second,
	}
}

func (s *Scheduler) Add(job Job) error {
	interval, err := parseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", job.Schedule, err)
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler: schedule %q must be positive", job.Schedule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = append(s.jobs, &entry{
		job:      job,
		interval: interval,
		next:     s.now().Add(interval),
	})
	return nil
}

// Start blocks until ctx is done or Stop is called, then waits for running
// jobs to return.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	n := len(s.jobs)
	s.mu.Unlock()

	logger := telemetry.FromContext(ctx)
	logger.Info("scheduler started", slog.Int("jobs", n))

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runDue(ctx, logger)
		}
	}
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
}

// runDue starts every job whose time has come. A job still running from its
// previous slot is skipped.
func (s *Scheduler) runDue(ctx context.Context, logger *slog.Logger) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.jobs {
		if now.Before(e.next) {
			continue
		}
		e.next = now.Add(e.interval)
		if e.busy {
			logger.Warn("scheduler: job still running, skipping", slog.String("job", e.job.Name))
			telemetry.Metrics.ScheduledJobs.WithLabelValues(e.job.Name, "skipped").Inc()
			continue
		}
		e.busy = true

		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			s.run(ctx, e, logger)
		}(e)
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry, logger *slog.Logger) {
	defer func() {
		s.mu.Lock()
		e.busy = false
		s.mu.Unlock()
	}()

	logger.Debug("scheduler: running job", slog.String("job", e.job.Name))
	if err := e.job.Func(ctx); err != nil {
		telemetry.Metrics.ScheduledJobs.WithLabelValues(e.job.Name, "error").Inc()
		logger.Error("scheduler: job failed",
			slog.String("job", e.job.Name),
			slog.String("err", err.Error()),
		)
		return
	}
	telemetry.Metrics.ScheduledJobs.WithLabelValues(e.job.Name, "ok").Inc()
}

func parseSchedule(s string) (time.Duration, error) {
	switch s {
	case "@hourly":
		return time.Hour, nil
	case "@daily":
		return 24 * time.Hour, nil
	case "@weekly":
		return 7 * 24 * time.Hour, nil
	}

	if rest, ok := strings.CutPrefix(s, "@every "); ok {
		return time.ParseDuration(rest)
	}

	return time.ParseDuration(s)
}
