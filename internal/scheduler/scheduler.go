// Package scheduler runs registered background jobs on cron expressions
// or fixed intervals. Jobs are registered in code before Start; each one
// gets its own goroutine so a slow sweep never delays a fast monitor.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/nvarr/internal/observability"
)

// JobFunc is one scheduled unit of work. It must honor ctx cancellation;
// the scheduler waits for running jobs on Stop.
type JobFunc func(ctx context.Context)

type job struct {
	name      string
	fn        JobFunc
	schedule  cron.Schedule // cron jobs
	interval  time.Duration // interval jobs
	delay     time.Duration // first-run delay for interval jobs
	immediate bool
}

// Scheduler owns the registered jobs and their goroutines.
type Scheduler struct {
	mu sync.Mutex

	log    *slog.Logger
	parser cron.Parser
	jobs   []*job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// New creates an empty scheduler. Cron expressions use the standard
// five-field form (minute through day-of-week).
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:    observability.WithComponent(log, "scheduler"),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		now:    time.Now,
	}
}

// AddCron registers fn to run on a cron expression.
func (s *Scheduler) AddCron(name, expr string, fn JobFunc) error {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	return s.add(&job{name: name, fn: fn, schedule: schedule})
}

// AddInterval registers fn to run every interval. With immediate set, the
// first run happens right after Start instead of one interval later.
func (s *Scheduler) AddInterval(name string, interval time.Duration, immediate bool, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", name)
	}
	return s.add(&job{name: name, fn: fn, interval: interval, immediate: immediate})
}

// AddIntervalWithDelay registers fn with a one-off startup delay before
// the first run; later runs follow the interval. Used for jobs that must
// not contend with startup work, like the retention sweep's grace period.
func (s *Scheduler) AddIntervalWithDelay(name string, delay, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", name)
	}
	if delay < 0 {
		return fmt.Errorf("job %q: delay must not be negative", name)
	}
	return s.add(&job{name: name, fn: fn, interval: interval, delay: delay})
}

func (s *Scheduler) add(j *job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start launches one goroutine per registered job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, j := range s.jobs {
		s.wg.Add(1)
		if j.schedule != nil {
			go s.runCron(j)
		} else {
			go s.runInterval(j)
		}
	}

	s.log.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// Stop cancels all job goroutines and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.log.Info("scheduler stopped")
}

// Jobs returns the registered job names, in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	return names
}

func (s *Scheduler) runCron(j *job) {
	defer s.wg.Done()

	for {
		now := s.now()
		next := j.schedule.Next(now)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			s.runJob(j)
		}
	}
}

func (s *Scheduler) runInterval(j *job) {
	defer s.wg.Done()

	switch {
	case j.immediate:
		s.runJob(j)
	case j.delay > 0:
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(j.delay):
			s.runJob(j)
		}
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runJob(j)
		}
	}
}

// runJob executes one run, containing panics so a broken job cannot take
// down the recorder.
func (s *Scheduler) runJob(j *job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked",
				slog.String("job", j.name),
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now()
	s.log.Debug("job started", slog.String("job", j.name))
	j.fn(s.ctx)
	s.log.Debug("job finished",
		slog.String("job", j.name),
		slog.Duration("duration", time.Since(start)))
}
