// Package scheduler runs independent periodic jobs. Each job has its own
// timer loop; a failing or panicking invocation is logged and the job keeps
// its cadence.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	dErrors "kycops/pkg/domain-errors"
)

// JobFunc is one invocation of a scheduled job.
type JobFunc func(ctx context.Context) error

// Job is a named function on a schedule.
type Job struct {
	Name     string
	Schedule Schedule
	Run      JobFunc
}

// Metrics tracks job invocations.
type Metrics struct {
	Runs     *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics registers scheduler metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycops_scheduler_runs_total",
			Help: "Scheduled job invocations by job and outcome",
		}, []string{"job", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kycops_scheduler_run_duration_seconds",
			Help:    "Scheduled job duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}

func (m *Metrics) observe(job, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(job, outcome).Inc()
	m.Duration.WithLabelValues(job).Observe(d.Seconds())
}

// Scheduler owns a set of jobs.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []Job
	running bool

	clock   func() time.Time
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithClock overrides the clock used to compute the next run.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. Jobs must be added before Run.
func (s *Scheduler) Add(name string, schedule Schedule, run JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return dErrors.New(dErrors.CodeInvalidState, "scheduler already running")
	}
	if name == "" || schedule == nil || run == nil {
		return dErrors.New(dErrors.CodeBadRequest, "job requires name, schedule and function")
	}
	for _, j := range s.jobs {
		if j.Name == name {
			return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("job %q already registered", name))
		}
	}
	s.jobs = append(s.jobs, Job{Name: name, Schedule: schedule, Run: run})
	return nil
}

// Jobs lists registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

// Run starts every job and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return dErrors.New(dErrors.CodeInvalidState, "scheduler already running")
	}
	s.running = true
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for _, job := range jobs {
		s.logger.InfoContext(ctx, "scheduled job started", "job", job.Name, "schedule", fmt.Sprint(job.Schedule))
	}

	var g errgroup.Group
	for _, job := range jobs {
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	err := g.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

// RunNow invokes the named job once, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var found *Job
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			found = &s.jobs[i]
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("job %q not registered", name))
	}
	return s.invoke(ctx, *found)
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	for {
		now := s.clock()
		wait := job.Schedule.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		_ = s.invoke(ctx, job)
	}
}

// invoke runs one job invocation, converting panics into errors.
func (s *Scheduler) invoke(ctx context.Context, job Job) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
		outcome := "success"
		if err != nil {
			outcome = "failure"
			s.logger.ErrorContext(ctx, "scheduled job failed",
				"job", job.Name,
				"error", err,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		} else {
			s.logger.DebugContext(ctx, "scheduled job completed",
				"job", job.Name,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
		s.metrics.observe(job.Name, outcome, time.Since(start))
	}()
	return job.Run(ctx)
}
