// Package jobs runs the periodic maintenance work: event retention, report
// refreshing and GeoLite database updates.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"coursepulse/internal/metrics"
)

var errPanic = errors.New("job panicked")

// Runner is a unit of background work.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

type scheduledJob struct {
	name     string
	interval time.Duration
	runner   Runner

	mu        sync.Mutex
	isRunning bool
}

// Scheduler runs registered jobs on their own tickers. It implements
// cartridge's BackgroundWorker.
type Scheduler struct {
	logger  *slog.Logger
	metrics *metrics.Collector

	mu        sync.Mutex
	jobs      []*scheduledJob
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
}

func NewScheduler(logger *slog.Logger, m *metrics.Collector) *Scheduler {
	return &Scheduler{
		logger:  logger,
		metrics: m,
	}
}

// Register adds a job. Jobs registered after Start are not scheduled.
func (s *Scheduler) Register(name string, interval time.Duration, runner Runner) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &scheduledJob{name: name, interval: interval, runner: runner})
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.name
	}
	return names
}

// executeJobSafely runs job unless a previous run of it is still in progress.
// Panics are recovered and logged.
func (s *Scheduler) executeJobSafely(ctx context.Context, job *scheduledJob) {
	job.mu.Lock()
	if job.isRunning {
		s.logger.Debug("Skipping job execution - previous run still in progress", slog.String("job", job.name))
		job.mu.Unlock()
		return
	}
	job.isRunning = true
	job.mu.Unlock()

	var err error
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", job.name),
				slog.Any("panic", r))
			s.metrics.JobRun(job.name, errPanic)
		} else {
			s.metrics.JobRun(job.name, err)
		}

		job.mu.Lock()
		job.isRunning = false
		job.mu.Unlock()
	}()

	if err = job.runner.Run(ctx); err != nil {
		s.logger.Error("Error executing job", slog.String("job", job.name), slog.Any("error", err))
	}
}

// Start runs every job once and then on its interval.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.isRunning = true

	for _, job := range s.jobs {
		s.logger.Info("Starting job", slog.String("job", job.name), slog.Duration("interval", job.interval))
		s.wg.Add(1)
		go s.loop(s.ctx, job)
	}

	s.logger.Info("Background jobs started", slog.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, job *scheduledJob) {
	defer s.wg.Done()

	s.executeJobSafely(ctx, job)

	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.executeJobSafely(ctx, job)
		case <-ctx.Done():
			s.logger.Info("Job stopped", slog.String("job", job.name))
			return
		}
	}
}

// Stop cancels all jobs and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.logger.Info("Stopping background jobs...")
	s.cancel()
	s.isRunning = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently scheduled.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
