package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	// ErrJobNotFound is returned for an unknown job ID.
	ErrJobNotFound = errors.New("scheduler: job not found")
	// ErrDuplicateJob is returned when a job ID is already taken.
	ErrDuplicateJob = errors.New("scheduler: duplicate job ID")
)

// Scheduler runs the configured maintenance jobs of the sync agent. The job
// set comes from config; at runtime jobs can only be toggled or run early.
type Scheduler struct {
	executor Executor
	logger   *slog.Logger

	mu      sync.RWMutex
	jobs    map[string]*Job
	runners map[string]*JobRunner
	ctx     context.Context // non-nil while running
	cancel  context.CancelFunc
}

// Stats summarizes scheduler activity.
type Stats struct {
	TotalJobs   int   `json:"totalJobs"`
	ActiveJobs  int   `json:"activeJobs"`
	RunningJobs int   `json:"runningJobs"`
	TotalRuns   int64 `json:"totalRuns"`
	TotalErrors int64 `json:"totalErrors"`
}

// NewScheduler creates a scheduler with no jobs.
func NewScheduler(executor Executor, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		executor: executor,
		logger:   logger.With("component", "scheduler"),
		jobs:     make(map[string]*Job),
		runners:  make(map[string]*JobRunner),
	}
}

// Start launches a runner per enabled job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return errors.New("scheduler: already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, job := range s.jobs {
		if job.Enabled {
			s.startRunnerLocked(job)
		}
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs), "active", len(s.runners))
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop halts every runner. The scheduler can be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.stopAllLocked()
	s.ctx, s.cancel = nil, nil
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) startRunnerLocked(job *Job) {
	runner := NewJobRunner(job, s.executor, s.logger)
	s.runners[job.ID] = runner
	go runner.Start(s.ctx)
}

func (s *Scheduler) stopRunnerLocked(id string) {
	if runner, ok := s.runners[id]; ok {
		runner.Stop()
		delete(s.runners, id)
	}
}

func (s *Scheduler) stopAllLocked() {
	for id := range s.runners {
		s.stopRunnerLocked(id)
	}
}

// AddJob validates and registers job, starting it when the scheduler runs.
func (s *Scheduler) AddJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job %q: %w", job.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	s.jobs[job.ID] = job
	if s.ctx != nil && job.Enabled {
		s.startRunnerLocked(job)
	}
	s.logger.Debug("job added", "job", job.ID, "enabled", job.Enabled)
	return nil
}

// LoadJobs adds configured jobs, skipping invalid or duplicate ones, and
// returns how many were added.
func (s *Scheduler) LoadJobs(jobs []*Job) int {
	loaded := 0
	for _, job := range jobs {
		if err := s.AddJob(job); err != nil {
			s.logger.Warn("skipping scheduled job", "job", job.ID, "error", err)
			continue
		}
		loaded++
	}
	s.logger.Info("jobs loaded", "count", loaded)
	return loaded
}

// SetEnabled toggles a job until the next config reload and returns its
// updated copy.
func (s *Scheduler) SetEnabled(id string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Enabled != enabled {
		s.stopRunnerLocked(id)
		job.Enabled = enabled
		if s.ctx != nil && enabled {
			s.startRunnerLocked(job)
		}
		s.logger.Info("job toggled", "job", id, "enabled", enabled)
	}
	return job.Clone(), nil
}

// GetJob returns a copy of the job with id.
func (s *Scheduler) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

// ListJobs returns copies of all jobs ordered by ID.
func (s *Scheduler) ListJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs
}

// RunJobNow executes a job once, outside its schedule, and waits for it.
// Disabled jobs run too.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) error {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	NewJobRunner(job, s.executor, s.logger).executeJob(ctx)
	return nil
}

// Reload replaces the job set, restarting runners when the scheduler is
// running. Jobs that keep their ID keep their run history.
func (s *Scheduler) Reload(jobs []*Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopAllLocked()

	old := s.jobs
	s.jobs = make(map[string]*Job, len(jobs))
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			s.logger.Warn("skipping scheduled job", "job", job.ID, "error", err)
			continue
		}
		if _, dup := s.jobs[job.ID]; dup {
			s.logger.Warn("skipping scheduled job", "job", job.ID, "error", ErrDuplicateJob)
			continue
		}
		if prev, ok := old[job.ID]; ok {
			job.State = prev.Snapshot()
		}
		s.jobs[job.ID] = job
		if s.ctx != nil && job.Enabled {
			s.startRunnerLocked(job)
		}
	}

	s.logger.Info("scheduler reloaded", "jobs", len(s.jobs), "running", len(s.runners))
}

// GetStats returns scheduler statistics.
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{TotalJobs: len(s.jobs), RunningJobs: len(s.runners)}
	for _, job := range s.jobs {
		state := job.Snapshot()
		st.TotalRuns += state.RunCount
		st.TotalErrors += state.ErrorCount
		if job.Enabled {
			st.ActiveJobs++
		}
	}
	return st
}
