package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Executor performs the actions jobs can schedule.
type Executor interface {
	// Flush runs a sync pass over the operation queue.
	Flush(ctx context.Context) error
	// PurgeDead drops dead operations older than olderThan and returns how
	// many were removed.
	PurgeDead(ctx context.Context, olderThan time.Duration) (int, error)
}

// JobRunner executes a single job on schedule
type JobRunner struct {
	job      *Job
	logger   *slog.Logger
	executor Executor
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewJobRunner creates a new job runner
func NewJobRunner(job *Job, executor Executor, log *slog.Logger) *JobRunner {
	if log == nil {
		log = slog.Default()
	}
	return &JobRunner{
		job:      job,
		executor: executor,
		logger:   log.With("job", job.ID),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start executes the job on schedule until ctx is cancelled or Stop is
// called.
func (r *JobRunner) Start(ctx context.Context) {
	defer close(r.doneCh)

	if !r.job.Enabled {
		r.logger.Debug("job disabled, not starting")
		return
	}

	nextRun, err := r.job.NextRun(time.Now())
	if err != nil {
		r.logger.Error("failed to calculate next run", "error", err)
		return
	}
	r.job.setNextRun(nextRun)
	r.logger.Info("job runner started", "next_run", nextRun.Format(time.RFC3339))

	timer := time.NewTimer(time.Until(nextRun))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("job runner stopped (context cancelled)")
			return
		case <-r.stopCh:
			r.logger.Debug("job runner stopped")
			return
		case <-timer.C:
			r.executeJob(ctx)

			nextRun, err := r.job.NextRun(time.Now())
			if err != nil {
				r.logger.Error("failed to calculate next run", "error", err)
				return
			}
			r.job.setNextRun(nextRun)
			r.logger.Debug("next run scheduled", "next_run", nextRun.Format(time.RFC3339))
			timer.Reset(time.Until(nextRun))
		}
	}
}

// Stop stops the job runner
func (r *JobRunner) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	<-r.doneCh
}

// executeJob runs the job once
func (r *JobRunner) executeJob(ctx context.Context) {
	start := time.Now()
	r.logger.Debug("executing job", "action", r.job.Action.Kind)

	var err error
	if r.executor == nil {
		err = fmt.Errorf("executor not set (cannot execute %s action)", r.job.Action.Kind)
	} else {
		switch r.job.Action.Kind {
		case ActionFlush:
			err = r.executor.Flush(ctx)
		case ActionPurgeDead:
			err = r.executePurge(ctx)
		default:
			err = fmt.Errorf("unknown action kind: %s", r.job.Action.Kind)
		}
	}

	duration := time.Since(start)
	state := r.job.recordRun(time.Now(), duration, err)

	if err != nil {
		r.logger.Error("job failed",
			"error", err,
			"duration", duration,
			"run_count", state.RunCount,
			"error_count", state.ErrorCount)
	} else {
		r.logger.Info("job completed",
			"duration", duration,
			"run_count", state.RunCount)
	}
}

func (r *JobRunner) executePurge(ctx context.Context) error {
	retention := r.job.Action.Retention()
	n, err := r.executor.PurgeDead(ctx, retention)
	if err != nil {
		return fmt.Errorf("purge dead operations: %w", err)
	}
	r.logger.Info("purged dead operations", "count", n, "retention", retention)
	return nil
}
