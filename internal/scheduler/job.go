package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omerix/offline-sync/internal/config"
)

// Action kinds
const (
	ActionFlush     = "flush"
	ActionPurgeDead = "purge-dead"
)

// DefaultRetentionDays applies to purge-dead jobs without a retention.
const DefaultRetentionDays = 30

// Job represents a scheduled task
type Job struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Schedule ScheduleConfig `json:"schedule"`
	Action   ActionConfig   `json:"action"`
	Enabled  bool           `json:"enabled"`
	State    JobState       `json:"state"`

	mu sync.Mutex // guards State once a runner owns the job
}

// ScheduleConfig defines when a job runs
type ScheduleConfig struct {
	Kind       string `json:"kind"` // "interval", "cron", "at"
	IntervalMs int64  `json:"intervalMs,omitempty"`
	Expr       string `json:"expr,omitempty"` // cron expression
	Time       string `json:"time,omitempty"` // "HH:MM" for daily
	Timezone   string `json:"timezone,omitempty"`
}

// ActionConfig defines what a job does
type ActionConfig struct {
	Kind          string `json:"kind"` // "flush", "purge-dead"
	RetentionDays int    `json:"retentionDays,omitempty"`
}

// Retention is how old a dead operation must be before purge-dead drops it.
func (a ActionConfig) Retention() time.Duration {
	days := a.RetentionDays
	if days <= 0 {
		days = DefaultRetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// JobState tracks job execution state
type JobState struct {
	LastRunAt    time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt    time.Time     `json:"nextRunAt,omitempty"`
	RunCount     int64         `json:"runCount"`
	ErrorCount   int64         `json:"errorCount"`
	LastError    string        `json:"lastError,omitempty"`
	LastDuration time.Duration `json:"lastDuration,omitempty"`
}

// JobFromConfig converts a configured job.
func JobFromConfig(c config.SchedulerJobConfig) *Job {
	return &Job{
		ID:   c.ID,
		Name: c.Name,
		Schedule: ScheduleConfig{
			Kind:       c.Schedule.Kind,
			IntervalMs: c.Schedule.IntervalMs,
			Expr:       c.Schedule.Expr,
			Time:       c.Schedule.Time,
			Timezone:   c.Schedule.Timezone,
		},
		Action: ActionConfig{
			Kind:          c.Action.Kind,
			RetentionDays: c.Action.RetentionDays,
		},
		Enabled: c.Enabled,
	}
}

// JobsFromConfig converts every configured job.
func JobsFromConfig(c config.SchedulerConfig) []*Job {
	jobs := make([]*Job, 0, len(c.Jobs))
	for _, jc := range c.Jobs {
		jobs = append(jobs, JobFromConfig(jc))
	}
	return jobs
}

// Validate checks if job configuration is valid
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID required")
	}
	if j.Name == "" {
		return fmt.Errorf("job name required")
	}

	switch j.Schedule.Kind {
	case "interval":
		if j.Schedule.IntervalMs <= 0 {
			return fmt.Errorf("intervalMs must be positive")
		}
	case "cron":
		if j.Schedule.Expr == "" {
			return fmt.Errorf("cron expression required")
		}
		if _, err := cron.ParseStandard(j.Schedule.Expr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	case "at":
		if j.Schedule.Time == "" {
			return fmt.Errorf("time required for 'at' schedule")
		}
		if _, err := time.Parse("15:04", j.Schedule.Time); err != nil {
			return fmt.Errorf("invalid time format (use HH:MM): %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s (use interval, cron, or at)", j.Schedule.Kind)
	}
	if j.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(j.Schedule.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}

	switch j.Action.Kind {
	case ActionFlush:
	case ActionPurgeDead:
		if j.Action.RetentionDays < 0 {
			return fmt.Errorf("retentionDays must not be negative")
		}
	default:
		return fmt.Errorf("unknown action kind: %s (use %s or %s)", j.Action.Kind, ActionFlush, ActionPurgeDead)
	}

	return nil
}

// NextRun calculates the next run time based on schedule
func (j *Job) NextRun(from time.Time) (time.Time, error) {
	switch j.Schedule.Kind {
	case "interval":
		interval := time.Duration(j.Schedule.IntervalMs) * time.Millisecond
		return from.Add(interval), nil

	case "cron":
		schedule, err := cron.ParseStandard(j.Schedule.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron: %w", err)
		}
		loc, err := j.location()
		if err != nil {
			return time.Time{}, err
		}
		return schedule.Next(from.In(loc)), nil

	case "at":
		t, err := time.Parse("15:04", j.Schedule.Time)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time: %w", err)
		}
		loc, err := j.location()
		if err != nil {
			return time.Time{}, err
		}

		local := from.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(),
			t.Hour(), t.Minute(), 0, 0, loc)

		// If time has passed today, schedule for tomorrow
		if !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", j.Schedule.Kind)
	}
}

func (j *Job) location() (*time.Location, error) {
	if j.Schedule.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(j.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	return loc, nil
}

// Snapshot returns the current execution state.
func (j *Job) Snapshot() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.State
}

func (j *Job) setNextRun(t time.Time) {
	j.mu.Lock()
	j.State.NextRunAt = t
	j.mu.Unlock()
}

func (j *Job) recordRun(at time.Time, d time.Duration, err error) JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.State.LastRunAt = at
	j.State.LastDuration = d
	j.State.RunCount++
	if err != nil {
		j.State.ErrorCount++
		j.State.LastError = err.Error()
	} else {
		j.State.LastError = ""
	}
	return j.State
}

// Clone creates a copy of the job
func (j *Job) Clone() *Job {
	return &Job{
		ID:       j.ID,
		Name:     j.Name,
		Schedule: j.Schedule,
		Action:   j.Action,
		Enabled:  j.Enabled,
		State:    j.Snapshot(),
	}
}
