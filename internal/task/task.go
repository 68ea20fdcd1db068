// Package task persists scheduled tasks and selects which are due. The
// daemon's scheduler tick drives the state machine: pending → running →
// completed/failed, with recurring tasks returning to pending under a fresh
// next_run_at.
package task

import (
	"fmt"
	"time"

	cron "github.com/robfig/cron/v3"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Origin records who created a task.
type Origin string

const (
	OriginUser            Origin = "user"
	OriginEventRouter     Origin = "event-router"
	OriginSelfImprovement Origin = "self-improvement"
)

// Schedule kinds.
const (
	ScheduleAt       = "one-shot-at"
	ScheduleInterval = "interval"
	ScheduleCron     = "cron"
)

// DefaultTimeout bounds a task execution when the task does not carry its
// own timeout.
const DefaultTimeout = 5 * time.Minute

// Schedule describes when a task runs. Exactly one of At, Every, Expr is
// meaningful, selected by Kind.
type Schedule struct {
	Kind  string    `json:"kind"`
	At    time.Time `json:"at,omitempty"`
	Every string    `json:"every,omitempty"`
	Expr  string    `json:"expr,omitempty"`
}

// Validate checks the schedule is well formed.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleAt:
		if s.At.IsZero() {
			return fmt.Errorf("one-shot schedule needs a time")
		}
	case ScheduleInterval:
		d, err := time.ParseDuration(s.Every)
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", s.Every, err)
		}
		if d <= 0 {
			return fmt.Errorf("interval must be positive, got %q", s.Every)
		}
	case ScheduleCron:
		if _, err := cron.ParseStandard(s.Expr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.Expr, err)
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// firstRun computes the initial next_run_at.
func (s Schedule) firstRun(now time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}
	switch s.Kind {
	case ScheduleAt:
		return s.At, nil
	case ScheduleInterval:
		d, _ := time.ParseDuration(s.Every)
		return now.Add(d), nil
	default:
		spec, _ := cron.ParseStandard(s.Expr)
		return spec.Next(now), nil
	}
}

// nextAfter computes the following run for recurring schedules. One-shot
// schedules have no next run.
func (s Schedule) nextAfter(now time.Time) (time.Time, bool) {
	switch s.Kind {
	case ScheduleInterval:
		d, err := time.ParseDuration(s.Every)
		if err != nil || d <= 0 {
			return time.Time{}, false
		}
		return now.Add(d), true
	case ScheduleCron:
		spec, err := cron.ParseStandard(s.Expr)
		if err != nil {
			return time.Time{}, false
		}
		return spec.Next(now), true
	default:
		return time.Time{}, false
	}
}

// Scheduled is one persisted task.
type Scheduled struct {
	ID             string     `json:"id"`
	Task           string     `json:"task_string"`
	Schedule       Schedule   `json:"schedule"`
	NextRunAt      time.Time  `json:"next_run_at"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	Status         Status     `json:"status"`
	Origin         Origin     `json:"origin"`
	TimeoutSeconds int        `json:"timeout_seconds,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Timeout returns the execution bound for this task.
func (t *Scheduled) Timeout() time.Duration {
	if t.TimeoutSeconds > 0 {
		return time.Duration(t.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}

func (t *Scheduled) clone() *Scheduled {
	c := *t
	if t.LastRunAt != nil {
		lr := *t.LastRunAt
		c.LastRunAt = &lr
	}
	return &c
}
