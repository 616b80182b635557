package model

import (
	"fmt"
	"time"
)

// ScheduleType is the dispatch mode of a Job (§3).
type ScheduleType string

const (
	ScheduleOnce      ScheduleType = "once"
	ScheduleCron      ScheduleType = "cron"
	ScheduleInterval  ScheduleType = "interval"
	ScheduleTriggered ScheduleType = "triggered"
)

// JobStatus is the lifecycle state of a Job (§3).
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobActive    JobStatus = "active"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	JobSuspended JobStatus = "suspended"
)

// Priority mirrors the four-level scheme also used by the scheduler's
// dispatch ordering (low/normal/high/critical).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Job is a scheduling unit: a prompt bound to a cadence.
type Job struct {
	ID             string
	PromptID       int64
	Name           string
	ScheduleType   ScheduleType
	ScheduleConfig string // opaque to core: cron expr / ISO instant / duration-ms decimal string
	Status         JobStatus
	Priority       Priority
	RetryCount     int
	MaxRetries     int
	ParentID       *string

	ExecutionCount    int64
	FailureCount      int64
	AverageDurationMs float64

	CreatedAt time.Time
	UpdatedAt *time.Time
	LastRunAt *time.Time
	NextRunAt *time.Time
}

// ValidateSchedule enforces invariant (d): cron schedules use a validated
// 6-field expression, interval ≥ 1s, one-shot instant ≥ now. The actual
// cron grammar check is delegated to the caller (internal/scheduler owns
// the cron.Parser); this only checks shape-level invariants that do not
// require the parser.
func (j *Job) ValidateSchedule(now time.Time) error {
	switch j.ScheduleType {
	case ScheduleCron:
		if len(fieldsOf(j.ScheduleConfig)) != 6 {
			return errValidation(fmt.Sprintf("cron expression %q must have 6 fields (second minute hour day month weekday)", j.ScheduleConfig))
		}
	case ScheduleInterval:
		ms, err := parseMillis(j.ScheduleConfig)
		if err != nil {
			return errValidation("interval schedule_config must be a positive integer number of milliseconds")
		}
		if ms < 1000 {
			return errValidation("interval must be at least 1 second")
		}
	case ScheduleOnce:
		t, err := time.Parse(time.RFC3339, j.ScheduleConfig)
		if err != nil {
			return errValidation("once schedule_config must be an RFC3339 instant")
		}
		if t.Before(now) {
			return errValidation("once schedule_config must not be in the past")
		}
	case ScheduleTriggered:
		// no schedule_config shape requirement; fires only via trigger_job.
	default:
		return errValidation(fmt.Sprintf("unknown schedule type %q", j.ScheduleType))
	}
	return nil
}

// CheckRetryInvariant enforces invariant (a): retry_count ≤ max_retries.
func (j *Job) CheckRetryInvariant() error {
	if j.RetryCount > j.MaxRetries {
		return errValidation("retry_count exceeds max_retries")
	}
	return nil
}

func fieldsOf(s string) []string {
	var fields []string
	cur := ""
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if cur != "" {
				fields = append(fields, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		fields = append(fields, cur)
	}
	return fields
}

func parseMillis(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}
