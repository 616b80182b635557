package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/aristath/claude-pilot/internal/corerr"
	"github.com/aristath/claude-pilot/internal/model"
	"github.com/google/uuid"
)

// CreateJob inserts a new job bound to promptID, failing with NotFound if
// the prompt does not exist (§4.1).
func (s *Store) CreateJob(promptID int64, name string, scheduleType model.ScheduleType, scheduleConfig string, priority model.Priority, maxRetries int) (string, error) {
	if err := validateStruct(jobInput{Name: name, MaxRetries: maxRetries}); err != nil {
		return "", err
	}

	p, err := s.GetPrompt(promptID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", corerr.New(corerr.NotFound, "prompt does not exist")
	}

	id := uuid.NewString()
	now := s.now()
	err = s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO jobs (id, prompt_id, name, schedule_type, cron_expr, status, priority, retry_count, max_retries, created_at)
			VALUES (?, ?, ?, ?, ?, 'pending', ?, 0, ?, ?)
		`, id, promptID, name, string(scheduleType), scheduleConfig, int(priority), maxRetries, now)
		if err != nil {
			return corerr.Wrap(corerr.System, "insert job", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// SetParent links childID as a child of parentID. Cycle detection lives
// in internal/scheduler (TaskHierarchy); this only persists the edge once
// the caller has confirmed it is acyclic.
func (s *Store) SetParent(childID, parentID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE jobs SET parent_id = ?, updated_at = ? WHERE id = ?`, parentID, s.now(), childID)
		if err != nil {
			return corerr.Wrap(corerr.System, "set parent", err)
		}
		return nil
	})
}

// ListJobs returns jobs ordered by id descending, optionally filtered by
// status.
func (s *Store) ListJobs(statusFilter string) ([]*model.Job, error) {
	var rows *sql.Rows
	var err error
	if statusFilter == "" {
		rows, err = s.conn.Query(jobSelectColumns + ` FROM jobs ORDER BY id DESC`)
	} else {
		rows, err = s.conn.Query(jobSelectColumns+` FROM jobs WHERE status = ? ORDER BY id DESC`, statusFilter)
	}
	if err != nil {
		return nil, corerr.Wrap(corerr.System, "list jobs", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// GetJob returns a job by id, or nil if it does not exist.
func (s *Store) GetJob(id string) (*model.Job, error) {
	row := s.conn.QueryRow(jobSelectColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, corerr.Wrap(corerr.System, "get job", err)
	}
	return j, nil
}

// FindPending returns jobs eligible to fire right now: status='pending' and
// (next_run_at IS NULL OR next_run_at <= now), ordered by priority desc
// then created_at asc (§4.1).
func (s *Store) FindPending() ([]*model.Job, error) {
	rows, err := s.conn.Query(
		jobSelectColumns+`
		FROM jobs
		WHERE status = 'pending' AND (next_run_at IS NULL OR next_run_at <= ?)
		ORDER BY priority DESC, created_at ASC
	`, s.now())
	if err != nil {
		return nil, corerr.Wrap(corerr.System, "find pending jobs", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// UpdateJobStatus transitions a job to status, optionally setting
// next_run_at, and stamps last_run_at when transitioning to running.
func (s *Store) UpdateJobStatus(id string, status model.JobStatus, nextRunAt *time.Time) error {
	now := s.now()
	return s.withTx(func(tx *sql.Tx) error {
		if status == model.JobRunning {
			_, err := tx.Exec(
				`UPDATE jobs SET status = ?, last_run_at = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
				string(status), now, nextRunAt, now, id,
			)
			if err != nil {
				return corerr.Wrap(corerr.System, "update job status (running)", err)
			}
			return nil
		}
		_, err := tx.Exec(
			`UPDATE jobs SET status = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
			string(status), nextRunAt, now, id,
		)
		if err != nil {
			return corerr.Wrap(corerr.System, "update job status", err)
		}
		return nil
	})
}

// RecordJobOutcome updates execution_count, failure_count, and the
// incremental mean average_duration_ms after one dispatch (§4.8 step 5).
func (s *Store) RecordJobOutcome(id string, durationMs int64, failed bool) error {
	return s.withTx(func(tx *sql.Tx) error {
		var count int64
		var avg float64
		if err := tx.QueryRow(`SELECT execution_count, average_duration_ms FROM jobs WHERE id = ?`, id).Scan(&count, &avg); err != nil {
			return corerr.Wrap(corerr.System, "read job counters", err)
		}
		newCount := count + 1
		newAvg := avg + (float64(durationMs)-avg)/float64(newCount)

		if failed {
			_, err := tx.Exec(
				`UPDATE jobs SET execution_count = ?, failure_count = failure_count + 1, average_duration_ms = ?, updated_at = ? WHERE id = ?`,
				newCount, newAvg, s.now(), id,
			)
			return err
		}
		_, err := tx.Exec(
			`UPDATE jobs SET execution_count = ?, average_duration_ms = ?, updated_at = ? WHERE id = ?`,
			newCount, newAvg, s.now(), id,
		)
		return err
	})
}

// IncrementRetryCount increments a job's authoritative retry_count by
// exactly one (Open Question #3, DESIGN.md), refusing once max_retries
// would be exceeded.
func (s *Store) IncrementRetryCount(id string) error {
	return s.withTx(func(tx *sql.Tx) error {
		var retryCount, maxRetries int
		if err := tx.QueryRow(`SELECT retry_count, max_retries FROM jobs WHERE id = ?`, id).Scan(&retryCount, &maxRetries); err != nil {
			return corerr.Wrap(corerr.System, "read retry counters", err)
		}
		if retryCount+1 > maxRetries {
			return corerr.New(corerr.Validation, "retry_count would exceed max_retries")
		}
		_, err := tx.Exec(`UPDATE jobs SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?`, s.now(), id)
		return err
	})
}

// RemoveJob deletes a job (cascading to its execution_results), returning
// false if it did not exist.
func (s *Store) RemoveJob(id string) (bool, error) {
	var deleted bool
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM jobs WHERE id = ?`, id)
		if err != nil {
			return corerr.Wrap(corerr.System, "delete job", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

const jobSelectColumns = `
	SELECT id, prompt_id, name, schedule_type, cron_expr, status, priority, retry_count, max_retries,
	       parent_id, execution_count, failure_count, average_duration_ms,
	       last_run_at, next_run_at, created_at, updated_at`

func scanJobs(rows *sql.Rows) ([]*model.Job, error) {
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, corerr.Wrap(corerr.System, "scan job", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(r rowScanner) (*model.Job, error) {
	var j model.Job
	var scheduleType, status string
	var priority, retryCount, maxRetries int
	var parentID sql.NullString
	var lastRunAt, nextRunAt, updatedAt sql.NullTime

	if err := r.Scan(
		&j.ID, &j.PromptID, &j.Name, &scheduleType, &j.ScheduleConfig, &status, &priority, &retryCount, &maxRetries,
		&parentID, &j.ExecutionCount, &j.FailureCount, &j.AverageDurationMs,
		&lastRunAt, &nextRunAt, &j.CreatedAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	j.ScheduleType = model.ScheduleType(scheduleType)
	j.Status = model.JobStatus(status)
	j.Priority = model.Priority(priority)
	j.RetryCount = retryCount
	j.MaxRetries = maxRetries
	if parentID.Valid {
		v := parentID.String
		j.ParentID = &v
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		j.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		j.NextRunAt = &t
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		j.UpdatedAt = &t
	}
	return &j, nil
}
