package store

import (
	"database/sql"

	"github.com/aristath/claude-pilot/internal/corerr"
	"github.com/aristath/claude-pilot/internal/model"
)

// RecordExecution inserts an immutable ExecutionResult and, in the same
// transaction, updates the owning job's last_run_at. It does not touch
// execution_count; that counter is updated by RecordJobOutcome in a
// separate transaction. It must not fail silently.
func (s *Store) RecordExecution(jobID string, result *model.ExecutionResult) (int64, error) {
	now := s.now()
	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		var usage model.TokenUsage
		if result.Usage != nil {
			usage = *result.Usage
		}

		res, err := tx.Exec(`
			INSERT INTO execution_results
				(job_id, process_id, status, content, error_message, input_tokens, output_tokens, total_tokens, cost_usd, execution_time_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, jobID, result.ProcessID, string(result.Status), result.Content, result.ErrorMessage,
			nullIfZero(usage.InputTokens), nullIfZero(usage.OutputTokens), nullIfZero(usage.TotalTokens), usage.CostUSD,
			result.ExecutionMs, now)
		if err != nil {
			return corerr.Wrap(corerr.System, "insert execution result", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return corerr.Wrap(corerr.System, "read inserted execution id", err)
		}

		if _, err := tx.Exec(
			`UPDATE jobs SET last_run_at = ? WHERE id = ?`, now, jobID,
		); err != nil {
			return corerr.Wrap(corerr.System, "update job last_run_at", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListExecutions returns the most recent execution results for a job,
// newest first.
func (s *Store) ListExecutions(jobID string, limit int) ([]*model.ExecutionResult, error) {
	rows, err := s.conn.Query(`
		SELECT id, job_id, process_id, status, content, error_message,
		       input_tokens, output_tokens, total_tokens, cost_usd, execution_time_ms, created_at
		FROM execution_results WHERE job_id = ? ORDER BY created_at DESC LIMIT ?
	`, jobID, limit)
	if err != nil {
		return nil, corerr.Wrap(corerr.System, "list executions", err)
	}
	defer rows.Close()

	var out []*model.ExecutionResult
	for rows.Next() {
		r, err := scanExecution(rows)
		if err != nil {
			return nil, corerr.Wrap(corerr.System, "scan execution", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountExecutions returns the number of execution_results rows for a job.
// [SUPPLEMENT] §4.1 listing affordance.
func (s *Store) CountExecutions(jobID string) (int64, error) {
	var n int64
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM execution_results WHERE job_id = ?`, jobID).Scan(&n)
	if err != nil {
		return 0, corerr.Wrap(corerr.System, "count executions", err)
	}
	return n, nil
}

func scanExecution(r rowScanner) (*model.ExecutionResult, error) {
	var e model.ExecutionResult
	var status string
	var processID, errMsg sql.NullString
	var inputTok, outputTok, totalTok sql.NullInt64
	var cost sql.NullFloat64

	if err := r.Scan(&e.ID, &e.JobID, &processID, &status, &e.Content, &errMsg,
		&inputTok, &outputTok, &totalTok, &cost, &e.ExecutionMs, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Status = model.ResultStatus(status)
	if processID.Valid {
		v := processID.String
		e.ProcessID = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		e.ErrorMessage = &v
	}
	if inputTok.Valid || outputTok.Valid || totalTok.Valid || cost.Valid {
		e.Usage = &model.TokenUsage{
			InputTokens:  inputTok.Int64,
			OutputTokens: outputTok.Int64,
			TotalTokens:  totalTok.Int64,
			CostUSD:      cost.Float64,
		}
	}
	return &e, nil
}

func nullIfZero(n int64) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}
