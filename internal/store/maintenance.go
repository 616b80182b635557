package store

import (
	"database/sql"
	"time"

	"github.com/aristath/claude-pilot/internal/corerr"
)

// MaintenanceResult is the ops-log returned by Maintenance (§4.1).
type MaintenanceResult struct {
	Operations []string
	Duration   time.Duration
}

// Maintenance runs optimize, compact, analyze, and an integrity check.
// Compact (VACUUM) and analyze (ANALYZE) must not run inside a transaction
// (§4.1), so they are issued directly on the connection.
func (s *Store) Maintenance() (*MaintenanceResult, error) {
	start := s.now()
	var ops []string

	var integrity string
	if err := s.conn.QueryRow(`PRAGMA integrity_check`).Scan(&integrity); err != nil {
		return nil, corerr.Wrap(corerr.System, "integrity_check", err)
	}
	ops = append(ops, "integrity_check: "+integrity)

	if _, err := s.conn.Exec(`VACUUM`); err != nil {
		return nil, corerr.Wrap(corerr.System, "vacuum", err)
	}
	ops = append(ops, "vacuum: done")

	if _, err := s.conn.Exec(`ANALYZE`); err != nil {
		return nil, corerr.Wrap(corerr.System, "analyze", err)
	}
	ops = append(ops, "analyze: done")

	if _, err := s.conn.Exec(`PRAGMA optimize`); err != nil {
		return nil, corerr.Wrap(corerr.System, "optimize", err)
	}
	ops = append(ops, "optimize: done")

	return &MaintenanceResult{
		Operations: ops,
		Duration:   s.now().Sub(start),
	}, nil
}

// CleanupResult reports the outcome of Cleanup.
type CleanupResult struct {
	Removed int64
	Cutoff  time.Time
}

// retainRecentExecutions is the tail of execution_results preserved
// regardless of age (§4.1 "e.g. 1000").
const retainRecentExecutions = 1000

// Cleanup deletes execution_results older than cutoff (preserving the most
// recent retainRecentExecutions rows globally) and terminal-status jobs
// older than cutoff.
func (s *Store) Cleanup(olderThan time.Duration) (*CleanupResult, error) {
	cutoff := s.now().Add(-olderThan)
	var removed int64

	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			DELETE FROM execution_results
			WHERE created_at < ?
			AND id NOT IN (
				SELECT id FROM execution_results ORDER BY created_at DESC LIMIT ?
			)
		`, cutoff, retainRecentExecutions)
		if err != nil {
			return corerr.Wrap(corerr.System, "cleanup execution_results", err)
		}
		n1, err := res.RowsAffected()
		if err != nil {
			return err
		}

		res, err = tx.Exec(`
			DELETE FROM jobs
			WHERE status IN ('completed', 'failed', 'cancelled')
			AND created_at < ?
		`, cutoff)
		if err != nil {
			return corerr.Wrap(corerr.System, "cleanup terminal jobs", err)
		}
		n2, err := res.RowsAffected()
		if err != nil {
			return err
		}

		removed = n1 + n2
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &CleanupResult{Removed: removed, Cutoff: cutoff}, nil
}
