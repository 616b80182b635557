package store

import (
	"database/sql"
	"fmt"
)

// migration is one versioned, forward-only, idempotent schema step.
type migration struct {
	version int
	name    string
	sql     string
}

// migrations is the ordered list of known schema versions. Each records its
// version in system_metadata once applied.
var migrations = []migration{
	{
		version: 1,
		name:    "initial_schema",
		sql: `
CREATE TABLE IF NOT EXISTS prompts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	tags TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	prompt_id INTEGER NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	schedule_type TEXT NOT NULL,
	cron_expr TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 1,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	parent_id TEXT REFERENCES jobs(id) ON DELETE SET NULL,
	execution_count INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	average_duration_ms REAL NOT NULL DEFAULT 0,
	eta_unix INTEGER,
	last_run_at DATETIME,
	next_run_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_next_run ON jobs(status, next_run_at);

CREATE TABLE IF NOT EXISTS execution_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	process_id TEXT,
	status TEXT NOT NULL,
	content TEXT NOT NULL,
	error_message TEXT,
	input_tokens INTEGER,
	output_tokens INTEGER,
	total_tokens INTEGER,
	cost_usd REAL,
	execution_time_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_execution_results_job_created ON execution_results(job_id, created_at DESC);

CREATE TABLE IF NOT EXISTS system_metadata (
	key TEXT PRIMARY KEY,
	value TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME
);
`,
	},
	{
		version: 2,
		name:    "prompts_tags_index",
		sql:     `CREATE INDEX IF NOT EXISTS idx_prompts_tags ON prompts(tags);`,
	},
}

const metaVersionKey = "schema_version"

// currentVersion reads the installed schema version, 0 if unset.
func (s *Store) currentVersion() (int, error) {
	var v sql.NullString
	err := s.conn.QueryRow(`SELECT value FROM system_metadata WHERE key = ?`, metaVersionKey).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		// system_metadata table may not exist yet on a fresh database.
		return 0, nil
	}
	if !v.Valid {
		return 0, nil
	}
	var n int
	if _, err := fmt.Sscanf(v.String, "%d", &n); err != nil {
		return 0, nil
	}
	return n, nil
}

// NeedsMigration reports whether the installed version is behind the
// latest known migration.
func (s *Store) NeedsMigration() (bool, error) {
	v, err := s.currentVersion()
	if err != nil {
		return false, err
	}
	return v < latestVersion(), nil
}

func latestVersion() int {
	max := 0
	for _, m := range migrations {
		if m.version > max {
			max = m.version
		}
	}
	return max
}

// Migrate applies every migration newer than the installed version, in
// order, recording each version as it lands.
func (s *Store) Migrate() error {
	// Ensure system_metadata exists before the first currentVersion read,
	// since migration 1 itself creates it.
	if _, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS system_metadata (
			key TEXT PRIMARY KEY,
			value TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME
		)`); err != nil {
		return fmt.Errorf("store: bootstrap system_metadata: %w", err)
	}

	installed, err := s.currentVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= installed {
			continue
		}
		if err := s.withTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.sql); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
			now := s.now()
			_, err := tx.Exec(`
				INSERT INTO system_metadata (key, value, created_at, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
			`, metaVersionKey, fmt.Sprintf("%d", m.version), now, now)
			return err
		}); err != nil {
			return err
		}
		s.log.Info().Int("version", m.version).Str("name", m.name).Msg("applied migration")
	}

	return nil
}
