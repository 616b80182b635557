// Package store is the typed SQLite persistence layer (§4.1): schema
// initialization, migrations, CRUD for prompts/jobs/results, health checks,
// backup, and maintenance. Grounded on the teacher's internal/database.DB
// connection wrapper, generalized from a bespoke trading schema to the
// prompts/jobs/execution_results schema of §6.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/claude-pilot/pkg/clock"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure-Go driver, no cgo
)

// Store wraps the SQLite connection and exposes the repository operations
// of §4.1. A single *Store instance owns exclusive write access; its pool
// holds one connection (see Open), so reads and writes are serialized.
type Store struct {
	conn  *sql.DB
	path  string
	log   zerolog.Logger
	clock clock.Clock
}

// SetClock overrides the store's time source; used by tests to make
// created_at/updated_at values deterministic.
func (s *Store) SetClock(c clock.Clock) { s.clock = c }

// Open creates (or attaches to) the database file at path, configuring the
// driver for write-ahead journaling, foreign keys on, normal synchronous
// durability, and a busy-timeout of at least 5s (§4.1 concurrency), then
// runs migrations to the latest version.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf(
		"%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	// A single SQLite writer at a time; modernc.org/sqlite serializes
	// writers internally, but capping open conns keeps the pool from
	// piling up waiters behind the busy_timeout.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	s := &Store{
		conn:  conn,
		path:  path,
		log:   log.With().Str("component", "store").Logger(),
		clock: clock.Real{},
	}

	if err := s.Migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn exposes the raw connection for callers (e.g. gopsutil-backed health
// checks) that need it directly; repository operations should prefer the
// typed methods.
func (s *Store) Conn() *sql.DB { return s.conn }

// Path returns the database file path Open was called with.
func (s *Store) Path() string { return s.path }

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error (§4.1: "all mutating multi-statement sequences are
// wrapped in a transaction").
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) now() time.Time { return s.clock.Now() }
