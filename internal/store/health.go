package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/claude-pilot/internal/corerr"
	"github.com/shirou/gopsutil/v3/disk"
)

// Health is the Store's self-report (§4.1).
type Health struct {
	OK             bool
	ResponseTimeMs int64
	DBSizeBytes    int64
	PageCount      int64
	DiskFreeBytes  uint64 // gopsutil/v3 disk usage of the DB file's volume
	CheckedAt      time.Time
}

// HealthCheck pings the database, measures response time, and reports file
// size / page count / disk free space via gopsutil.
func (s *Store) HealthCheck() (*Health, error) {
	start := s.now()

	if err := s.conn.Ping(); err != nil {
		return &Health{OK: false, CheckedAt: s.now()}, corerr.Wrap(corerr.System, "health ping", err)
	}

	var pageCount int64
	if err := s.conn.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err != nil {
		return nil, corerr.Wrap(corerr.System, "read page_count", err)
	}

	var sizeBytes int64
	if s.path != ":memory:" {
		if fi, err := os.Stat(s.path); err == nil {
			sizeBytes = fi.Size()
		}
	}

	var freeBytes uint64
	if s.path != ":memory:" {
		if usage, err := disk.Usage(filepath.Dir(s.path)); err == nil {
			freeBytes = usage.Free
		}
	}

	elapsed := s.now().Sub(start)

	return &Health{
		OK:             true,
		ResponseTimeMs: elapsed.Milliseconds(),
		DBSizeBytes:    sizeBytes,
		PageCount:      pageCount,
		DiskFreeBytes:  freeBytes,
		CheckedAt:      s.now(),
	}, nil
}
