package store

import (
	"fmt"
	"os"
	"time"

	"github.com/aristath/claude-pilot/internal/corerr"
)

// BackupResult reports the outcome of Backup.
type BackupResult struct {
	SizeBytes int64
	Duration  time.Duration
}

// Backup produces a standalone, independently-openable copy of the
// database at targetPath using SQLite's "VACUUM INTO", which is
// consistent even against a live writer (§4.1).
func (s *Store) Backup(targetPath string) (*BackupResult, error) {
	start := s.now()

	if _, err := s.conn.Exec(fmt.Sprintf(`VACUUM INTO '%s'`, escapeSingleQuotes(targetPath))); err != nil {
		return nil, corerr.Wrap(corerr.System, "backup via VACUUM INTO", err)
	}

	fi, err := os.Stat(targetPath)
	if err != nil {
		return nil, corerr.Wrap(corerr.System, "stat backup file", err)
	}

	return &BackupResult{
		SizeBytes: fi.Size(),
		Duration:  s.now().Sub(start),
	}, nil
}

// BackupFilename mints a timestamped snapshot name per §6
// ("snapshot_YYYYMMDD_HHMMSS_<rand>.db").
func (s *Store) BackupFilename(rand string) string {
	return fmt.Sprintf("snapshot_%s_%s.db", s.now().Format("20060102_150405"), rand)
}

func escapeSingleQuotes(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
