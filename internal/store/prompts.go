package store

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/aristath/claude-pilot/internal/corerr"
	"github.com/aristath/claude-pilot/internal/model"
)

// CreatePrompt inserts a new prompt, failing with Validation if title or
// content is empty (§4.1).
func (s *Store) CreatePrompt(title, content string, tags []string) (int64, error) {
	if err := validateStruct(promptInput{Title: strings.TrimSpace(title), Content: strings.TrimSpace(content)}); err != nil {
		return 0, err
	}

	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO prompts (title, content, tags, created_at) VALUES (?, ?, ?, ?)`,
			title, content, joinTags(tags), s.now(),
		)
		if err != nil {
			return corerr.Wrap(corerr.System, "insert prompt", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return corerr.Wrap(corerr.System, "read inserted prompt id", err)
		}
		return nil
	})
	return id, err
}

// GetPrompt returns a prompt by id, or (nil, nil) if it does not exist.
func (s *Store) GetPrompt(id int64) (*model.Prompt, error) {
	row := s.conn.QueryRow(
		`SELECT id, title, content, tags, created_at, updated_at FROM prompts WHERE id = ?`, id,
	)
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, corerr.Wrap(corerr.System, "get prompt", err)
	}
	return p, nil
}

// DeletePrompt removes a prompt by id, returning false if it did not exist.
// Deleting a prompt that jobs still reference also deletes those jobs (and
// their execution results) through the ON DELETE CASCADE on
// jobs.prompt_id (§3 invariant).
func (s *Store) DeletePrompt(id int64) (bool, error) {
	var deleted bool
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM prompts WHERE id = ?`, id)
		if err != nil {
			return corerr.Wrap(corerr.System, "delete prompt", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return corerr.Wrap(corerr.System, "rows affected", err)
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// ListPrompts returns a paged slice of prompts, most recent id first.
// [SUPPLEMENT] §4.1 restores the original's listing affordance.
func (s *Store) ListPrompts(limit, offset int) ([]*model.Prompt, error) {
	rows, err := s.conn.Query(
		`SELECT id, title, content, tags, created_at, updated_at FROM prompts ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, corerr.Wrap(corerr.System, "list prompts", err)
	}
	defer rows.Close()

	var out []*model.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, corerr.Wrap(corerr.System, "scan prompt", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrompt(r rowScanner) (*model.Prompt, error) {
	var p model.Prompt
	var tags sql.NullString
	var updatedAt sql.NullTime
	if err := r.Scan(&p.ID, &p.Title, &p.Content, &tags, &p.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Tags = splitTags(tags.String)
	if updatedAt.Valid {
		t := updatedAt.Time
		p.UpdatedAt = &t
	}
	return &p, nil
}

func joinTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
