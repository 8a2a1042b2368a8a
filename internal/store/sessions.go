package store

import (
	"database/sql"
	"errors"
	"time"
)

type SessionRecord struct {
	ID          string
	ProjectRoot string
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// TouchSession creates the session row if needed and marks it used. A
// non-empty projectRoot replaces the stored one.
func (s *Store) TouchSession(id, projectRoot string) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, project_root) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_used_at = CURRENT_TIMESTAMP,
			project_root = CASE WHEN excluded.project_root != '' THEN excluded.project_root ELSE sessions.project_root END`,
		id, projectRoot,
	)
	return err
}

// GetSession returns nil if the session was never recorded.
func (s *Store) GetSession(id string) (*SessionRecord, error) {
	var r SessionRecord
	err := s.db.QueryRow(
		`SELECT id, project_root, created_at, last_used_at FROM sessions WHERE id = ?`, id,
	).Scan(&r.ID, &r.ProjectRoot, &r.CreatedAt, &r.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListSessions returns recorded sessions, most recently used first.
func (s *Store) ListSessions() ([]*SessionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, project_root, created_at, last_used_at FROM sessions ORDER BY last_used_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.ID, &r.ProjectRoot, &r.CreatedAt, &r.LastUsedAt); err != nil {
			return nil, err
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}

// DeleteSession removes a session and its transcripts.
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}
