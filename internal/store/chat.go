package store

import "time"

type ChatMsg struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// AppendChatMessage records one transcript entry and touches its session.
func (s *Store) AppendChatMessage(sessionID, role, content string) error {
	if err := s.TouchSession(sessionID, ""); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO chat_messages (session_id, role, content) VALUES (?, ?, ?)`,
		sessionID, role, content,
	)
	return err
}

// ListChatMessages returns a session's transcript in append order.
func (s *Store) ListChatMessages(sessionID string) ([]*ChatMsg, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, created_at FROM chat_messages WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*ChatMsg
	for rows.Next() {
		var m ChatMsg
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}
	return result, rows.Err()
}
