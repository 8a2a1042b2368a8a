package store

// AppendTerminalLine records one terminal line.
func (s *Store) AppendTerminalLine(sessionID, line string) error {
	if err := s.TouchSession(sessionID, ""); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO terminal_lines (session_id, line) VALUES (?, ?)`, sessionID, line)
	return err
}

// ListTerminalLines returns a session's terminal lines in append order. limit
// <= 0 returns all of them; otherwise only the most recent limit lines.
func (s *Store) ListTerminalLines(sessionID string, limit int) ([]string, error) {
	query := `SELECT line FROM terminal_lines WHERE session_id = ? ORDER BY id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query = `SELECT line FROM (
			SELECT id, line FROM terminal_lines WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
