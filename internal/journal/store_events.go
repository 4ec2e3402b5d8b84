package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// OpenSession records the start of a session.
func (s *Store) OpenSession(ctx context.Context, session Session) error {
	if session.ID == "" {
		return fmt.Errorf("open session: id required")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO sessions (id, role, remote_addr, local_addr, opened_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Role, session.RemoteAddr, session.LocalAddr, formatTime(session.OpenedAt),
	)
	if err != nil {
		return fmt.Errorf("open session %s: %w", session.ID, err)
	}
	return nil
}

// CloseSession marks a session finished. closeErr may be empty.
func (s *Store) CloseSession(ctx context.Context, id string, closedAt time.Time, closeErr string) error {
	var errValue any
	if closeErr != "" {
		errValue = closeErr
	}
	res, err := s.exec(ctx,
		`UPDATE sessions SET closed_at = ?, close_error = ? WHERE id = ?`,
		formatTime(closedAt), errValue, id,
	)
	if err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("close session %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// Append stores one entry and bumps the owning session's counter.
func (s *Store) Append(ctx context.Context, entry Entry) error {
	ctx = ensureContext(ctx)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	args := string(entry.Args)
	if args == "" {
		args = "[]"
	}
	var errValue any
	if entry.Error != "" {
		errValue = entry.Error
	}
	counter := ""
	switch entry.Direction {
	case DirectionIn:
		counter = "records_in"
	case DirectionOut:
		counter = "records_out"
	case DirectionDropped:
		counter = "records_dropped"
	default:
		return fmt.Errorf("append entry: unknown direction %q", entry.Direction)
	}

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (session_id, direction, name, args_json, bytes, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.SessionID, string(entry.Direction), entry.Name, args, entry.Bytes, errValue, formatTime(entry.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET `+counter+` = `+counter+` + 1 WHERE id = ?`, entry.SessionID,
		); err != nil {
			return fmt.Errorf("bump session counter: %w", err)
		}
		return tx.Commit()
	})
}

const sessionColumns = "id, role, remote_addr, local_addr, opened_at, closed_at, close_error, records_in, records_out, records_dropped"

// Sessions lists sessions, newest first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+sessionColumns+` FROM sessions ORDER BY opened_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			session  Session
			opened   sql.NullString
			closed   sql.NullString
			closeErr sql.NullString
		)
		if err := rows.Scan(&session.ID, &session.Role, &session.RemoteAddr, &session.LocalAddr,
			&opened, &closed, &closeErr, &session.RecordsIn, &session.RecordsOut, &session.RecordsDropped); err != nil {
			return nil, err
		}
		session.OpenedAt = parseTime(opened)
		session.ClosedAt = parseTime(closed)
		session.CloseError = closeErr.String
		out = append(out, session)
	}
	return out, rows.Err()
}

// Events lists entries matching filter in insertion order. When the filter
// has a limit, the most recent entries up to that limit are returned.
func (s *Store) Events(ctx context.Context, filter Filter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Name != "" {
		clauses = append(clauses, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Direction != "" {
		clauses = append(clauses, "direction = ?")
		args = append(args, string(filter.Direction))
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	query := `SELECT id, session_id, direction, name, args_json, bytes, error, created_at FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query = `SELECT * FROM (` + query + ` ORDER BY id DESC LIMIT ?) ORDER BY id`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry     Entry
			direction string
			argsJSON  string
			errText   sql.NullString
			created   sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.SessionID, &direction, &entry.Name, &argsJSON, &entry.Bytes, &errText, &created); err != nil {
			return nil, err
		}
		entry.Direction = Direction(direction)
		entry.Args = []byte(argsJSON)
		entry.Error = errText.String
		entry.CreatedAt = parseTime(created)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Prune deletes entries older than cutoff and closed sessions that ended
// before it. It returns the number of rows removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	stamp := formatTime(cutoff)
	res, err := s.exec(ctx, `DELETE FROM events WHERE created_at < ?`, stamp)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	events, _ := res.RowsAffected()

	res, err = s.exec(ctx, `DELETE FROM sessions WHERE closed_at IS NOT NULL AND closed_at < ?
		AND NOT EXISTS (SELECT 1 FROM events WHERE events.session_id = sessions.id)`, stamp)
	if err != nil {
		return events, fmt.Errorf("prune sessions: %w", err)
	}
	sessions, _ := res.RowsAffected()
	return events + sessions, nil
}

// CloseOpenSessions marks sessions left open by an earlier unclean shutdown.
func (s *Store) CloseOpenSessions(ctx context.Context, at time.Time, reason string) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE sessions SET closed_at = ?, close_error = ? WHERE closed_at IS NULL`,
		formatTime(at), reason,
	)
	if err != nil {
		return 0, fmt.Errorf("close stale sessions: %w", err)
	}
	return res.RowsAffected()
}
