package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tronrun/agentruntime/internal/store"
)

// CreateSession ensures the workspace exists, then inserts a new
// session and its root session.start event in one transaction.
func (s *Store) CreateSession(ctx context.Context, model, workingDir string, title *string) (*store.Session, *store.Event, error) {
	return s.createSession(ctx, model, workingDir, title, nil, nil)
}

// CreateChildSession creates a session linked to its spawning parent,
// used by the subagent manager.
func (s *Store) CreateChildSession(ctx context.Context, model, workingDir string, title *string, spawningSessionID, spawnType string) (*store.Session, *store.Event, error) {
	return s.createSession(ctx, model, workingDir, title, &spawningSessionID, &spawnType)
}

func (s *Store) createSession(ctx context.Context, model, workingDir string, title, spawningSessionID, spawnType *string) (*store.Session, *store.Event, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: begin create_session: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	workspaceID, err := s.getOrCreateWorkspaceTx(ctx, tx, workingDir, now)
	if err != nil {
		return nil, nil, err
	}

	sessionID := newID("sess")
	sess := &store.Session{
		ID:                sessionID,
		WorkspaceID:       workspaceID,
		Model:             model,
		WorkingDirectory:  workingDir,
		CreatedAt:         now,
		LastActiveAt:      now,
		Title:             title,
		SpawningSessionID: spawningSessionID,
		SpawnType:         spawnType,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, workspace_id, model, working_directory, created_at, last_active_at, title, spawning_session_id, spawn_type, head_event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '')`,
		sess.ID, sess.WorkspaceID, sess.Model, sess.WorkingDirectory,
		isoTime(sess.CreatedAt), isoTime(sess.LastActiveAt), nullableString(sess.Title),
		nullableString(spawningSessionID), nullableString(spawnType))
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: insert session: %w", err)
	}

	payload := fmt.Sprintf(`{"model":%q,"workingDirectory":%q}`, model, workingDir)
	evt, err := s.appendTx(ctx, tx, sess, store.EventSessionStart, payload, nil)
	if err != nil {
		return nil, nil, err
	}

	// Every session starts on an implicit default branch rooted at its
	// first event.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO branches (session_id, name, root_event_id, head_event_id, is_default)
		VALUES (?, 'main', ?, ?, 1)`, sess.ID, evt.ID, evt.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: insert default branch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("sqlite: commit create_session: %w", err)
	}
	sess.HeadEventID = evt.ID
	return sess, evt, nil
}

func (s *Store) getOrCreateWorkspaceTx(ctx context.Context, tx *sql.Tx, path string, now time.Time) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM workspaces WHERE path = ?`, path).Scan(&id)
	if err == nil {
		_, err = tx.ExecContext(ctx, `UPDATE workspaces SET last_active_at = ? WHERE id = ?`, isoTime(now), id)
		return id, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sqlite: lookup workspace: %w", err)
	}
	id = newID("ws")
	_, err = tx.ExecContext(ctx, `INSERT INTO workspaces (id, path, created_at, last_active_at) VALUES (?, ?, ?, ?)`,
		id, path, isoTime(now), isoTime(now))
	if err != nil {
		return "", fmt.Errorf("sqlite: insert workspace: %w", err)
	}
	return id, nil
}

// GetSession loads one session row.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, model, working_directory, created_at, last_active_at, ended_at,
		       title, spawning_session_id, spawn_type, head_event_id,
		       total_input_tokens, total_output_tokens, total_cost
		FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*store.Session, error) {
	var sess store.Session
	var createdAt, lastActiveAt string
	var endedAt, title, spawningID, spawnType sql.NullString
	err := row.Scan(&sess.ID, &sess.WorkspaceID, &sess.Model, &sess.WorkingDirectory,
		&createdAt, &lastActiveAt, &endedAt, &title, &spawningID, &spawnType, &sess.HeadEventID,
		&sess.TotalInputTokens, &sess.TotalOutputTokens, &sess.TotalCost)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan session: %w", err)
	}
	sess.CreatedAt, _ = parseISO(createdAt)
	sess.LastActiveAt, _ = parseISO(lastActiveAt)
	if endedAt.Valid {
		t, _ := parseISO(endedAt.String)
		sess.EndedAt = &t
	}
	if title.Valid {
		v := title.String
		sess.Title = &v
	}
	if spawningID.Valid {
		v := spawningID.String
		sess.SpawningSessionID = &v
	}
	if spawnType.Valid {
		v := spawnType.String
		sess.SpawnType = &v
	}
	return &sess, nil
}

// ListSessions enumerates sessions, most-recently-active first.
func (s *Store) ListSessions(ctx context.Context, opts store.ListSessionsOptions) ([]store.Session, error) {
	q := `SELECT id, workspace_id, model, working_directory, created_at, last_active_at, ended_at,
	             title, spawning_session_id, spawn_type, head_event_id,
	             total_input_tokens, total_output_tokens, total_cost
	      FROM sessions WHERE 1=1`
	var args []any
	if opts.WorkspaceID != nil {
		q += ` AND workspace_id = ?`
		args = append(args, *opts.WorkspaceID)
	}
	if opts.Ended != nil {
		if *opts.Ended {
			q += ` AND ended_at IS NOT NULL`
		} else {
			q += ` AND ended_at IS NULL`
		}
	}
	if opts.ExcludeSubagents {
		q += ` AND spawning_session_id IS NULL`
	}
	q += ` ORDER BY last_active_at DESC`
	if opts.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, opts.Limit)
		if opts.Offset > 0 {
			q += fmt.Sprintf(` OFFSET %d`, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		var sess store.Session
		var createdAt, lastActiveAt string
		var endedAt, title, spawningID, spawnType sql.NullString
		if err := rows.Scan(&sess.ID, &sess.WorkspaceID, &sess.Model, &sess.WorkingDirectory,
			&createdAt, &lastActiveAt, &endedAt, &title, &spawningID, &spawnType, &sess.HeadEventID,
			&sess.TotalInputTokens, &sess.TotalOutputTokens, &sess.TotalCost); err != nil {
			return nil, fmt.Errorf("sqlite: scan session row: %w", err)
		}
		sess.CreatedAt, _ = parseISO(createdAt)
		sess.LastActiveAt, _ = parseISO(lastActiveAt)
		if endedAt.Valid {
			t, _ := parseISO(endedAt.String)
			sess.EndedAt = &t
		}
		if title.Valid {
			v := title.String
			sess.Title = &v
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// AddSessionUsage accumulates a turn's token and cost deltas onto the
// session's running totals.
func (s *Store) AddSessionUsage(ctx context.Context, sessionID string, inputTokens, outputTokens int64, cost float64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET total_input_tokens = total_input_tokens + ?,
		    total_output_tokens = total_output_tokens + ?,
		    total_cost = total_cost + ?
		WHERE id = ?`,
		inputTokens, outputTokens, cost, sessionID)
	return checkAffected(res, err)
}

// EndSession sets ended_at.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ?`, isoTime(time.Now().UTC()), sessionID)
	return checkAffected(res, err)
}

// ClearSessionEnded un-archives a session.
func (s *Store) ClearSessionEnded(ctx context.Context, sessionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = NULL WHERE id = ?`, sessionID)
	return checkAffected(res, err)
}

// DeleteSession cascades to branches, blobs referenced only by this
// session's events are left (content-addressed, may be shared), and
// vectors for this session's events.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vectors WHERE event_id IN (SELECT id FROM events WHERE session_id = ?)`, sessionID); err != nil {
		return fmt.Errorf("sqlite: delete session vectors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM branches WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite: delete session branches: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite: delete session events: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("sqlite: delete session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrSessionNotFound
	}
	return tx.Commit()
}

func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

func isoTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseISO(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
