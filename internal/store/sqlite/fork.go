package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tronrun/agentruntime/internal/store"
)

// Fork creates a new session rooted at fromEventID: every event up to
// and including fromEventID is copied by reference into the new
// session's own sequence, then a session.forked event is appended
// recording provenance. The source session is untouched.
func (s *Store) Fork(ctx context.Context, fromEventID string, title *string) (*store.Session, *store.Event, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: begin fork: %w", err)
	}
	defer tx.Rollback()

	var sourceSessionID, workspaceID, model, workingDir string
	var sourceSeq int64
	err = tx.QueryRowContext(ctx, `
		SELECT e.session_id, e.workspace_id, e.sequence, s.model, s.working_directory
		FROM events e JOIN sessions s ON s.id = e.session_id
		WHERE e.id = ?`, fromEventID).Scan(&sourceSessionID, &workspaceID, &sourceSeq, &model, &workingDir)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, store.ErrEventNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: lookup fork source event: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, sequence, type, timestamp, payload, parent_id, turn, tool_name
		FROM events WHERE session_id = ? AND sequence <= ? ORDER BY sequence ASC`, sourceSessionID, sourceSeq)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: load events to fork: %w", err)
	}
	type copiedEvent struct {
		id, typ, timestamp, payload string
		parentID, toolName          sql.NullString
		turn                        sql.NullInt64
	}
	var toCopy []copiedEvent
	for rows.Next() {
		var c copiedEvent
		var seq int64
		if err := rows.Scan(&c.id, &seq, &c.typ, &c.timestamp, &c.payload, &c.parentID, &c.turn, &c.toolName); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("sqlite: scan fork source row: %w", err)
		}
		toCopy = append(toCopy, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	newSessionID := newID("sess")
	newSess := &store.Session{
		ID: newSessionID, WorkspaceID: workspaceID, Model: model, WorkingDirectory: workingDir,
		CreatedAt: now, LastActiveAt: now, Title: title,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, workspace_id, model, working_directory, created_at, last_active_at, title, head_event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, '')`,
		newSess.ID, newSess.WorkspaceID, newSess.Model, newSess.WorkingDirectory,
		isoTime(now), isoTime(now), nullableString(title))
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: insert forked session: %w", err)
	}

	var lastID string
	for i, c := range toCopy {
		seq := int64(i + 1)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (id, session_id, workspace_id, sequence, type, timestamp, payload, parent_id, turn, tool_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.id, newSessionID, workspaceID, seq, c.typ, c.timestamp, c.payload, c.parentID, c.turn, c.toolName)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: copy forked event: %w", err)
		}
		lastID = c.id
	}

	payload := fmt.Sprintf(`{"sourceSessionId":%q,"sourceEventId":%q}`, sourceSessionID, fromEventID)
	forkEvt, err := s.appendTx(ctx, tx, newSess, store.EventSessionForked, payload, &lastID)
	if err != nil {
		return nil, nil, err
	}

	// The forked session's default branch is rooted at the fork point.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO branches (session_id, name, root_event_id, head_event_id, is_default)
		VALUES (?, 'main', ?, ?, 1)`, newSessionID, fromEventID, forkEvt.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: insert forked branch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("sqlite: commit fork: %w", err)
	}
	newSess.HeadEventID = forkEvt.ID
	return newSess, forkEvt, nil
}
