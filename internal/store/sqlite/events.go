package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tronrun/agentruntime/internal/store"
)

// Append assigns the next sequence number for sessionID under the
// store-wide write lock and inserts the event row, refreshing the
// session's head_event_id and last_active_at.
func (s *Store) Append(ctx context.Context, sessionID, eventType, payload string, parentID *string) (*store.Event, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin append: %w", err)
	}
	defer tx.Rollback()

	var workspaceID string
	var endedAt sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT workspace_id, ended_at FROM sessions WHERE id = ?`, sessionID).Scan(&workspaceID, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: lookup session for append: %w", err)
	}
	if endedAt.Valid {
		return nil, store.ErrSessionEnded
	}

	sess := &store.Session{ID: sessionID, WorkspaceID: workspaceID}
	evt, err := s.appendTx(ctx, tx, sess, eventType, payload, parentID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit append: %w", err)
	}
	return evt, nil
}

// appendTx is the shared insert path used by both CreateSession (first
// event) and Append (subsequent events). Caller holds writeMu and owns
// the transaction's commit/rollback.
func (s *Store) appendTx(ctx context.Context, tx *sql.Tx, sess *store.Session, eventType, payload string, parentID *string) (*store.Event, error) {
	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM events WHERE session_id = ?`, sess.ID).Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("sqlite: max sequence: %w", err)
	}
	seq := int64(1)
	if maxSeq.Valid {
		seq = maxSeq.Int64 + 1
	}

	now := time.Now().UTC()
	evt := &store.Event{
		ID:          newID("evt"),
		SessionID:   sess.ID,
		WorkspaceID: sess.WorkspaceID,
		Sequence:    seq,
		Type:        eventType,
		Timestamp:   now,
		Payload:     payload,
		ParentID:    parentID,
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, session_id, workspace_id, sequence, type, timestamp, payload, parent_id, turn, tool_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
		evt.ID, evt.SessionID, evt.WorkspaceID, evt.Sequence, evt.Type, isoTime(evt.Timestamp), evt.Payload, nullableString(evt.ParentID))
	if err != nil {
		return nil, fmt.Errorf("sqlite: insert event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE sessions SET head_event_id = ?, last_active_at = ? WHERE id = ?`,
		evt.ID, isoTime(now), sess.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: update session head: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE branches SET head_event_id = ? WHERE session_id = ? AND is_default = 1`,
		evt.ID, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: update branch head: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE workspaces SET last_active_at = ? WHERE id = ?`, isoTime(now), sess.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: update workspace activity: %w", err)
	}

	return evt, nil
}

// GetEventsBySession returns events for one session in sequence order.
func (s *Store) GetEventsBySession(ctx context.Context, sessionID string, opts store.ListEventsOptions) ([]store.Event, error) {
	q := `SELECT id, session_id, workspace_id, sequence, type, timestamp, payload, parent_id, turn, tool_name
	      FROM events WHERE session_id = ? ORDER BY sequence ASC`
	args := []any{sessionID}
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			q += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}
	return s.queryEvents(ctx, q, args...)
}

// GetEventsByType returns events of the given types for one session,
// most recent first, bounded by limit.
func (s *Store) GetEventsByType(ctx context.Context, sessionID string, types []string, limit int64) ([]store.Event, error) {
	if len(types) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(types))
	args := []any{sessionID}
	for i, t := range types {
		placeholders[i] = "?"
		args = append(args, t)
	}
	q := fmt.Sprintf(`SELECT id, session_id, workspace_id, sequence, type, timestamp, payload, parent_id, turn, tool_name
	      FROM events WHERE session_id = ? AND type IN (%s) ORDER BY sequence DESC`, strings.Join(placeholders, ","))
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, q, args...)
}

// GetEventsByWorkspaceAndTypes scans across every session sharing a
// workspace, most recent first.
func (s *Store) GetEventsByWorkspaceAndTypes(ctx context.Context, workspaceID string, types []string, limit, offset int64) ([]store.Event, error) {
	if len(types) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(types))
	args := []any{workspaceID}
	for i, t := range types {
		placeholders[i] = "?"
		args = append(args, t)
	}
	q := fmt.Sprintf(`SELECT id, session_id, workspace_id, sequence, type, timestamp, payload, parent_id, turn, tool_name
	      FROM events WHERE workspace_id = ? AND type IN (%s) ORDER BY timestamp DESC`, strings.Join(placeholders, ","))
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
		if offset > 0 {
			q += ` OFFSET ?`
			args = append(args, offset)
		}
	}
	return s.queryEvents(ctx, q, args...)
}

func (s *Store) queryEvents(ctx context.Context, q string, args ...any) ([]store.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query events: %w", err)
	}
	defer rows.Close()

	var out []store.Event
	for rows.Next() {
		evt, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *evt)
	}
	return out, rows.Err()
}

func scanEventRow(rows *sql.Rows) (*store.Event, error) {
	var evt store.Event
	var timestamp string
	var parentID, toolName sql.NullString
	var turn sql.NullInt64
	if err := rows.Scan(&evt.ID, &evt.SessionID, &evt.WorkspaceID, &evt.Sequence, &evt.Type, &timestamp,
		&evt.Payload, &parentID, &turn, &toolName); err != nil {
		return nil, fmt.Errorf("sqlite: scan event: %w", err)
	}
	evt.Timestamp, _ = parseISO(timestamp)
	if parentID.Valid {
		v := parentID.String
		evt.ParentID = &v
	}
	if turn.Valid {
		v := turn.Int64
		evt.Turn = &v
	}
	if toolName.Valid {
		v := toolName.String
		evt.ToolName = &v
	}
	return &evt, nil
}
