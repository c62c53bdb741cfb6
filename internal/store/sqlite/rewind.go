package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tronrun/agentruntime/internal/store"
)

// Rewind moves a session's head back to toEventID. A soft rewind only
// updates head_event_id, leaving later events in place; they remain
// reachable by id and GetEventsBySession still returns them, so state
// rebuilt from the session's events still includes them. A hard rewind
// deletes every event after toEventID outright.
func (s *Store) Rewind(ctx context.Context, sessionID, toEventID string, hard bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin rewind: %w", err)
	}
	defer tx.Rollback()

	var targetSeq int64
	var eventSessionID string
	err = tx.QueryRowContext(ctx, `SELECT session_id, sequence FROM events WHERE id = ?`, toEventID).Scan(&eventSessionID, &targetSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: lookup rewind target: %w", err)
	}
	if eventSessionID != sessionID {
		return store.ErrEventNotFound
	}

	if hard {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = ? AND sequence > ?`, sessionID, targetSeq); err != nil {
			return fmt.Errorf("sqlite: hard rewind delete: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET head_event_id = ? WHERE id = ?`, toEventID, sessionID)
	if err != nil {
		return fmt.Errorf("sqlite: update head on rewind: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrSessionNotFound
	}

	return tx.Commit()
}
