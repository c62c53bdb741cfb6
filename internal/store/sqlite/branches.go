package sqlite

import (
	"context"
	"fmt"

	"github.com/tronrun/agentruntime/internal/store"
)

// ListBranches returns a session's branches, default first.
func (s *Store) ListBranches(ctx context.Context, sessionID string) ([]store.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, name, root_event_id, head_event_id, is_default
		FROM branches WHERE session_id = ? ORDER BY is_default DESC, name ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list branches: %w", err)
	}
	defer rows.Close()

	var out []store.Branch
	for rows.Next() {
		var b store.Branch
		var isDefault int
		if err := rows.Scan(&b.SessionID, &b.Name, &b.RootEventID, &b.HeadEventID, &isDefault); err != nil {
			return nil, fmt.Errorf("sqlite: scan branch: %w", err)
		}
		b.IsDefault = isDefault != 0
		out = append(out, b)
	}
	return out, rows.Err()
}
