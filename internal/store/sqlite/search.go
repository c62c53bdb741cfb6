package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/tronrun/agentruntime/internal/store"
)

// Search runs a full-text query against events_fts, joining back to
// events for session/workspace scoping and metadata. bm25() returns
// more-negative-is-better scores.
func (s *Store) Search(ctx context.Context, query string, opts store.SearchOptions) ([]store.SearchResult, error) {
	q := `
		SELECT e.id, e.session_id, e.type, e.timestamp,
		       snippet(events_fts, 0, '[', ']', '...', 12) AS snip,
		       bm25(events_fts) AS score
		FROM events_fts
		JOIN events e ON e.rowid = events_fts.rowid
		WHERE events_fts MATCH ?`
	args := []any{query}

	if opts.WorkspaceID != nil {
		q += ` AND e.workspace_id = ?`
		args = append(args, *opts.WorkspaceID)
	}
	if opts.SessionID != nil {
		q += ` AND e.session_id = ?`
		args = append(args, *opts.SessionID)
	}
	if len(opts.Types) > 0 {
		placeholders := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		q += fmt.Sprintf(` AND e.type IN (%s)`, strings.Join(placeholders, ","))
	}

	q += ` ORDER BY score ASC`
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	q += ` LIMIT ?`
	args = append(args, limit)
	if opts.Offset > 0 {
		q += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()

	var out []store.SearchResult
	for rows.Next() {
		var r store.SearchResult
		var timestamp string
		if err := rows.Scan(&r.EventID, &r.SessionID, &r.Type, &timestamp, &r.Snippet, &r.Score); err != nil {
			return nil, fmt.Errorf("sqlite: scan search row: %w", err)
		}
		r.Timestamp, _ = parseISO(timestamp)
		out = append(out, r)
	}
	return out, rows.Err()
}
