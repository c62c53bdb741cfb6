package sqlite

import (
	"context"
	"fmt"

	"github.com/tronrun/agentruntime/internal/store"
)

// Stats computes store-wide aggregates: session/event counts plus
// cumulative token and cost totals.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(total_input_tokens + total_output_tokens), 0), COALESCE(SUM(total_cost), 0) FROM sessions`).
		Scan(&st.SessionCount, &st.TotalTokens, &st.TotalCost)
	if err != nil {
		return store.Stats{}, fmt.Errorf("sqlite: stats sessions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&st.EventCount); err != nil {
		return store.Stats{}, fmt.Errorf("sqlite: stats events: %w", err)
	}
	return st, nil
}

// Schema dumps the CREATE statement for every user table, mirroring
// sqlite_master introspection.
func (s *Store) Schema(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND sql IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sql string
		if err := rows.Scan(&sql); err != nil {
			return nil, fmt.Errorf("sqlite: scan schema row: %w", err)
		}
		out = append(out, sql)
	}
	return out, rows.Err()
}

// GetLogs is an intentional stub: this store has no logs table, so
// there is nothing to return. The Remember tool surfaces this action
// for interface parity only.
func (s *Store) GetLogs(ctx context.Context, limit int64) ([]string, error) {
	return nil, nil
}
