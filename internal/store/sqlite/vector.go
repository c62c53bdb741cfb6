package sqlite

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/tronrun/agentruntime/internal/store"
)

// IndexVector writes (or replaces) the embedding for one event.
// A dimensionality mismatch fails rather than storing a vector KNN
// could never score.
func (s *Store) IndexVector(ctx context.Context, v store.MemoryVector) error {
	if len(v.Embedding) != s.dimension {
		return store.ErrDimensionMismatch
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_vectors(event_id, workspace_id, embedding) VALUES (?, ?, ?)
		 ON CONFLICT(event_id) DO UPDATE SET workspace_id=excluded.workspace_id, embedding=excluded.embedding`,
		v.EventID, v.WorkspaceID, encodeEmbedding(v.Embedding))
	if err != nil {
		return fmt.Errorf("sqlite: index vector: %w", err)
	}
	return nil
}

// DeleteVector removes one event's embedding, if present.
func (s *Store) DeleteVector(ctx context.Context, eventID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_vectors WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("sqlite: delete vector: %w", err)
	}
	return nil
}

// SearchVectors performs brute-force cosine-similarity KNN: load every
// row matching the optional workspace filter, score, sort descending,
// truncate to opts.Limit. No ANN index — acceptable at the scale
// this table is designed for (low ten-thousands of rows per workspace).
func (s *Store) SearchVectors(ctx context.Context, query []float32, opts store.VectorSearchOptions) ([]store.VectorSearchResult, error) {
	q := `SELECT event_id, embedding FROM memory_vectors WHERE 1=1`
	var args []any
	if opts.WorkspaceID != nil {
		q += ` AND workspace_id = ?`
		args = append(args, *opts.WorkspaceID)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search vectors: %w", err)
	}
	defer rows.Close()

	var results []store.VectorSearchResult
	for rows.Next() {
		var eventID string
		var blob []byte
		if err := rows.Scan(&eventID, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: scan vector row: %w", err)
		}
		emb := decodeEmbedding(blob)
		sim := cosineSimilarity(query, emb)
		if opts.Threshold > 0 && sim < opts.Threshold {
			continue
		}
		results = append(results, store.VectorSearchResult{EventID: eventID, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortByScoreDesc(results)

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// encodeEmbedding packs a float32 slice into a little-endian byte
// blob, 4 bytes per value.
func encodeEmbedding(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		out[i*4+0] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

// decodeEmbedding is the inverse of encodeEmbedding. Trailing bytes
// that don't form a full float32 are ignored.
func decodeEmbedding(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[i*4+0]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// cosineSimilarity returns 0 for mismatched lengths or zero-norm
// vectors rather than erroring — a KNN row that can't be scored is
// simply never a match.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrt32(normA) * sqrt32(normB))
}

// sqrt32 computes a square root in single precision via Newton-Raphson
// rather than widening through math.Sqrt's float64 path.
func sqrt32(x float32) float32 {
	if x <= 0 {
		return 0
	}
	guess := x
	for i := 0; i < 10; i++ {
		guess = 0.5 * (guess + x/guess)
	}
	return guess
}

func sortByScoreDesc(results []store.VectorSearchResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
}
