package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tronrun/agentruntime/internal/store"
)

// PutBlob stores data content-addressed by its SHA-256 digest,
// returning the existing blob id when identical bytes were already
// stored (idempotent, no duplicate rows).
func (s *Store) PutBlob(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var existingID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM blobs WHERE sha256 = ?`, digest).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sqlite: lookup blob: %w", err)
	}

	id := newID("blob")
	_, err = s.db.ExecContext(ctx, `INSERT INTO blobs (id, sha256, bytes) VALUES (?, ?, ?)`, id, digest, data)
	if err != nil {
		return "", fmt.Errorf("sqlite: insert blob: %w", err)
	}
	return id, nil
}

// GetBlobContent retrieves one blob's bytes by id.
func (s *Store) GetBlobContent(ctx context.Context, blobID string) ([]byte, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx, `SELECT bytes FROM blobs WHERE id = ?`, blobID).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get blob: %w", err)
	}
	return bytes, nil
}
