// Package sqlite is the concrete store.EventStore backed by SQLite via
// the pure-Go modernc.org/sqlite driver (no cgo), matching the
// dimensionality/brute-force-KNN approach grounded on
// haasonsaas-nexus's sqlitevec backend (see DESIGN.md).
package sqlite

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Config selects the database location and vector dimensionality.
type Config struct {
	Path      string // ":memory:" for tests
	Dimension int    // fixed at table-creation time conceptually; enforced in code
}

// Store is the sqlite-backed store.EventStore implementation.
type Store struct {
	db        *sql.DB
	dimension int
	// writeMu serializes append/fork/rewind across the whole store.
	// SQLite's WAL mode allows concurrent readers; writes must be
	// serialized per session, and a single mutex is the simplest correct
	// implementation for a single-file, single-process store.
	writeMu sync.Mutex
}

// Open opens (creating if needed) the database file, enables WAL mode
// and foreign keys, and applies migrations.
func Open(cfg Config) (*Store, error) {
	dsn := cfg.Path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers over one *sql.DB handle
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 1536
	}
	return &Store{db: db, dimension: dim}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
