package store

import "errors"

// Sentinel errors returned by EventStore operations.
var (
	ErrSessionNotFound  = errors.New("store: session not found")
	ErrSessionEnded     = errors.New("store: session has ended")
	ErrWorkspaceNotFound = errors.New("store: workspace not found")
	ErrEventNotFound    = errors.New("store: event not found")
	ErrBlobNotFound     = errors.New("store: blob not found")
	ErrDimensionMismatch = errors.New("store: embedding dimensionality mismatch")
)
