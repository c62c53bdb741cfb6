package store

import "context"

// EventStore is the durable append-only log: reconstructable session
// state, FTS search, blob storage, vector search, atomic fork/rewind.
// Concrete implementations live in sibling packages
// (internal/store/sqlite).
type EventStore interface {
	CreateSession(ctx context.Context, model, workingDir string, title *string) (*Session, *Event, error)
	CreateChildSession(ctx context.Context, model, workingDir string, title *string, spawningSessionID, spawnType string) (*Session, *Event, error)
	Append(ctx context.Context, sessionID, eventType, payload string, parentID *string) (*Event, error)

	GetEventsBySession(ctx context.Context, sessionID string, opts ListEventsOptions) ([]Event, error)
	GetEventsByType(ctx context.Context, sessionID string, types []string, limit int64) ([]Event, error)
	GetEventsByWorkspaceAndTypes(ctx context.Context, workspaceID string, types []string, limit, offset int64) ([]Event, error)

	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)

	Fork(ctx context.Context, fromEventID string, title *string) (*Session, *Event, error)
	Rewind(ctx context.Context, sessionID, toEventID string, hard bool) error

	AddSessionUsage(ctx context.Context, sessionID string, inputTokens, outputTokens int64, cost float64) error

	EndSession(ctx context.Context, sessionID string) error
	ClearSessionEnded(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error

	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, opts ListSessionsOptions) ([]Session, error)
	ListBranches(ctx context.Context, sessionID string) ([]Branch, error)

	GetBlobContent(ctx context.Context, blobID string) ([]byte, error)
	PutBlob(ctx context.Context, data []byte) (string, error)

	IndexVector(ctx context.Context, v MemoryVector) error
	SearchVectors(ctx context.Context, query []float32, opts VectorSearchOptions) ([]VectorSearchResult, error)
	DeleteVector(ctx context.Context, eventID string) error

	Stats(ctx context.Context) (Stats, error)
	Schema(ctx context.Context) ([]string, error)
	GetLogs(ctx context.Context, limit int64) ([]string, error)

	Close() error
}
