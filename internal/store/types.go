// Package store defines the append-only event store contract: the
// durable ground truth every in-memory session projection is derived
// from.
package store

import "time"

// Workspace is a unique filesystem path shared by many sessions.
type Workspace struct {
	ID           string
	Path         string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Session is a single conversation thread rooted in a workspace.
type Session struct {
	ID                string
	WorkspaceID       string
	Model             string
	WorkingDirectory  string
	CreatedAt         time.Time
	LastActiveAt      time.Time
	EndedAt           *time.Time
	Title             *string
	SpawningSessionID *string
	SpawnType         *string // "task" | "skill" | "custom"
	HeadEventID       string
	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalCost         float64
}

// Event is an immutable, append-only record bound to a session.
type Event struct {
	ID         string
	SessionID  string
	WorkspaceID string
	Sequence   int64
	Type       string
	Timestamp  time.Time
	Payload    string // raw JSON
	ParentID   *string
	Turn       *int64
	ToolName   *string
}

// Event type constants (closed set, grouped by concern).
const (
	EventSessionStart  = "session.start"
	EventSessionEnd    = "session.end"
	EventSessionForked = "session.forked"

	EventMessageUser      = "message.user"
	EventMessageAssistant = "message.assistant"

	EventToolUseBatch = "tool_use_batch"
	EventToolResult   = "tool.result"

	EventMemoryLedger = "memory.ledger"
	EventRulesActivated = "rules.activated"

	EventSkillAdded   = "skill.added"
	EventSkillRemoved = "skill.removed"

	EventCompactBoundary = "compact.boundary"
	EventCompactSummary  = "compact.summary"

	EventContextCleared = "context.cleared"

	EventWorktreeAcquired = "worktree.acquired"
	EventWorktreeCommit   = "worktree.commit"
)

// Branch is a named position in a session's event tree.
type Branch struct {
	SessionID   string
	Name        string
	RootEventID string
	HeadEventID string
	IsDefault   bool
}

// Blob is content-addressed opaque bytes referenced by id.
type Blob struct {
	ID     string
	SHA256 string
	Bytes  []byte
}

// MemoryVector is a single embedding row keyed by the event it
// summarizes.
type MemoryVector struct {
	EventID     string
	WorkspaceID string
	Embedding   []float32
}

// MemoryEntry is a ledger lesson surfaced to the Remember tool.
type MemoryEntry struct {
	Content   string
	SessionID *string
	Score     *uint32
	Timestamp *time.Time
}

// Stats is the store-wide aggregate summary backing the Remember
// tool's "stats" action.
type Stats struct {
	SessionCount int64
	EventCount   int64
	TotalTokens  int64
	TotalCost    float64
}

// SearchResult is one FTS5 hit.
type SearchResult struct {
	EventID   string
	SessionID string
	Type      string
	Snippet   string
	Score     float64 // BM25, negative; more negative is better
	Timestamp time.Time
}

// ListEventsOptions bounds a get_events_by_session call.
type ListEventsOptions struct {
	Limit  int64
	Offset int64
}

// ListSessionsOptions bounds a list_sessions call.
type ListSessionsOptions struct {
	WorkspaceID      *string
	Ended            *bool
	ExcludeSubagents bool
	Limit            int64
	Offset           int64
}

// SearchOptions scopes an FTS5 search.
type SearchOptions struct {
	WorkspaceID *string
	SessionID   *string
	Types       []string
	Limit       int64
	Offset      int64
}

// VectorSearchOptions scopes a vector KNN query.
type VectorSearchOptions struct {
	WorkspaceID *string
	Limit       int
	Threshold   float32
}

// VectorSearchResult is one KNN hit.
type VectorSearchResult struct {
	EventID    string
	Similarity float32
}
