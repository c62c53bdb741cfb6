package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tronrun/agentruntime/internal/providers"
	"github.com/tronrun/agentruntime/internal/store"
)

// EventStoreQuery is the read surface the Remember tool needs from the
// event store. The concrete SQLite store satisfies it.
type EventStoreQuery interface {
	Search(ctx context.Context, query string, opts store.SearchOptions) ([]store.SearchResult, error)
	SearchVectors(ctx context.Context, query []float32, opts store.VectorSearchOptions) ([]store.VectorSearchResult, error)
	ListSessions(ctx context.Context, opts store.ListSessionsOptions) ([]store.Session, error)
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	GetEventsBySession(ctx context.Context, sessionID string, opts store.ListEventsOptions) ([]store.Event, error)
	GetEventsByType(ctx context.Context, sessionID string, types []string, limit int64) ([]store.Event, error)
	GetEventsByWorkspaceAndTypes(ctx context.Context, workspaceID string, types []string, limit, offset int64) ([]store.Event, error)
	GetBlobContent(ctx context.Context, blobID string) ([]byte, error)
	Stats(ctx context.Context) (store.Stats, error)
	Schema(ctx context.Context) ([]string, error)
	GetLogs(ctx context.Context, limit int64) ([]string, error)
}

// EmbeddingController produces query embeddings for vector recall.
// Ready reports whether the controller can embed right now; recall
// falls back to FTS when it cannot.
type EmbeddingController interface {
	Ready() bool
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RememberTool routes twelve query actions over the event store,
// giving the model structured access to its own history.
type RememberTool struct {
	query    EventStoreQuery
	embedder EmbeddingController // may be nil
}

func NewRememberTool(query EventStoreQuery, embedder EmbeddingController) *RememberTool {
	return &RememberTool{query: query, embedder: embedder}
}

func (t *RememberTool) Name() string        { return "Remember" }
func (t *RememberTool) Category() string    { return CategoryMemory }
func (t *RememberTool) IsInteractive() bool { return false }
func (t *RememberTool) StopsTurn() bool     { return false }

func (t *RememberTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "Remember",
		Description: "Query past sessions and events. Actions: recall (semantic), search (full-text), memory, sessions, session, events, messages, tools, logs, stats, schema, read_blob.",
		Parameters: objectSchema(map[string]interface{}{
			"action": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"recall", "search", "memory", "sessions", "session", "events", "messages", "tools", "logs", "stats", "schema", "read_blob"},
			},
			"query":      map[string]interface{}{"type": "string"},
			"session_id": map[string]interface{}{"type": "string"},
			"blob_id":    map[string]interface{}{"type": "string"},
			"limit":      map[string]interface{}{"type": "integer"},
		}, "action"),
	}
}

type rememberParams struct {
	Action    string `json:"action"`
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
	BlobID    string `json:"blob_id"`
	Limit     int64  `json:"limit"`
}

func (t *RememberTool) Execute(ctx context.Context, params json.RawMessage, tc Context) (*Result, error) {
	var p rememberParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}

	ws := tc.WorkspaceID

	switch p.Action {
	case "recall":
		return t.recall(ctx, p, ws)
	case "search":
		return t.search(ctx, p, ws)
	case "memory":
		return t.memory(ctx, p, ws)
	case "sessions":
		return t.sessions(ctx, p, ws)
	case "session":
		return t.session(ctx, p)
	case "events":
		return t.events(ctx, p)
	case "messages":
		return t.typedEvents(ctx, p, []string{store.EventMessageUser, store.EventMessageAssistant})
	case "tools":
		return t.typedEvents(ctx, p, []string{store.EventToolUseBatch, store.EventToolResult})
	case "logs":
		logs, err := t.query.GetLogs(ctx, p.Limit)
		if err != nil {
			return ErrorResult(err.Error()), nil
		}
		if len(logs) == 0 {
			return NewResult("No logs available."), nil
		}
		return NewResult(strings.Join(logs, "\n")), nil
	case "stats":
		return t.stats(ctx)
	case "schema":
		schema, err := t.query.Schema(ctx)
		if err != nil {
			return ErrorResult(err.Error()), nil
		}
		return NewResult(strings.Join(schema, "\n\n")), nil
	case "read_blob":
		if p.BlobID == "" {
			return ErrorResult("blob_id is required for read_blob"), nil
		}
		data, err := t.query.GetBlobContent(ctx, p.BlobID)
		if err != nil {
			return ErrorResult(err.Error()), nil
		}
		return NewResult(string(data)), nil
	default:
		return ErrorResult(fmt.Sprintf("unknown action %q", p.Action)), nil
	}
}

// recall tries vector KNN first when an embedding controller is
// available and ready, falling back to full-text search when vector
// results are empty or the controller is absent.
func (t *RememberTool) recall(ctx context.Context, p rememberParams, workspaceID string) (*Result, error) {
	if p.Query == "" {
		return ErrorResult("query is required for recall"), nil
	}
	if t.embedder != nil && t.embedder.Ready() {
		if embedding, err := t.embedder.Embed(ctx, p.Query); err == nil {
			hits, err := t.query.SearchVectors(ctx, embedding, store.VectorSearchOptions{
				WorkspaceID: &workspaceID,
				Limit:       int(p.Limit),
			})
			if err == nil && len(hits) > 0 {
				var b strings.Builder
				for _, h := range hits {
					fmt.Fprintf(&b, "- %s (similarity %.2f)\n", h.EventID, h.Similarity)
				}
				return NewResult(b.String()), nil
			}
		}
	}
	return t.search(ctx, p, workspaceID)
}

func (t *RememberTool) search(ctx context.Context, p rememberParams, workspaceID string) (*Result, error) {
	if p.Query == "" {
		return ErrorResult("query is required for search"), nil
	}
	opts := store.SearchOptions{WorkspaceID: &workspaceID, Limit: p.Limit}
	if p.SessionID != "" {
		opts.SessionID = &p.SessionID
	}
	results, err := t.query.Search(ctx, p.Query, opts)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	if len(results) == 0 {
		return NewResult("No matches."), nil
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- [%s] %s (%s, confidence %d%%)\n  %s\n",
			r.Type, r.EventID, r.SessionID, store.NormalizeBM25Score(r.Score), r.Snippet)
	}
	return NewResult(b.String()), nil
}

func (t *RememberTool) memory(ctx context.Context, p rememberParams, workspaceID string) (*Result, error) {
	events, err := t.query.GetEventsByWorkspaceAndTypes(ctx, workspaceID, []string{store.EventMemoryLedger}, p.Limit, 0)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	if len(events) == 0 {
		return NewResult("No memory entries."), nil
	}
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "- %s %s\n  %s\n", e.Timestamp.Format("2006-01-02"), e.ID, e.Payload)
	}
	return NewResult(b.String()), nil
}

func (t *RememberTool) sessions(ctx context.Context, p rememberParams, workspaceID string) (*Result, error) {
	sessions, err := t.query.ListSessions(ctx, store.ListSessionsOptions{
		WorkspaceID: &workspaceID,
		Limit:       p.Limit,
	})
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	if len(sessions) == 0 {
		return NewResult("No sessions."), nil
	}
	var b strings.Builder
	for _, s := range sessions {
		title := ""
		if s.Title != nil {
			title = *s.Title
		}
		fmt.Fprintf(&b, "- %s %s model=%s %q\n", s.ID, s.LastActiveAt.Format("2006-01-02 15:04"), s.Model, title)
	}
	return NewResult(b.String()), nil
}

func (t *RememberTool) session(ctx context.Context, p rememberParams) (*Result, error) {
	if p.SessionID == "" {
		return ErrorResult("session_id is required for session"), nil
	}
	s, err := t.query.GetSession(ctx, p.SessionID)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	detail, _ := json.MarshalIndent(map[string]interface{}{
		"id":               s.ID,
		"model":            s.Model,
		"workingDirectory": s.WorkingDirectory,
		"createdAt":        s.CreatedAt,
		"lastActiveAt":     s.LastActiveAt,
		"endedAt":          s.EndedAt,
		"headEventId":      s.HeadEventID,
		"inputTokens":      s.TotalInputTokens,
		"outputTokens":     s.TotalOutputTokens,
		"cost":             s.TotalCost,
	}, "", "  ")
	return NewResult(string(detail)), nil
}

func (t *RememberTool) events(ctx context.Context, p rememberParams) (*Result, error) {
	if p.SessionID == "" {
		return ErrorResult("session_id is required for events"), nil
	}
	events, err := t.query.GetEventsBySession(ctx, p.SessionID, store.ListEventsOptions{Limit: p.Limit})
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return NewResult(formatEvents(events)), nil
}

func (t *RememberTool) typedEvents(ctx context.Context, p rememberParams, types []string) (*Result, error) {
	if p.SessionID == "" {
		return ErrorResult("session_id is required"), nil
	}
	events, err := t.query.GetEventsByType(ctx, p.SessionID, types, p.Limit)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return NewResult(formatEvents(events)), nil
}

func (t *RememberTool) stats(ctx context.Context) (*Result, error) {
	st, err := t.query.Stats(ctx)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return NewResult(fmt.Sprintf("sessions: %d\nevents: %d\ntotal tokens: %d\ntotal cost: $%.4f",
		st.SessionCount, st.EventCount, st.TotalTokens, st.TotalCost)), nil
}

func formatEvents(events []store.Event) string {
	if len(events) == 0 {
		return "No events."
	}
	var b strings.Builder
	for _, e := range events {
		payload := e.Payload
		if len(payload) > 200 {
			payload = payload[:200] + "…"
		}
		fmt.Fprintf(&b, "#%d [%s] %s %s\n  %s\n", e.Sequence, e.Type, e.ID, e.Timestamp.Format("15:04:05"), payload)
	}
	return b.String()
}
