package sqlite

import (
	"context"
	"testing"

	"github.com/tronrun/agentruntime/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: ":memory:", Dimension: 4})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := "test session"
	sess, evt, err := s.CreateSession(ctx, "claude-sonnet-4-5", "/tmp/project", &title)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if sess.ID == "" {
		t.Error("session id should be assigned")
	}
	if evt.Type != store.EventSessionStart {
		t.Errorf("event type = %q, want %q", evt.Type, store.EventSessionStart)
	}
	if sess.HeadEventID != evt.ID {
		t.Errorf("head event id = %q, want %q", sess.HeadEventID, evt.ID)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if got.Model != "claude-sonnet-4-5" {
		t.Errorf("model = %q, want claude-sonnet-4-5", got.Model)
	}
	if got.Title == nil || *got.Title != title {
		t.Errorf("title = %v, want %q", got.Title, title)
	}

	branches, err := s.ListBranches(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListBranches error: %v", err)
	}
	if len(branches) != 1 || !branches[0].IsDefault || branches[0].RootEventID != evt.ID {
		t.Errorf("branches = %+v, want one default branch rooted at the start event", branches)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), "sess_missing")
	if err != store.ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestAppend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, _, err := s.CreateSession(ctx, "claude-sonnet-4-5", "/tmp/project", nil)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	evt, err := s.Append(ctx, sess.ID, store.EventMessageUser, `{"text":"hello"}`, nil)
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if evt.Sequence != 2 {
		t.Errorf("sequence = %d, want 2", evt.Sequence)
	}

	events, err := s.GetEventsBySession(ctx, sess.ID, store.ListEventsOptions{})
	if err != nil {
		t.Fatalf("GetEventsBySession error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Type != store.EventSessionStart || events[1].Type != store.EventMessageUser {
		t.Errorf("unexpected event order: %+v", events)
	}
}

func TestAppendAfterEndFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, _, err := s.CreateSession(ctx, "claude-sonnet-4-5", "/tmp/project", nil)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if err := s.EndSession(ctx, sess.ID); err != nil {
		t.Fatalf("EndSession error: %v", err)
	}

	_, err = s.Append(ctx, sess.ID, store.EventMessageUser, `{}`, nil)
	if err != store.ErrSessionEnded {
		t.Errorf("err = %v, want ErrSessionEnded", err)
	}
}

func TestAppendUnknownSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(context.Background(), "sess_missing", store.EventMessageUser, `{}`, nil)
	if err != store.ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess1, _, _ := s.CreateSession(ctx, "claude-sonnet-4-5", "/tmp/a", nil)
	_, _, _ = s.CreateSession(ctx, "claude-sonnet-4-5", "/tmp/b", nil)
	if err := s.EndSession(ctx, sess1.ID); err != nil {
		t.Fatalf("EndSession error: %v", err)
	}

	active := false
	sessions, err := s.ListSessions(ctx, store.ListSessionsOptions{Ended: &active})
	if err != nil {
		t.Fatalf("ListSessions error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("len(sessions) = %d, want 1", len(sessions))
	}
}

func TestForkCopiesPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, root, err := s.CreateSession(ctx, "claude-sonnet-4-5", "/tmp/project", nil)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	mid, err := s.Append(ctx, sess.ID, store.EventMessageUser, `{"text":"first"}`, nil)
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if _, err := s.Append(ctx, sess.ID, store.EventMessageAssistant, `{"text":"second"}`, nil); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	forked, forkEvt, err := s.Fork(ctx, mid.ID, nil)
	if err != nil {
		t.Fatalf("Fork error: %v", err)
	}
	if forked.ID == sess.ID {
		t.Error("forked session should have a new id")
	}

	events, err := s.GetEventsBySession(ctx, forked.ID, store.ListEventsOptions{})
	if err != nil {
		t.Fatalf("GetEventsBySession error: %v", err)
	}
	// root + mid copied, plus the synthesized session.forked event
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[2].ID != forkEvt.ID {
		t.Errorf("last event should be the fork marker")
	}
	if events[0].ID != root.ID || events[1].ID != mid.ID {
		t.Errorf("forked events should preserve original ids: %+v", events)
	}

	// original session untouched
	origEvents, err := s.GetEventsBySession(ctx, sess.ID, store.ListEventsOptions{})
	if err != nil {
		t.Fatalf("GetEventsBySession (orig) error: %v", err)
	}
	if len(origEvents) != 3 {
		t.Fatalf("original session should still have 3 events, got %d", len(origEvents))
	}
}

func TestRewindSoftAndHard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, root, err := s.CreateSession(ctx, "claude-sonnet-4-5", "/tmp/project", nil)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if _, err := s.Append(ctx, sess.ID, store.EventMessageUser, `{}`, nil); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	if err := s.Rewind(ctx, sess.ID, root.ID, false); err != nil {
		t.Fatalf("soft Rewind error: %v", err)
	}
	events, err := s.GetEventsBySession(ctx, sess.ID, store.ListEventsOptions{})
	if err != nil {
		t.Fatalf("GetEventsBySession error: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("soft rewind should preserve events, got %d", len(events))
	}
	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if got.HeadEventID != root.ID {
		t.Errorf("head = %q, want %q", got.HeadEventID, root.ID)
	}

	if err := s.Rewind(ctx, sess.ID, root.ID, true); err != nil {
		t.Fatalf("hard Rewind error: %v", err)
	}
	events, err = s.GetEventsBySession(ctx, sess.ID, store.ListEventsOptions{})
	if err != nil {
		t.Fatalf("GetEventsBySession error: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("hard rewind should delete trailing events, got %d", len(events))
	}
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, _, err := s.CreateSession(ctx, "claude-sonnet-4-5", "/tmp/project", nil)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if _, err := s.Append(ctx, sess.ID, store.EventMessageUser, `{"text":"the quick brown fox jumps"}`, nil); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if _, err := s.Append(ctx, sess.ID, store.EventMessageAssistant, `{"text":"nothing relevant here"}`, nil); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	results, err := s.Search(ctx, "quick", store.SearchOptions{})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].SessionID != sess.ID {
		t.Errorf("sessionID = %q, want %q", results[0].SessionID, sess.ID)
	}
}

func TestVectorIndexAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, root, err := s.CreateSession(ctx, "claude-sonnet-4-5", "/tmp/project", nil)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	other, err := s.Append(ctx, sess.ID, store.EventMessageUser, `{}`, nil)
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}

	if err := s.IndexVector(ctx, store.MemoryVector{EventID: root.ID, WorkspaceID: sess.WorkspaceID, Embedding: []float32{1, 0, 0, 0}}); err != nil {
		t.Fatalf("IndexVector error: %v", err)
	}
	if err := s.IndexVector(ctx, store.MemoryVector{EventID: other.ID, WorkspaceID: sess.WorkspaceID, Embedding: []float32{0, 1, 0, 0}}); err != nil {
		t.Fatalf("IndexVector error: %v", err)
	}

	results, err := s.SearchVectors(ctx, []float32{1, 0, 0, 0}, store.VectorSearchOptions{Limit: 1})
	if err != nil {
		t.Fatalf("SearchVectors error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].EventID != root.ID {
		t.Errorf("top match = %q, want %q", results[0].EventID, root.ID)
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("similarity = %v, want ~1.0", results[0].Similarity)
	}

	if err := s.IndexVector(ctx, store.MemoryVector{EventID: root.ID, WorkspaceID: sess.WorkspaceID, Embedding: []float32{1, 1}}); err != store.ErrDimensionMismatch {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestBlobRoundtripAndDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	data := []byte("some opaque content")
	id1, err := s.PutBlob(ctx, data)
	if err != nil {
		t.Fatalf("PutBlob error: %v", err)
	}
	id2, err := s.PutBlob(ctx, data)
	if err != nil {
		t.Fatalf("PutBlob error: %v", err)
	}
	if id1 != id2 {
		t.Errorf("identical content should dedup to same blob id, got %q and %q", id1, id2)
	}

	got, err := s.GetBlobContent(ctx, id1)
	if err != nil {
		t.Fatalf("GetBlobContent error: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}

	_, err = s.GetBlobContent(ctx, "blob_missing")
	if err != store.ErrBlobNotFound {
		t.Errorf("err = %v, want ErrBlobNotFound", err)
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, _, err := s.CreateSession(ctx, "claude-sonnet-4-5", "/tmp/project", nil)
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession error: %v", err)
	}
	if _, err := s.GetSession(ctx, sess.ID); err != store.ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, _, err := s.CreateSession(ctx, "claude-sonnet-4-5", "/tmp/project", nil); err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if st.SessionCount != 1 {
		t.Errorf("SessionCount = %d, want 1", st.SessionCount)
	}
	if st.EventCount != 1 {
		t.Errorf("EventCount = %d, want 1", st.EventCount)
	}
}

func TestSchema(t *testing.T) {
	s := newTestStore(t)
	tables, err := s.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema error: %v", err)
	}
	if len(tables) == 0 {
		t.Error("expected at least one table definition")
	}
}

func TestGetLogsIsEmptyStub(t *testing.T) {
	s := newTestStore(t)
	logs, err := s.GetLogs(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetLogs error: %v", err)
	}
	if logs != nil {
		t.Errorf("GetLogs should return nil, got %v", logs)
	}
}
