// Package orchestrator coordinates sessions: at most one run per
// session, a global concurrency permit pool, the broadcast bus, and
// the tool-call demux interactive tools resolve through.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/tronrun/agentruntime/internal/reconstruct"
	"github.com/tronrun/agentruntime/internal/store"
)

// ErrSessionBusy means the session already has an active run.
var ErrSessionBusy = errors.New("session already has an active run")

// ServerBusyError means no run permits are available.
type ServerBusyError struct {
	Current int
	Max     int
}

func (e *ServerBusyError) Error() string {
	return fmt.Sprintf("server busy: %d/%d runs active", e.Current, e.Max)
}

// run tracks one active run.
type run struct {
	runID  string
	cancel context.CancelFunc
}

// Orchestrator is the multi-session coordinator.
type Orchestrator struct {
	store store.EventStore
	bus   *Bus

	sem     *semaphore.Weighted
	maxRuns int

	mu           sync.Mutex
	runs         map[string]*run // session id -> active run
	toolCalls    map[string]chan string
	sessionCalls map[string][]string // session id -> pending tool call ids
	states       map[string]*reconstruct.State
}

// New creates an orchestrator with maxRuns global permits.
func New(st store.EventStore, bus *Bus, maxRuns int) *Orchestrator {
	if maxRuns <= 0 {
		maxRuns = 8
	}
	return &Orchestrator{
		store:     st,
		bus:       bus,
		sem:       semaphore.NewWeighted(int64(maxRuns)),
		maxRuns:   maxRuns,
		runs:         make(map[string]*run),
		toolCalls:    make(map[string]chan string),
		sessionCalls: make(map[string][]string),
		states:       make(map[string]*reconstruct.State),
	}
}

// Bus exposes the broadcast bus.
func (o *Orchestrator) Bus() *Bus { return o.bus }

// Store exposes the event store.
func (o *Orchestrator) Store() store.EventStore { return o.store }

// StartRun installs a run for the session and returns its cancel
// context. ErrSessionBusy if the session already has one;
// ServerBusyError if every permit is taken.
func (o *Orchestrator) StartRun(sessionID, runID string) (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.runs[sessionID]; busy {
		return nil, ErrSessionBusy
	}
	if !o.sem.TryAcquire(1) {
		return nil, &ServerBusyError{Current: len(o.runs), Max: o.maxRuns}
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.runs[sessionID] = &run{runID: runID, cancel: cancel}
	slog.Info("run started", "session_id", sessionID, "run_id", runID, "active", len(o.runs))
	return ctx, nil
}

// CompleteRun removes the session's run entry, releasing its permit.
func (o *Orchestrator) CompleteRun(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.runs[sessionID]; ok {
		r.cancel()
		delete(o.runs, sessionID)
		o.sem.Release(1)
	}
}

// Abort cancels the session's active run, if any; the pipeline unwinds
// cooperatively and calls CompleteRun on its way out. Pending tool
// calls for the session are cancelled — their receivers observe a
// closed channel.
func (o *Orchestrator) Abort(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range o.sessionCalls[sessionID] {
		if ch, ok := o.toolCalls[id]; ok {
			close(ch)
			delete(o.toolCalls, id)
		}
	}
	delete(o.sessionCalls, sessionID)
	if r, ok := o.runs[sessionID]; ok {
		r.cancel()
		return true
	}
	return false
}

// ActiveRunID returns the session's run id, if a run is active.
func (o *Orchestrator) ActiveRunID(sessionID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[sessionID]
	if !ok {
		return "", false
	}
	return r.runID, true
}

// RegisterToolCall installs a oneshot for an interactive tool call.
// The returned channel yields the externally-produced value, or closes
// without one on cancellation.
func (o *Orchestrator) RegisterToolCall(sessionID, id string) <-chan string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan string, 1)
	o.toolCalls[id] = ch
	o.sessionCalls[sessionID] = append(o.sessionCalls[sessionID], id)
	return ch
}

// ResolveToolCall delivers the value for a registered tool call.
// Returns false when the id is unknown (already resolved, cancelled,
// or never registered).
func (o *Orchestrator) ResolveToolCall(id, value string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch, ok := o.toolCalls[id]
	if !ok {
		return false
	}
	ch <- value
	close(ch)
	delete(o.toolCalls, id)
	o.dropSessionCallLocked(id)
	return true
}

// ResolvePendingForSession resolves every pending call in the session
// with value; the next user prompt is the out-of-band answer to a
// stop-turn tool.
func (o *Orchestrator) ResolvePendingForSession(sessionID, value string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range o.sessionCalls[sessionID] {
		if ch, ok := o.toolCalls[id]; ok {
			ch <- value
			close(ch)
			delete(o.toolCalls, id)
		}
	}
	delete(o.sessionCalls, sessionID)
}

// HasPendingToolCall reports whether id awaits resolution.
func (o *Orchestrator) HasPendingToolCall(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.toolCalls[id]
	return ok
}

// CancelToolCall drops a pending oneshot; its receiver observes a
// closed channel.
func (o *Orchestrator) CancelToolCall(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ch, ok := o.toolCalls[id]; ok {
		close(ch)
		delete(o.toolCalls, id)
	}
	o.dropSessionCallLocked(id)
}

func (o *Orchestrator) dropSessionCallLocked(id string) {
	for sessionID, ids := range o.sessionCalls {
		kept := ids[:0]
		for _, existing := range ids {
			if existing != id {
				kept = append(kept, existing)
			}
		}
		if len(kept) == 0 {
			delete(o.sessionCalls, sessionID)
		} else {
			o.sessionCalls[sessionID] = kept
		}
	}
}

// State returns the cached reconstructed state for a session, folding
// events from the store on a cache miss.
func (o *Orchestrator) State(ctx context.Context, sessionID string) (*reconstruct.State, error) {
	o.mu.Lock()
	if st, ok := o.states[sessionID]; ok {
		o.mu.Unlock()
		return st, nil
	}
	o.mu.Unlock()

	events, err := o.store.GetEventsBySession(ctx, sessionID, store.ListEventsOptions{})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, store.ErrSessionNotFound
	}
	st := reconstruct.Reconstruct(events)

	o.mu.Lock()
	o.states[sessionID] = st
	o.mu.Unlock()
	return st, nil
}

// InvalidateState evicts a session's cached projection; the next State
// call reconstructs from the store.
func (o *Orchestrator) InvalidateState(sessionID string) {
	o.mu.Lock()
	delete(o.states, sessionID)
	o.mu.Unlock()
}

// Shutdown cancels every active run and pending tool call, and ends
// every cached active session.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	sessions := make([]string, 0, len(o.runs))
	for sessionID, r := range o.runs {
		r.cancel()
		sessions = append(sessions, sessionID)
	}
	for id, ch := range o.toolCalls {
		close(ch)
		delete(o.toolCalls, id)
	}
	o.sessionCalls = make(map[string][]string)
	cached := make([]string, 0, len(o.states))
	for sessionID := range o.states {
		cached = append(cached, sessionID)
	}
	o.states = make(map[string]*reconstruct.State)
	o.mu.Unlock()

	for _, sessionID := range cached {
		if err := o.store.EndSession(ctx, sessionID); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
			slog.Warn("shutdown: end session", "session_id", sessionID, "error", err)
		}
	}
	slog.Info("orchestrator shut down", "aborted_runs", len(sessions))
}
