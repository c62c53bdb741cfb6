package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tronrun/agentruntime/internal/store"
)

// Spawn types recorded on the child session.
const (
	SpawnTypeTask   = "task"
	SpawnTypeSkill  = "skill"
	SpawnTypeCustom = "custom"
)

// DefaultMaxSubagentDepth of 1 means a subagent cannot spawn
// sub-subagents.
const DefaultMaxSubagentDepth = 1

// SessionSpawner is the slice of the event store the manager needs to
// create linked child sessions.
type SessionSpawner interface {
	CreateChildSession(ctx context.Context, model, workingDir string, title *string, spawningSessionID, spawnType string) (*store.Session, *store.Event, error)
	EndSession(ctx context.Context, sessionID string) error
}

// SubagentRunner executes a child session's pipeline to completion and
// returns the child's final text. Injected at wiring time so this
// package never imports the pipeline.
type SubagentRunner func(ctx context.Context, childSessionID, prompt string, registry *Registry) (string, error)

// SpawnRequest describes one child agent.
type SpawnRequest struct {
	Prompt    string
	Model     string
	SpawnType string
	Filter    Filter
	Title     string
}

// SubagentHandle tracks one running child.
type SubagentHandle struct {
	SessionID string
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	result string
	err    error
}

// Wait blocks until the child finishes or ctx is done, returning the
// child's final text.
func (h *SubagentHandle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Cancel aborts the child (and, transitively, its own descendants).
func (h *SubagentHandle) Cancel() { h.cancel() }

// SubagentManager spawns child sessions with filtered tool registries.
// A child's cancel context is derived from the parent run's, so
// aborting the parent cancels every descendant.
type SubagentManager struct {
	spawner  SessionSpawner
	runner   SubagentRunner
	registry *Registry
	maxDepth int

	mu       sync.Mutex
	children map[string]*SubagentHandle
}

// NewSubagentManager wires the manager. registry is the parent's tool
// set; children receive filtered clones, never the same instance.
func NewSubagentManager(spawner SessionSpawner, runner SubagentRunner, registry *Registry, maxDepth int) *SubagentManager {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxSubagentDepth
	}
	return &SubagentManager{
		spawner:  spawner,
		runner:   runner,
		registry: registry,
		maxDepth: maxDepth,
		children: make(map[string]*SubagentHandle),
	}
}

// Spawn creates and starts one child session. The returned handle's
// Wait yields the child's final text.
func (m *SubagentManager) Spawn(ctx context.Context, parent Context, req SpawnRequest) (*SubagentHandle, error) {
	depth := parent.SubagentDepth + 1
	if depth > m.maxDepth {
		return nil, fmt.Errorf("subagent depth %d exceeds limit %d", depth, m.maxDepth)
	}
	spawnType := req.SpawnType
	if spawnType == "" {
		spawnType = SpawnTypeTask
	}

	var title *string
	if req.Title != "" {
		title = &req.Title
	}
	child, _, err := m.spawner.CreateChildSession(ctx, req.Model, parent.WorkingDir, title, parent.SessionID, spawnType)
	if err != nil {
		return nil, fmt.Errorf("spawn subagent: %w", err)
	}

	childRegistry := m.registry.CloneFiltered(req.Filter)
	childCtx, cancel := context.WithCancel(ctx)
	handle := &SubagentHandle{
		SessionID: child.ID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.children[child.ID] = handle
	m.mu.Unlock()

	go func() {
		defer close(handle.done)
		defer cancel()

		result, err := m.runner(childCtx, child.ID, req.Prompt, childRegistry)
		handle.mu.Lock()
		handle.result = result
		handle.err = err
		handle.mu.Unlock()

		if endErr := m.spawner.EndSession(context.WithoutCancel(childCtx), child.ID); endErr != nil {
			slog.Warn("subagent: end child session", "session_id", child.ID, "error", endErr)
		}

		m.mu.Lock()
		delete(m.children, child.ID)
		m.mu.Unlock()
	}()

	slog.Info("subagent: spawned", "parent", parent.SessionID, "child", child.ID,
		"depth", depth, "filter", req.Filter.String())
	return handle, nil
}

// CancelAll aborts every running child.
func (m *SubagentManager) CancelAll() {
	m.mu.Lock()
	handles := make([]*SubagentHandle, 0, len(m.children))
	for _, h := range m.children {
		handles = append(handles, h)
	}
	m.mu.Unlock()
	for _, h := range handles {
		h.Cancel()
	}
}

// ActiveCount reports the number of running children.
func (m *SubagentManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.children)
}
