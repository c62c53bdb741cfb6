package tools

import (
	"fmt"
	"sync"

	"github.com/tronrun/agentruntime/internal/providers"
)

// Registry holds the tools available to one session, in registration
// order. Subagents get their own filtered clone — parent and child
// never share a registry.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the tool but
// keeps its original position.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions returns every tool's schema, in registration order, for
// the provider request.
func (r *Registry) Definitions() []providers.ToolDefinition {
	list := r.List()
	out := make([]providers.ToolDefinition, 0, len(list))
	for _, t := range list {
		out = append(out, t.Definition())
	}
	return out
}

// Filter selects which tools a subagent inherits.
type Filter struct {
	Kind  FilterKind
	Names []string
}

type FilterKind int

const (
	InheritAll FilterKind = iota
	Explicit
	Exclude
)

// Allows reports whether the filter admits the named tool.
func (f Filter) Allows(name string) bool {
	switch f.Kind {
	case Explicit:
		for _, n := range f.Names {
			if n == name {
				return true
			}
		}
		return false
	case Exclude:
		for _, n := range f.Names {
			if n == name {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// CloneFiltered builds a new registry containing only the
// filter-permitted tools. The clone is independent: later mutations of
// either registry do not affect the other.
func (r *Registry) CloneFiltered(f Filter) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewRegistry()
	for _, name := range r.order {
		if f.Allows(name) {
			clone.Register(r.tools[name])
		}
	}
	return clone
}

// String renders the filter for logs.
func (f Filter) String() string {
	switch f.Kind {
	case Explicit:
		return fmt.Sprintf("explicit%v", f.Names)
	case Exclude:
		return fmt.Sprintf("exclude%v", f.Names)
	default:
		return "inherit-all"
	}
}
