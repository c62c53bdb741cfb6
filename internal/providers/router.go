package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ProviderNameForModel maps a model id to the adapter family that
// serves it.
func ProviderNameForModel(model string) string {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "claude"):
		return "anthropic"
	case strings.HasPrefix(lower, "gemini"):
		return "gemini"
	default:
		return "openai"
	}
}

// ModelRouter dispatches each Stream call to the registered adapter
// for the requested model's family. Each registered provider is
// expected to carry its own reliability wrapper, so breakers and
// retry budgets stay per-provider.
type ModelRouter struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewModelRouter creates an empty router.
func NewModelRouter() *ModelRouter {
	return &ModelRouter{providers: make(map[string]Provider)}
}

// Register installs the adapter for one family name ("anthropic",
// "openai", "gemini").
func (r *ModelRouter) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

func (r *ModelRouter) Name() string { return "router" }

func (r *ModelRouter) Stream(ctx context.Context, req Request) <-chan StreamEvent {
	name := ProviderNameForModel(req.Model)
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		out := make(chan StreamEvent, 1)
		out <- StreamEvent{Kind: EventError, Err: &ClassifiedError{
			Kind:      ErrorKindInvalidModel,
			Retryable: false,
			Err:       fmt.Errorf("no provider registered for model %q (family %s)", req.Model, name),
		}}
		close(out)
		return out
	}
	return p.Stream(ctx, req)
}
