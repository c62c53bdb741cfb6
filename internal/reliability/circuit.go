// Package reliability holds the retry/circuit-breaker primitives shared
// by the provider layer and the hook executor. Each consumer keeps its
// own breaker instances; only the mechanism is shared.
package reliability

import (
	"errors"
	"sync"
	"time"
)

// State is the lifecycle state of a CircuitBreaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Execute while the breaker is open and
// its cooldown has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker trips after a run of consecutive failures and refuses
// further calls until a cooldown elapses, at which point it lets a
// single half-open probe decide whether to close again.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	openedSince time.Time
}

// NewCircuitBreaker creates a breaker that opens after threshold
// consecutive failures and stays open for cooldown before probing again.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, state: StateClosed}
}

// Allow reports whether a call may proceed, transitioning open ->
// half_open once the cooldown has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedSince) >= cb.cooldown {
			cb.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker, clearing the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
}

// RecordFailure counts a failure, opening the breaker once the
// threshold is reached (or immediately, on a failed half-open probe).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
		cb.state = StateOpen
		cb.openedSince = time.Now()
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn under breaker protection, short-circuiting with
// ErrCircuitOpen while open.
func Execute[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	if !cb.Allow() {
		return zero, ErrCircuitOpen
	}
	result, err := fn()
	if err != nil {
		cb.RecordFailure()
		return zero, err
	}
	cb.RecordSuccess()
	return result, nil
}

// Registry hands out a breaker per name, lazily constructing one on
// first use. The hook executor keys by hook type and handler name, so
// each handler trips independently; the provider wrapper holds a single
// CircuitBreaker of its own rather than a Registry.
type Registry struct {
	threshold int
	cooldown  time.Duration

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry whose breakers all share the given
// threshold/cooldown.
func NewRegistry(threshold int, cooldown time.Duration) *Registry {
	return &Registry{
		threshold: threshold,
		cooldown:  cooldown,
		breakers:  make(map[string]*CircuitBreaker),
	}
}

// Get returns the named breaker, creating it under a double-checked
// lock if this is the first reference.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(r.threshold, r.cooldown)
	r.breakers[name] = cb
	return cb
}
