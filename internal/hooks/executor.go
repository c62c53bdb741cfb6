package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tronrun/agentruntime/internal/reliability"
)

// ExecutorConfig bounds hook execution.
type ExecutorConfig struct {
	BlockingTimeout       time.Duration
	BackgroundConcurrency int64
	CircuitThreshold      int
	CircuitCooldown       time.Duration
}

// DefaultExecutorConfig matches the documented defaults: 30s handler
// timeout, 32 background permits, breaker threshold 3 / cooldown 60s.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		BlockingTimeout:       30 * time.Second,
		BackgroundConcurrency: 32,
		CircuitThreshold:      3,
		CircuitCooldown:       60 * time.Second,
	}
}

// Executor dispatches hook invocations to registered handlers.
type Executor struct {
	cfg      ExecutorConfig
	breakers *reliability.Registry
	bgSem    *semaphore.Weighted
	bgWG     sync.WaitGroup

	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewExecutor creates an executor with the given bounds.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.BlockingTimeout <= 0 {
		cfg.BlockingTimeout = 30 * time.Second
	}
	if cfg.BackgroundConcurrency <= 0 {
		cfg.BackgroundConcurrency = 32
	}
	return &Executor{
		cfg:      cfg,
		breakers: reliability.NewRegistry(cfg.CircuitThreshold, cfg.CircuitCooldown),
		bgSem:    semaphore.NewWeighted(cfg.BackgroundConcurrency),
		handlers: make(map[Type][]Handler),
	}
}

// Register adds a handler for one hook type, keeping the list sorted
// by priority (lower number runs first).
func (e *Executor) Register(t Type, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = append(e.handlers[t], h)
	sort.SliceStable(e.handlers[t], func(i, j int) bool {
		return e.handlers[t][i].Priority() < e.handlers[t][j].Priority()
	})
}

func (e *Executor) handlersFor(t Type) []Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Handler, len(e.handlers[t]))
	copy(out, e.handlers[t])
	return out
}

// RunBlocking runs handlers sequentially; the first Block or Modify
// result short-circuits. A handler whose breaker is open is skipped.
// Timeout and panic both count as a breaker failure; a timed-out
// handler fails open (Continue).
func (e *Executor) RunBlocking(ctx context.Context, in Input) Result {
	for _, h := range e.handlersFor(in.Type) {
		breaker := e.breakers.Get(breakerKey(in.Type, h))
		result, err := reliability.Execute(breaker, func() (Result, error) {
			return e.invokeWithTimeout(ctx, h, in)
		})
		if errors.Is(err, reliability.ErrCircuitOpen) {
			slog.Warn("hooks: handler skipped, circuit open", "hook", in.Type, "handler", h.Name())
			continue
		}
		if err != nil {
			slog.Warn("hooks: handler failed", "hook", in.Type, "handler", h.Name(), "error", err)
			continue // fail open
		}

		if result.Decision == DecisionBlock || result.Decision == DecisionModify {
			return result
		}
	}
	return ContinueResult()
}

// RunBackground dispatches handlers concurrently under the bounded
// semaphore. Returns once every handler is dispatched, waiting for a
// permit while all are in use; results are discarded and timeouts
// logged.
func (e *Executor) RunBackground(ctx context.Context, in Input) {
	for _, h := range e.handlersFor(in.Type) {
		h := h
		breaker := e.breakers.Get(breakerKey(in.Type, h))
		if !breaker.Allow() {
			continue
		}
		if err := e.bgSem.Acquire(ctx, 1); err != nil {
			return
		}
		e.bgWG.Add(1)
		go func() {
			defer e.bgWG.Done()
			defer e.bgSem.Release(1)
			if _, err := e.invokeWithTimeout(ctx, h, in); err != nil {
				breaker.RecordFailure()
				slog.Warn("hooks: background handler failed", "hook", in.Type, "handler", h.Name(), "error", err)
				return
			}
			breaker.RecordSuccess()
		}()
	}
}

// Drain waits for outstanding background handlers, up to timeout.
func (e *Executor) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// invokeWithTimeout runs one handler under the blocking timeout,
// converting panics into errors so a misbehaving handler trips its
// breaker instead of crashing the run.
func (e *Executor) invokeWithTimeout(ctx context.Context, h Handler, in Input) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.BlockingTimeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, err := h.Handle(ctx, in)
		ch <- outcome{result: result, err: err}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("handler timeout after %s: %w", e.cfg.BlockingTimeout, ctx.Err())
	}
}

func breakerKey(t Type, h Handler) string {
	return "hook:" + string(t) + ":" + h.Name()
}
