package providers

import (
	"context"
	"time"

	"github.com/tronrun/agentruntime/internal/reliability"
)

// ReliableProvider decorates a Provider with retry and a circuit
// breaker. Retries apply only until the inner stream
// has yielded its first event; a mid-stream error surfaces directly.
// While the breaker is open, calls short-circuit with
// ErrProviderOverloaded without touching the inner provider.
type ReliableProvider struct {
	inner   Provider
	cfg     RetryConfig
	breaker *reliability.CircuitBreaker
}

// NewReliableProvider wraps inner with the default retry policy and a
// fresh breaker (threshold 3, cooldown 60s).
func NewReliableProvider(inner Provider) *ReliableProvider {
	return NewReliableProviderWith(inner, DefaultRetryConfig(), reliability.NewCircuitBreaker(3, 60*time.Second))
}

// NewReliableProviderWith wraps inner with explicit policy knobs.
func NewReliableProviderWith(inner Provider, cfg RetryConfig, breaker *reliability.CircuitBreaker) *ReliableProvider {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &ReliableProvider{inner: inner, cfg: cfg, breaker: breaker}
}

func (r *ReliableProvider) Name() string { return r.inner.Name() }

func (r *ReliableProvider) Stream(ctx context.Context, req Request) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)

		if !r.breaker.Allow() {
			out <- StreamEvent{Kind: EventError, Err: &ClassifiedError{
				Kind:      ErrorKindAPI,
				Retryable: false,
				Err:       ErrProviderOverloaded,
			}}
			return
		}

		var lastErr *ClassifiedError
		for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
			if ctx.Err() != nil {
				out <- ErrorEvent(ctx.Err())
				return
			}

			delivered, termErr := r.relay(ctx, req, out)
			if termErr == nil {
				r.breaker.RecordSuccess()
				return
			}
			if delivered {
				// Mid-stream failure: already relayed; never retried.
				r.breaker.RecordFailure()
				return
			}

			lastErr = termErr
			if !termErr.Retryable || attempt >= r.cfg.MaxAttempts {
				break
			}

			delay := BackoffDelay(attempt, r.cfg)
			if termErr.RetryAfter > 0 {
				delay = termErr.RetryAfter
			}
			out <- StreamEvent{Kind: EventRetryAttempt, Attempt: attempt, RetryDelay: delay}
			select {
			case <-ctx.Done():
				out <- ErrorEvent(ctx.Err())
				return
			case <-time.After(delay):
			}
		}

		r.breaker.RecordFailure()
		out <- StreamEvent{Kind: EventError, Err: lastErr}
	}()
	return out
}

// relay consumes one inner stream attempt. delivered reports whether
// any non-error event reached the consumer; termErr is non-nil when
// the attempt ended in an Error event. Errors arriving before the
// first event are swallowed here so the caller can retry; everything
// else is forwarded.
func (r *ReliableProvider) relay(ctx context.Context, req Request, out chan<- StreamEvent) (delivered bool, termErr *ClassifiedError) {
	for ev := range r.inner.Stream(ctx, req) {
		if ev.Kind == EventError {
			if delivered {
				out <- ev
			}
			return delivered, ev.Err
		}
		delivered = true
		out <- ev
	}
	return delivered, termErr
}
