package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tronrun/agentruntime/internal/reconstruct"
	"github.com/tronrun/agentruntime/internal/reliability"
	"github.com/tronrun/agentruntime/internal/tokens"
)

// scriptedProvider replays a fixed sequence of attempt outcomes.
type scriptedProvider struct {
	attempts [][]StreamEvent
	calls    int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Stream(ctx context.Context, req Request) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	idx := s.calls
	if idx >= len(s.attempts) {
		idx = len(s.attempts) - 1
	}
	s.calls++
	go func() {
		defer close(out)
		for _, ev := range s.attempts[idx] {
			out <- ev
		}
	}()
	return out
}

func doneEvent(text string) StreamEvent {
	return StreamEvent{
		Kind: EventDone,
		Message: &reconstruct.Message{Role: reconstruct.RoleAssistant, Content: []reconstruct.ContentBlock{
			{Type: "text", Text: text},
		}},
		StopReason: StopReasonStop,
		Usage:      &tokens.RawUsage{Output: 1},
	}
}

func retryableErr() StreamEvent {
	return StreamEvent{Kind: EventError, Err: &ClassifiedError{
		Kind: ErrorKindAPI, Retryable: true, Err: errors.New("503"),
	}}
}

func fatalErr() StreamEvent {
	return StreamEvent{Kind: EventError, Err: &ClassifiedError{
		Kind: ErrorKindAuth, Retryable: false, Err: errors.New("401"),
	}}
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFactor: 0}
}

func collect(ch <-chan StreamEvent) []StreamEvent {
	var out []StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestReliableRetriesBeforeFirstEvent(t *testing.T) {
	inner := &scriptedProvider{attempts: [][]StreamEvent{
		{retryableErr()},
		{doneEvent("ok")},
	}}
	r := NewReliableProviderWith(inner, fastRetry(), reliability.NewCircuitBreaker(3, time.Minute))

	events := collect(r.Stream(context.Background(), Request{}))
	if inner.calls != 2 {
		t.Fatalf("calls = %d, want 2", inner.calls)
	}
	if events[0].Kind != EventRetryAttempt || events[0].Attempt != 1 {
		t.Errorf("first event = %+v, want RetryAttempt", events[0])
	}
	if events[len(events)-1].Kind != EventDone {
		t.Errorf("last event = %v, want Done", events[len(events)-1].Kind)
	}
}

func TestReliableNoRetryAfterFirstEvent(t *testing.T) {
	inner := &scriptedProvider{attempts: [][]StreamEvent{
		{{Kind: EventTextStart}, {Kind: EventTextDelta, Delta: "par"}, retryableErr()},
		{doneEvent("never")},
	}}
	r := NewReliableProviderWith(inner, fastRetry(), reliability.NewCircuitBreaker(3, time.Minute))

	events := collect(r.Stream(context.Background(), Request{}))
	if inner.calls != 1 {
		t.Fatalf("calls = %d; mid-stream errors must not be retried", inner.calls)
	}
	if events[len(events)-1].Kind != EventError {
		t.Errorf("last event = %v, want the mid-stream Error surfaced", events[len(events)-1].Kind)
	}
}

func TestReliableNonRetryableShortCircuits(t *testing.T) {
	inner := &scriptedProvider{attempts: [][]StreamEvent{{fatalErr()}}}
	r := NewReliableProviderWith(inner, fastRetry(), reliability.NewCircuitBreaker(3, time.Minute))

	events := collect(r.Stream(context.Background(), Request{}))
	if inner.calls != 1 {
		t.Fatalf("calls = %d, auth errors must not retry", inner.calls)
	}
	if events[0].Kind != EventError || events[0].Err.Kind != ErrorKindAuth {
		t.Errorf("events = %+v", events)
	}
}

func TestReliableCircuitOpensAndShortCircuits(t *testing.T) {
	inner := &scriptedProvider{attempts: [][]StreamEvent{{fatalErr()}}}
	breaker := reliability.NewCircuitBreaker(2, time.Hour)
	r := NewReliableProviderWith(inner, RetryConfig{MaxAttempts: 1}, breaker)

	collect(r.Stream(context.Background(), Request{}))
	collect(r.Stream(context.Background(), Request{}))
	if breaker.State() != reliability.StateOpen {
		t.Fatalf("breaker state = %v, want open after 2 failures", breaker.State())
	}

	callsBefore := inner.calls
	events := collect(r.Stream(context.Background(), Request{}))
	if inner.calls != callsBefore {
		t.Error("open breaker must not reach the inner provider")
	}
	if !errors.Is(events[0].Err, ErrProviderOverloaded) {
		t.Errorf("err = %v, want ErrProviderOverloaded", events[0].Err)
	}
}

func TestClassifyRetryability(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{"auth", &HTTPError{Status: 401}, ErrorKindAuth, false},
		{"invalid model", &HTTPError{Status: 404}, ErrorKindInvalidModel, false},
		{"rate limit", &HTTPError{Status: 429, RetryAfter: time.Second}, ErrorKindRateLimit, true},
		{"server error", &HTTPError{Status: 500}, ErrorKindAPI, true},
		{"client error", &HTTPError{Status: 400}, ErrorKindAPI, false},
		{"cancelled", context.Canceled, ErrorKindCancelled, false},
		{"transport", errors.New("connection refused"), ErrorKindHTTP, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ce := Classify(tc.err)
			if ce.Kind != tc.kind || ce.Retryable != tc.retryable {
				t.Errorf("Classify(%v) = {%s retryable=%v}, want {%s retryable=%v}",
					tc.err, ce.Kind, ce.Retryable, tc.kind, tc.retryable)
			}
			if IsRetryable(ce) != tc.retryable {
				t.Errorf("IsRetryable disagrees with classification for %v", tc.err)
			}
		})
	}
}

func TestRateLimitUsesServerDelay(t *testing.T) {
	ce := Classify(&HTTPError{Status: 429, RetryAfter: 3 * time.Second})
	if ce.RetryAfter != 3*time.Second {
		t.Errorf("RetryAfter = %v, want server-suggested 3s", ce.RetryAfter)
	}
}
