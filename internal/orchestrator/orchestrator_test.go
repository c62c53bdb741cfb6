package orchestrator

import (
	"testing"
	"time"

	"github.com/tronrun/agentruntime/pkg/protocol"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(8)
	_, a := bus.Subscribe()
	_, b := bus.Subscribe()

	bus.PublishTyped(protocol.EventNew, "sess_1", "run_1", map[string]string{"k": "v"})

	for name, ch := range map[string]<-chan protocol.Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Type != protocol.EventNew || ev.SessionID != "sess_1" {
				t.Errorf("%s got %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never received the event", name)
		}
	}
}

func TestBusDropsForLaggingSubscriber(t *testing.T) {
	bus := NewBus(1)
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	// Fill the buffer, then overflow: publishing must not block.
	done := make(chan struct{})
	go func() {
		bus.PublishTyped(protocol.EventNew, "s", "", nil)
		bus.PublishTyped(protocol.EventNew, "s", "", nil)
		bus.PublishTyped(protocol.EventNew, "s", "", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a lagging subscriber")
	}
	<-ch // at least the first event arrived
}

func TestToolCallOneshot(t *testing.T) {
	o := New(nil, NewBus(8), 2)

	ch := o.RegisterToolCall("sess_1", "toolu_1")
	if !o.HasPendingToolCall("toolu_1") {
		t.Fatal("call should be pending after registration")
	}
	if !o.ResolveToolCall("toolu_1", "answer") {
		t.Fatal("resolve should find the registered call")
	}
	if v, ok := <-ch; !ok || v != "answer" {
		t.Errorf("received (%q, %v)", v, ok)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after resolution")
	}
	if o.HasPendingToolCall("toolu_1") {
		t.Error("call should not be pending after resolution")
	}
	if o.ResolveToolCall("toolu_1", "again") {
		t.Error("double resolution must report failure")
	}
}

func TestResolvePendingForSession(t *testing.T) {
	o := New(nil, NewBus(8), 2)
	ch1 := o.RegisterToolCall("sess_1", "t1")
	ch2 := o.RegisterToolCall("sess_1", "t2")
	other := o.RegisterToolCall("sess_2", "t3")

	o.ResolvePendingForSession("sess_1", "the user's next message")

	for _, ch := range []<-chan string{ch1, ch2} {
		if v, ok := <-ch; !ok || v != "the user's next message" {
			t.Errorf("pending call got (%q, %v)", v, ok)
		}
	}
	if !o.HasPendingToolCall("t3") {
		t.Error("another session's pending call must be untouched")
	}
	select {
	case <-other:
		t.Error("other session's channel should stay open")
	default:
	}
}

func TestAbortCancelsPendingToolCalls(t *testing.T) {
	o := New(nil, NewBus(8), 2)
	if _, err := o.StartRun("sess_1", "run_1"); err != nil {
		t.Fatal(err)
	}
	ch := o.RegisterToolCall("sess_1", "t1")

	o.Abort("sess_1")

	if _, ok := <-ch; ok {
		t.Error("aborted session's oneshot must close without a value")
	}
	if o.HasPendingToolCall("t1") {
		t.Error("pending call should be gone after abort")
	}
}
