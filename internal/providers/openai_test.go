package providers

import (
	"io"
	"strings"
	"testing"
)

// drive feeds a synthetic Responses SSE body through the state machine
// and collects the emitted events.
func drive(t *testing.T, body string) []StreamEvent {
	t.Helper()
	p := NewOpenAIProvider(StaticAPIKey("test"))
	out := make(chan StreamEvent, 128)
	done := make(chan struct{})
	var events []StreamEvent
	go func() {
		for ev := range out {
			events = append(events, ev)
		}
		close(done)
	}()
	p.consumeSSE(io.NopCloser(strings.NewReader(body)), out)
	close(out)
	<-done
	return events
}

func sse(datas ...string) string {
	var b strings.Builder
	for _, d := range datas {
		b.WriteString("data: ")
		b.WriteString(d)
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestResponsesTextStream(t *testing.T) {
	events := drive(t, sse(
		`{"type":"response.output_text.delta","delta":"hel"}`,
		`{"type":"response.output_text.delta","delta":"lo"}`,
		`{"type":"response.completed","response":{"output":[],"usage":{"input_tokens":10,"output_tokens":2}}}`,
	))

	kinds := eventKinds(events)
	want := []StreamEventKind{EventTextStart, EventTextDelta, EventTextDelta, EventTextEnd, EventDone}
	assertKinds(t, kinds, want)

	final := events[len(events)-1]
	if final.StopReason != StopReasonStop {
		t.Errorf("stop reason = %q, want stop", final.StopReason)
	}
	if final.Usage.Input != 10 || final.Usage.Output != 2 {
		t.Errorf("usage = %+v", final.Usage)
	}
	if got := final.Message.Content[0].Text; got != "hello" {
		t.Errorf("assembled text = %q", got)
	}
}

func TestResponsesToolCallStream(t *testing.T) {
	events := drive(t, sse(
		`{"type":"response.output_item.added","item":{"id":"item_1","type":"function_call","call_id":"call_1","name":"Read"}}`,
		`{"type":"response.function_call_arguments.delta","item_id":"item_1","delta":"{\"file_path\":"}`,
		`{"type":"response.function_call_arguments.delta","item_id":"item_1","delta":"\"/tmp/a.txt\"}"}`,
		`{"type":"response.completed","response":{"output":[],"usage":{"input_tokens":5,"output_tokens":1}}}`,
	))

	final := events[len(events)-1]
	if final.Kind != EventDone {
		t.Fatalf("last event = %v", final.Kind)
	}
	if final.StopReason != StopReasonToolCalls {
		t.Errorf("stop reason = %q, want tool_calls", final.StopReason)
	}

	var end *StreamEvent
	for i := range events {
		if events[i].Kind == EventToolCallEnd {
			end = &events[i]
		}
	}
	if end == nil {
		t.Fatal("no ToolCallEnd emitted")
	}
	if end.ToolCall.ID != "call_1" || end.ToolCall.Name != "Read" {
		t.Errorf("tool call = %+v", end.ToolCall)
	}
	if string(end.ToolCall.Arguments) != `{"file_path":"/tmp/a.txt"}` {
		t.Errorf("arguments = %s", end.ToolCall.Arguments)
	}
}

func TestReasoningTextSupersedesSummary(t *testing.T) {
	events := drive(t, sse(
		`{"type":"response.reasoning_summary_text.delta","delta":"summary thought"}`,
		`{"type":"response.reasoning_text.delta","delta":"real thought"}`,
		`{"type":"response.completed","response":{"output":[],"usage":{"input_tokens":1,"output_tokens":1}}}`,
	))

	final := events[len(events)-1]
	if len(final.Message.Content) != 1 || final.Message.Content[0].Type != "thinking" {
		t.Fatalf("message content = %+v", final.Message.Content)
	}
	if got := final.Message.Content[0].Thinking; got != "real thought" {
		t.Errorf("thinking = %q, want summary text discarded", got)
	}
}

func TestSummaryAfterReasoningTextSkipped(t *testing.T) {
	events := drive(t, sse(
		`{"type":"response.reasoning_text.delta","delta":"real"}`,
		`{"type":"response.reasoning_summary_text.delta","delta":" summary"}`,
		`{"type":"response.completed","response":{"output":[],"usage":{"input_tokens":1,"output_tokens":1}}}`,
	))

	final := events[len(events)-1]
	if got := final.Message.Content[0].Thinking; got != "real" {
		t.Errorf("thinking = %q, summary should be skipped once reasoning_text seen", got)
	}
}

func TestSummaryDeduplicated(t *testing.T) {
	events := drive(t, sse(
		`{"type":"response.reasoning_summary_text.delta","delta":"dup"}`,
		`{"type":"response.reasoning_summary_text.delta","delta":"dup"}`,
		`{"type":"response.completed","response":{"output":[],"usage":{"input_tokens":1,"output_tokens":1}}}`,
	))
	final := events[len(events)-1]
	if got := final.Message.Content[0].Thinking; got != "dup" {
		t.Errorf("thinking = %q, duplicate summary delta should be dropped", got)
	}
}

func TestCompletedMergesUnstreamedItems(t *testing.T) {
	events := drive(t, sse(
		`{"type":"response.completed","response":{"output":[{"id":"item_9","type":"function_call","call_id":"call_9","name":"Bash","arguments":"{\"command\":\"ls\"}"}],"usage":{"input_tokens":1,"output_tokens":1}}}`,
	))

	final := events[len(events)-1]
	if final.StopReason != StopReasonToolCalls {
		t.Fatalf("stop reason = %q", final.StopReason)
	}
	if len(final.Message.Content) != 1 || final.Message.Content[0].ToolUseID != "call_9" {
		t.Errorf("merged call missing: %+v", final.Message.Content)
	}
}

func TestMalformedArgumentsKeptUnderSentinel(t *testing.T) {
	events := drive(t, sse(
		`{"type":"response.output_item.added","item":{"id":"i","type":"function_call","call_id":"call_x","name":"Bash"}}`,
		`{"type":"response.function_call_arguments.delta","item_id":"i","delta":"{not json"}`,
		`{"type":"response.completed","response":{"output":[],"usage":{}}}`,
	))
	final := events[len(events)-1]
	args := string(final.Message.Content[0].Arguments)
	if !strings.Contains(args, "_raw_arguments") {
		t.Errorf("unparseable args should fall back to sentinel key, got %s", args)
	}
}

func eventKinds(events []StreamEvent) []StreamEventKind {
	kinds := make([]StreamEventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func assertKinds(t *testing.T, got, want []StreamEventKind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("event kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event kinds = %v, want %v", got, want)
		}
	}
}
