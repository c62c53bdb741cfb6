package providers

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/tronrun/agentruntime/internal/reconstruct"
)

func driveAnthropic(t *testing.T, body string) []StreamEvent {
	t.Helper()
	p := NewAnthropicProvider(StaticAPIKey("test"))
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

func anthropicSSE(pairs ...[2]string) string {
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString("event: ")
		b.WriteString(p[0])
		b.WriteString("\ndata: ")
		b.WriteString(p[1])
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestAnthropicTextAndThinkingStream(t *testing.T) {
	events := driveAnthropic(t, anthropicSSE(
		[2]string{"message_start", `{"message":{"usage":{"input_tokens":100,"cache_read_input_tokens":40,"cache_creation_input_tokens":10}}}`},
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"thinking"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"thinking_delta","thinking":"hmm"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"signature_delta","signature":"sig123"}}`},
		[2]string{"content_block_stop", `{"index":0}`},
		[2]string{"content_block_start", `{"index":1,"content_block":{"type":"text"}}`},
		[2]string{"content_block_delta", `{"index":1,"delta":{"type":"text_delta","text":"ok"}}`},
		[2]string{"content_block_stop", `{"index":1}`},
		[2]string{"message_delta", `{"delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":7}}`},
		[2]string{"message_stop", `{}`},
	))

	final := events[len(events)-1]
	if final.Kind != EventDone {
		t.Fatalf("last event = %v", final.Kind)
	}
	if final.StopReason != StopReasonStop {
		t.Errorf("stop reason = %q", final.StopReason)
	}
	if final.Usage.Input != 100 || final.Usage.Output != 7 || final.Usage.CacheRead != 40 || final.Usage.CacheCreation != 10 {
		t.Errorf("usage = %+v", final.Usage)
	}

	blocks := final.Message.Content
	if len(blocks) != 2 {
		t.Fatalf("blocks = %+v", blocks)
	}
	if blocks[0].Type != "thinking" || blocks[0].Thinking != "hmm" || blocks[0].Signature != "sig123" {
		t.Errorf("thinking block = %+v", blocks[0])
	}
	if blocks[1].Type != "text" || blocks[1].Text != "ok" {
		t.Errorf("text block = %+v", blocks[1])
	}

	var thinkEnd *StreamEvent
	for i := range events {
		if events[i].Kind == EventThinkingEnd {
			thinkEnd = &events[i]
		}
	}
	if thinkEnd == nil || thinkEnd.Signature != "sig123" {
		t.Error("ThinkingEnd should carry the accumulated signature")
	}
}

func TestAnthropicToolUseStream(t *testing.T) {
	events := driveAnthropic(t, anthropicSSE(
		[2]string{"message_start", `{"message":{"usage":{"input_tokens":5}}}`},
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"Read"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"input_json_delta","partial_json":"{\"file_path\":\"/tmp/a\"}"}}`},
		[2]string{"content_block_stop", `{"index":0}`},
		[2]string{"message_delta", `{"delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":3}}`},
		[2]string{"message_stop", `{}`},
	))

	final := events[len(events)-1]
	if final.StopReason != StopReasonToolCalls {
		t.Errorf("stop reason = %q, want tool_calls", final.StopReason)
	}
	block := final.Message.Content[0]
	if block.ToolUseID != "toolu_1" || block.ToolName != "Read" {
		t.Errorf("tool block = %+v", block)
	}
	if string(block.Arguments) != `{"file_path":"/tmp/a"}` {
		t.Errorf("arguments = %s", block.Arguments)
	}
}

func TestAnthropicRemappedIDUnremapped(t *testing.T) {
	events := driveAnthropic(t, anthropicSSE(
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"tool_use","id":"toolu_remap_abc","name":"Bash"}}`},
		[2]string{"content_block_stop", `{"index":0}`},
		[2]string{"message_delta", `{"delta":{"stop_reason":"tool_use"},"usage":{}}`},
		[2]string{"message_stop", `{}`},
	))
	final := events[len(events)-1]
	if got := final.Message.Content[0].ToolUseID; got != "call_abc" {
		t.Errorf("remapped id should be reversed on the way back, got %q", got)
	}
}

func TestAnthropicIdleTimeout(t *testing.T) {
	p := NewAnthropicProvider(StaticAPIKey("test"), WithAnthropicSSEIdleTimeout(30*time.Millisecond))
	// A reader that never delivers data and never ends.
	r, w := io.Pipe()
	defer w.Close()

	out := make(chan StreamEvent, 8)
	go func() {
		p.consumeSSE(r, out)
		close(out)
	}()

	select {
	case ev := <-out:
		if ev.Kind != EventError {
			t.Fatalf("event = %v, want Error", ev.Kind)
		}
		if !strings.Contains(ev.Err.Error(), "stream interrupted") {
			t.Errorf("err = %v, want StreamInterrupted", ev.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle timeout never fired")
	}
}

func TestBuildAnthropicMessagesDropsUnsignedThinking(t *testing.T) {
	msgs := []reconstruct.Message{
		{Role: reconstruct.RoleUser, Content: []reconstruct.ContentBlock{{Type: "text", Text: "hi"}}},
		{Role: reconstruct.RoleAssistant, Content: []reconstruct.ContentBlock{
			{Type: "thinking", Thinking: "unsigned"},
			{Type: "thinking", Thinking: "signed", Signature: "s"},
			{Type: "text", Text: "reply"},
		}},
	}
	wire := buildAnthropicMessages(msgs, false)
	if len(wire) != 2 {
		t.Fatalf("wire len = %d", len(wire))
	}
	content := wire[1]["content"].([]map[string]interface{})
	if len(content) != 2 {
		t.Fatalf("assistant blocks = %d, want unsigned thinking dropped", len(content))
	}
	if content[0]["type"] != "thinking" || content[0]["signature"] != "s" {
		t.Errorf("signed thinking should survive: %+v", content[0])
	}
}

func TestBuildAnthropicSystemCacheBreakpoints(t *testing.T) {
	blocks := []SystemBlock{
		{Content: "core", Stability: StabilityStable, Label: LabelCorePrompt},
		{Content: "rules", Stability: StabilityStable, Label: LabelStaticRules},
		{Content: "dynamic", Stability: StabilityVolatile, Label: LabelDynamicRules},
	}
	out := buildAnthropicSystem(blocks, true)
	if _, ok := out[0]["cache_control"]; ok {
		t.Error("only the last stable block gets a breakpoint")
	}
	cc, ok := out[1]["cache_control"].(map[string]interface{})
	if !ok || cc["ttl"] != "1h" {
		t.Errorf("last stable block should carry a 1h breakpoint: %+v", out[1])
	}
	cc, ok = out[2]["cache_control"].(map[string]interface{})
	if !ok || cc["ttl"] != nil {
		t.Errorf("last volatile block should carry the default 5m breakpoint: %+v", out[2])
	}

	// API-key mode sends no markers at all.
	for _, entry := range buildAnthropicSystem(blocks, false) {
		if _, ok := entry["cache_control"]; ok {
			t.Error("cache_control must be absent outside OAuth mode")
		}
	}
}
