package composer

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/tronrun/agentruntime/internal/reconstruct"
)

func user(text string) reconstruct.Message {
	return reconstruct.Message{Role: reconstruct.RoleUser, Content: []reconstruct.ContentBlock{{Type: "text", Text: text}}}
}

func assistantText(text string) reconstruct.Message {
	return reconstruct.Message{Role: reconstruct.RoleAssistant, Content: []reconstruct.ContentBlock{{Type: "text", Text: text}}}
}

func assistantToolUse(ids ...string) reconstruct.Message {
	var blocks []reconstruct.ContentBlock
	for _, id := range ids {
		blocks = append(blocks, reconstruct.ContentBlock{
			Type: "tool_use", ToolUseID: id, ToolName: "Read", Arguments: json.RawMessage(`{}`),
		})
	}
	return reconstruct.Message{Role: reconstruct.RoleAssistant, Content: blocks}
}

func toolResult(id, text string) reconstruct.Message {
	return reconstruct.Message{Role: reconstruct.RoleToolResult, Content: []reconstruct.ContentBlock{
		{Type: "tool_result", ToolResultID: id, Text: text},
	}}
}

func TestSanitizeSynthesizesInterruptedResults(t *testing.T) {
	msgs := []reconstruct.Message{
		user("do it"),
		assistantToolUse("x"),
	}
	out := Sanitize(msgs)
	if len(out) != 3 {
		t.Fatalf("len = %d, want synthesized result appended", len(out))
	}
	synth := out[2]
	if synth.Role != reconstruct.RoleToolResult {
		t.Fatalf("role = %v", synth.Role)
	}
	if synth.Content[0].ToolResultID != "x" || synth.Content[0].Text != "[Interrupted]" {
		t.Errorf("synth = %+v", synth.Content[0])
	}
}

func TestSanitizeMultipleOrphansPreserveOrder(t *testing.T) {
	msgs := []reconstruct.Message{
		user("go"),
		assistantToolUse("a", "b"),
		assistantToolUse("c"),
	}
	out := Sanitize(msgs)
	var ids []string
	for _, m := range out {
		if m.Role == reconstruct.RoleToolResult {
			ids = append(ids, m.Content[0].ToolResultID)
		}
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Errorf("synthesized order = %v", ids)
	}
	// a/b land directly after their assistant message, before c's
	// assistant message.
	if out[2].Role != reconstruct.RoleToolResult || out[3].Role != reconstruct.RoleToolResult {
		t.Errorf("results not adjacent to their assistant message: %+v", roles(out))
	}
}

func TestSanitizePrependsContinued(t *testing.T) {
	out := Sanitize([]reconstruct.Message{assistantText("orphan reply")})
	if out[0].Role != reconstruct.RoleUser || out[0].Content[0].Text != "[Continued]" {
		t.Errorf("first message = %+v", out[0])
	}
}

func TestSanitizeDropsInvalid(t *testing.T) {
	msgs := []reconstruct.Message{
		user(""),
		{Role: reconstruct.RoleAssistant, Content: []reconstruct.ContentBlock{{Type: "thinking", Thinking: "unsigned"}}},
		toolResult("", "no id"),
		user("real"),
	}
	out := Sanitize(msgs)
	if len(out) != 1 || out[0].Content[0].Text != "real" {
		t.Errorf("out = %+v", out)
	}
}

func TestSanitizeDeduplicatesToolUseIDs(t *testing.T) {
	msgs := []reconstruct.Message{
		user("go"),
		assistantToolUse("dup"),
		toolResult("dup", "done"),
		assistantToolUse("dup"),
	}
	out := Sanitize(msgs)
	count := 0
	for _, m := range out {
		for _, b := range m.Content {
			if b.Type == "tool_use" && b.ToolUseID == "dup" {
				count++
			}
		}
	}
	if count != 1 {
		t.Errorf("tool_use id appears %d times, want 1", count)
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	msgs := []reconstruct.Message{
		assistantToolUse("x"),
		user("hello"),
		assistantText("done"),
	}
	once := Sanitize(msgs)
	twice := Sanitize(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("sanitize is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestSanitizeInvariants(t *testing.T) {
	msgs := []reconstruct.Message{
		assistantToolUse("p", "q"),
		toolResult("p", "ok"),
		user(""),
		assistantText("tail"),
	}
	out := Sanitize(msgs)

	if len(out) == 0 || out[0].Role != reconstruct.RoleUser {
		t.Fatal("first message must be user")
	}
	results := make(map[string]bool)
	for _, m := range out {
		if len(m.Content) == 0 {
			t.Error("empty message survived sanitization")
		}
		for _, b := range m.Content {
			if b.Type == "tool_result" {
				results[b.ToolResultID] = true
			}
		}
	}
	for _, m := range out {
		for _, b := range m.Content {
			if b.Type == "tool_use" && !results[b.ToolUseID] {
				t.Errorf("tool_use %q has no matching result", b.ToolUseID)
			}
		}
	}
}

func roles(msgs []reconstruct.Message) []reconstruct.Role {
	out := make([]reconstruct.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}
