package reconstruct

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/tronrun/agentruntime/internal/store"
)

func evt(seq int64, eventType, payload string) store.Event {
	return store.Event{
		ID:       fmt.Sprintf("evt_%03d", seq),
		Sequence: seq,
		Type:     eventType,
		Payload:  payload,
	}
}

func baseEvents() []store.Event {
	return []store.Event{
		evt(1, store.EventSessionStart, `{"model":"claude-sonnet-4-5","workingDirectory":"/tmp"}`),
		evt(2, store.EventMessageUser, `{"text":"hello"}`),
		evt(3, store.EventMessageAssistant, `{"content":[{"type":"text","text":"hi"}],"usage":{"inputTokens":10,"outputTokens":3}}`),
	}
}

func TestReconstructBasics(t *testing.T) {
	st := Reconstruct(baseEvents())
	if st.Model != "claude-sonnet-4-5" || st.WorkingDirectory != "/tmp" {
		t.Errorf("state = %+v", st)
	}
	if len(st.Messages) != 2 {
		t.Fatalf("messages = %d", len(st.Messages))
	}
	if st.Messages[0].Role != RoleUser || st.Messages[0].Content[0].Text != "hello" {
		t.Errorf("user message = %+v", st.Messages[0])
	}
	if st.Messages[1].Role != RoleAssistant || st.Messages[1].Content[0].Text != "hi" {
		t.Errorf("assistant message = %+v", st.Messages[1])
	}
	if st.CumulativeTokenUsage.InputTokens != 10 || st.CumulativeTokenUsage.OutputTokens != 3 {
		t.Errorf("usage = %+v", st.CumulativeTokenUsage)
	}
	if st.HeadEventID != "evt_003" {
		t.Errorf("head = %q", st.HeadEventID)
	}
}

func TestReconstructDeterministic(t *testing.T) {
	events := baseEvents()
	events = append(events,
		evt(4, store.EventSkillAdded, `{"name":"deploy"}`),
		evt(5, store.EventRulesActivated, `{"paths":["CLAUDE.md"]}`),
	)
	a := Reconstruct(events)
	b := Reconstruct(events)
	if !reflect.DeepEqual(a, b) {
		t.Error("reconstruction must be deterministic")
	}
}

func TestCompactBoundaryReplacesMessages(t *testing.T) {
	events := baseEvents()
	events = append(events,
		evt(4, store.EventSkillAdded, `{"name":"deploy"}`),
		evt(5, store.EventRulesActivated, `{"paths":["a/CLAUDE.md"]}`),
		evt(6, store.EventCompactSummary, `{"userText":"Summary request","assistantText":"Everything so far"}`),
		evt(7, store.EventCompactBoundary, `{}`),
	)
	st := Reconstruct(events)
	if len(st.ActiveSkills) != 0 || len(st.ActiveRulesPaths) != 0 {
		t.Error("compact boundary must clear skills and rules")
	}
	if len(st.Messages) != 2 {
		t.Fatalf("messages = %d, want the summary pair only", len(st.Messages))
	}
	if st.Messages[0].Content[0].Text != "Summary request" || st.Messages[1].Content[0].Text != "Everything so far" {
		t.Errorf("summary pair = %+v", st.Messages)
	}
}

func TestSkillAddRemove(t *testing.T) {
	events := []store.Event{
		evt(1, store.EventSessionStart, `{"model":"m","workingDirectory":"/"}`),
		evt(2, store.EventSkillAdded, `{"name":"a"}`),
		evt(3, store.EventSkillAdded, `{"name":"b"}`),
		evt(4, store.EventSkillAdded, `{"name":"a"}`),
		evt(5, store.EventSkillRemoved, `{"name":"a"}`),
	}
	st := Reconstruct(events)
	if !reflect.DeepEqual(st.ActiveSkills, []string{"b"}) {
		t.Errorf("skills = %v", st.ActiveSkills)
	}
}

func TestCorruptPayloadSkipped(t *testing.T) {
	events := baseEvents()
	events = append(events, evt(4, store.EventMessageUser, `{not json`))
	st := Reconstruct(events)
	if len(st.Messages) != 2 {
		t.Errorf("corrupt payload should be skipped, messages = %d", len(st.Messages))
	}
	if st.HeadEventID != "evt_004" {
		t.Errorf("head must still advance past the corrupt event, got %q", st.HeadEventID)
	}
}

func TestToolRoundTripReconstruction(t *testing.T) {
	events := []store.Event{
		evt(1, store.EventSessionStart, `{"model":"m","workingDirectory":"/"}`),
		evt(2, store.EventMessageUser, `{"text":"read it"}`),
		evt(3, store.EventMessageAssistant, `{"content":[{"type":"tool_use","toolUseId":"t1","toolName":"Read","arguments":{"file_path":"/a"}}]}`),
		evt(4, store.EventToolResult, `{"toolUseId":"t1","text":"file contents"}`),
	}
	st := Reconstruct(events)
	if len(st.Messages) != 3 {
		t.Fatalf("messages = %d", len(st.Messages))
	}
	tu := st.Messages[1].Content[0]
	if tu.Type != "tool_use" || tu.ToolUseID != "t1" || tu.ToolName != "Read" {
		t.Errorf("tool_use = %+v", tu)
	}
	tr := st.Messages[2].Content[0]
	if tr.Type != "tool_result" || tr.ToolResultID != "t1" || tr.Text != "file contents" {
		t.Errorf("tool_result = %+v", tr)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	blocks := []ContentBlock{
		{Type: "thinking", Thinking: "hmm", Signature: "sig"},
		{Type: "text", Text: "answer"},
		{Type: "tool_use", ToolUseID: "t1", ToolName: "Bash", Arguments: []byte(`{"command":"ls"}`)},
	}
	payload, err := EncodeAssistantPayload(blocks, &TokenUsage{InputTokens: 5, OutputTokens: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	st := Reconstruct([]store.Event{
		evt(1, store.EventSessionStart, `{"model":"m","workingDirectory":"/"}`),
		evt(2, store.EventMessageAssistant, payload),
	})
	got := st.Messages[0].Content
	if len(got) != 3 {
		t.Fatalf("blocks = %+v", got)
	}
	if got[0].Thinking != "hmm" || got[0].Signature != "sig" {
		t.Errorf("thinking block = %+v", got[0])
	}
	if got[2].ToolUseID != "t1" || string(got[2].Arguments) != `{"command":"ls"}` {
		t.Errorf("tool block = %+v", got[2])
	}
	if st.CumulativeTokenUsage.InputTokens != 5 {
		t.Errorf("usage = %+v", st.CumulativeTokenUsage)
	}
}
