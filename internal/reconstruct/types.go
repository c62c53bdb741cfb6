// Package reconstruct folds an ordered event sequence into the
// in-memory session state the pipeline and composer operate on.
// Reconstruction is a pure function of events: same input sequence,
// same output state, every time.
package reconstruct

import "encoding/json"

// Role distinguishes the three message kinds in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ContentBlock is the union of every block shape a message can carry.
// Only the fields relevant to Type are populated.
type ContentBlock struct {
	Type string // "text" | "image" | "document" | "thinking" | "tool_use" | "tool_result"

	// text
	Text string

	// image / document
	MimeType string
	Data     string // base64
	Filename string // document only, optional

	// thinking
	Thinking  string
	Signature string // present only when the thinking block is API-replayable

	// tool_use
	ToolUseID        string
	ToolName         string
	Arguments        json.RawMessage
	ThoughtSignature string

	// tool_result (when a message's Role is RoleToolResult, its single
	// block carries these; Content may hold nested blocks instead of Text)
	ToolResultID string
	IsError      bool
	Content      []ContentBlock
}

// Message is one turn element: a user prompt, an assistant reply, or a
// synthesized/real tool result.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// TokenUsage accumulates raw provider-reported counts across a session.
type TokenUsage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
}

// State is the full reconstructed snapshot the pipeline operates on.
type State struct {
	Model                string
	WorkingDirectory     string
	Messages             []Message
	CumulativeTokenUsage TokenUsage
	ActiveSkills         []string
	ActiveRulesPaths     []string
	PlanMode             bool
	Todos                json.RawMessage
	HeadEventID          string
}

// FinalAssistantText returns the text of the last assistant message,
// or "" when there is none. Used to surface a subagent's answer to
// its parent.
func (s *State) FinalAssistantText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role != RoleAssistant {
			continue
		}
		text := ""
		for _, b := range s.Messages[i].Content {
			if b.Type == "text" {
				text += b.Text
			}
		}
		if text != "" {
			return text
		}
	}
	return ""
}
