package reconstruct

import "encoding/json"

// blockJSON is the wire shape for one content block, shared by
// message.user, message.assistant, tool_use_batch and tool.result
// payloads. Field names match the camelCase RPC/event wire convention.
type blockJSON struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
	Filename string `json:"filename,omitempty"`

	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	ToolUseID        string          `json:"toolUseId,omitempty"`
	ToolName         string          `json:"toolName,omitempty"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	ThoughtSignature string          `json:"thoughtSignature,omitempty"`

	IsError bool        `json:"isError,omitempty"`
	Content []blockJSON `json:"content,omitempty"`
}

func (b blockJSON) toBlock() ContentBlock {
	out := ContentBlock{
		Type:             b.Type,
		Text:             b.Text,
		MimeType:         b.MimeType,
		Data:             b.Data,
		Filename:         b.Filename,
		Thinking:         b.Thinking,
		Signature:        b.Signature,
		ToolUseID:        b.ToolUseID,
		ToolName:         b.ToolName,
		Arguments:        b.Arguments,
		ThoughtSignature: b.ThoughtSignature,
		IsError:          b.IsError,
	}
	if len(b.Content) > 0 {
		out.Content = make([]ContentBlock, len(b.Content))
		for i, c := range b.Content {
			out.Content[i] = c.toBlock()
		}
	}
	return out
}

func blocksFromJSON(in []blockJSON) []ContentBlock {
	if len(in) == 0 {
		return nil
	}
	out := make([]ContentBlock, len(in))
	for i, b := range in {
		out[i] = b.toBlock()
	}
	return out
}

// sessionStartPayload backs session.start and session.forked events.
type sessionStartPayload struct {
	Model            string `json:"model"`
	WorkingDirectory string `json:"workingDirectory"`
}

// messageUserPayload backs message.user events. Text is a convenience
// for plain-string prompts; Blocks is used for structured content
// (images, documents, mixed text).
type messageUserPayload struct {
	Text   string      `json:"text,omitempty"`
	Blocks []blockJSON `json:"blocks,omitempty"`
}

// usageJSON is the raw per-call token usage carried on message.assistant.
type usageJSON struct {
	InputTokens         int64 `json:"inputTokens"`
	OutputTokens        int64 `json:"outputTokens"`
	CacheReadTokens     int64 `json:"cacheReadTokens"`
	CacheCreationTokens int64 `json:"cacheCreationTokens"`
}

// messageAssistantPayload backs message.assistant events: the full
// content array as persisted at Done (pipeline §4.7 step 4).
type messageAssistantPayload struct {
	Content []blockJSON `json:"content"`
	Usage   *usageJSON  `json:"usage,omitempty"`
}

// toolUseBatchPayload backs tool_use_batch events, used when tool-use
// blocks are recorded independent of the containing assistant message.
type toolUseBatchPayload struct {
	ToolUses []blockJSON `json:"toolUses"`
}

// toolResultPayload backs tool.result events.
type toolResultPayload struct {
	ToolUseID string      `json:"toolUseId"`
	Text      string      `json:"text,omitempty"`
	Blocks    []blockJSON `json:"blocks,omitempty"`
	IsError   bool        `json:"isError,omitempty"`
}

type skillPayload struct {
	Name string `json:"name"`
}

type rulesActivatedPayload struct {
	Paths []string `json:"paths"`
}

// compactBoundaryPayload marks where a compaction occurred; messages
// before it are discarded at reconstruction and replaced by the
// paired compact.summary content.
type compactBoundaryPayload struct{}

type compactSummaryPayload struct {
	UserText      string `json:"userText"`
	AssistantText string `json:"assistantText"`
}
