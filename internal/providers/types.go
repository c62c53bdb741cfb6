// Package providers wires the three LLM vendor APIs (Anthropic
// Messages, OpenAI Responses, Google Gemini) behind a single streaming
// interface that yields normalized events. Each adapter
// owns its SSE state machine; downstream consumers only ever see the
// unified vocabulary below.
package providers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tronrun/agentruntime/internal/reconstruct"
	"github.com/tronrun/agentruntime/internal/tokens"
)

// Provider is the unified streaming contract. Stream never returns an
// error directly: connection and request-building failures arrive
// in-band as an Error event, so callers consume exactly one channel
// regardless of where the failure happened. The channel is closed
// after the terminal event (Done or Error).
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) <-chan StreamEvent
}

// Stability classifies a system block for cache-breakpoint placement:
// stable blocks change rarely (1h TTL), volatile blocks change per
// conversation (5m TTL).
type Stability string

const (
	StabilityStable   Stability = "stable"
	StabilityVolatile Stability = "volatile"
)

// BlockLabel names the origin of a system block; ordering within the
// composed system prompt is fixed by label.
type BlockLabel string

const (
	LabelCorePrompt      BlockLabel = "core_prompt"
	LabelStaticRules     BlockLabel = "static_rules"
	LabelMemoryContent   BlockLabel = "memory_content"
	LabelDynamicRules    BlockLabel = "dynamic_rules"
	LabelSkillContext    BlockLabel = "skill_context"
	LabelSubagentResults BlockLabel = "subagent_results"
	LabelTaskContext     BlockLabel = "task_context"
)

// SystemBlock is one composed system-prompt section.
type SystemBlock struct {
	Content   string
	Stability Stability
	Label     BlockLabel
}

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON Schema
}

// ToolCall is one fully-assembled tool invocation from the model.
type ToolCall struct {
	ID               string
	Name             string
	Arguments        json.RawMessage
	ThoughtSignature string // Gemini passback; empty elsewhere
}

// Request is the input to a single Stream call, produced by the
// context composer.
type Request struct {
	Model     string
	System    []SystemBlock
	Messages  []reconstruct.Message
	Tools     []ToolDefinition
	MaxTokens int
	// OAuth selects the cache-breakpoint request shape; API-key mode
	// sends no cache_control markers.
	OAuth   bool
	Options map[string]interface{}
}

// StopReason terminates a turn.
type StopReason string

const (
	StopReasonStop      StopReason = "stop"
	StopReasonToolCalls StopReason = "tool_calls"
	StopReasonLength    StopReason = "length"
)

// StreamEventKind discriminates the normalized stream vocabulary.
type StreamEventKind string

const (
	EventTextStart     StreamEventKind = "text_start"
	EventTextDelta     StreamEventKind = "text_delta"
	EventTextEnd       StreamEventKind = "text_end"
	EventThinkingStart StreamEventKind = "thinking_start"
	EventThinkingDelta StreamEventKind = "thinking_delta"
	EventThinkingEnd   StreamEventKind = "thinking_end"
	EventToolCallStart StreamEventKind = "tool_call_start"
	EventToolCallDelta StreamEventKind = "tool_call_delta"
	EventToolCallEnd   StreamEventKind = "tool_call_end"
	EventDone          StreamEventKind = "done"
	EventError         StreamEventKind = "error"
	EventRetryAttempt  StreamEventKind = "retry_attempt"
)

// StreamEvent is the single wire type downstream consumers fold over.
// Only the fields relevant to Kind are populated.
type StreamEvent struct {
	Kind StreamEventKind

	// TextDelta / ThinkingDelta
	Delta string

	// TextEnd
	Text string
	// ThinkingEnd
	Thinking string
	// TextEnd / ThinkingEnd, when the provider returned one
	Signature string

	// ToolCallStart / ToolCallDelta
	ToolCallID     string
	ToolName       string
	ArgumentsDelta string
	// ToolCallEnd
	ToolCall *ToolCall

	// Done
	Message    *reconstruct.Message
	StopReason StopReason
	Usage      *tokens.RawUsage

	// Error
	Err *ClassifiedError

	// RetryAttempt
	Attempt    int
	RetryDelay time.Duration
}

// ErrorEvent builds a terminal Error event from any error, classifying
// it if not already classified.
func ErrorEvent(err error) StreamEvent {
	return StreamEvent{Kind: EventError, Err: Classify(err)}
}

// Terminal reports whether ev ends the stream.
func (ev StreamEvent) Terminal() bool {
	return ev.Kind == EventDone || ev.Kind == EventError
}
