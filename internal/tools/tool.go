// Package tools implements the model-invocable operations: filesystem,
// shell, web search, event-store query, interactive prompts, and the
// subagent manager. Tools never hold a reference to the orchestrator;
// all cross-cutting concerns arrive through the call-site Context.
package tools

import (
	"context"
	"encoding/json"

	"github.com/tronrun/agentruntime/internal/providers"
)

// Tool categories, used for grouping and filtering.
const (
	CategoryFilesystem  = "filesystem"
	CategoryShell       = "shell"
	CategorySearch      = "search"
	CategoryMemory      = "memory"
	CategoryInteractive = "interactive"
	CategoryAgent       = "agent"
)

// Context carries the per-invocation identifiers and limits a tool
// needs. Cancellation arrives through the context.Context passed to
// Execute, whose done channel is the run's cancel token.
type Context struct {
	ToolCallID       string
	SessionID        string
	WorkspaceID      string
	WorkingDir       string
	SubagentDepth    int
	MaxSubagentDepth int
}

// Tool is one registered operation the model can invoke.
type Tool interface {
	Name() string
	Category() string
	Definition() providers.ToolDefinition
	// IsInteractive marks tools whose value is produced by an external
	// actor (the user) rather than the execution itself.
	IsInteractive() bool
	// StopsTurn marks tools that end the turn after executing; the
	// real answer arrives as the next user message.
	StopsTurn() bool
	Execute(ctx context.Context, params json.RawMessage, tc Context) (*Result, error)
}

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`            // content sent to the model
	ForUser string `json:"for_user,omitempty"` // content shown to the user, when different
	IsError bool   `json:"is_error"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

// objectSchema is a small helper for building JSON-schema parameter
// definitions without repeating the envelope.
func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
