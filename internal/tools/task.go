package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tronrun/agentruntime/internal/providers"
)

// TaskTool delegates a self-contained task to a subagent: a child
// session with a filtered tool registry. The call blocks until the
// child finishes and returns its final text.
type TaskTool struct {
	manager *SubagentManager
}

func NewTaskTool(manager *SubagentManager) *TaskTool {
	return &TaskTool{manager: manager}
}

func (t *TaskTool) Name() string        { return "Task" }
func (t *TaskTool) Category() string    { return CategoryAgent }
func (t *TaskTool) IsInteractive() bool { return false }
func (t *TaskTool) StopsTurn() bool     { return false }

func (t *TaskTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "Task",
		Description: "Delegate a self-contained task to a subagent running in its own session. Returns the subagent's final answer.",
		Parameters: objectSchema(map[string]interface{}{
			"prompt": map[string]interface{}{"type": "string", "description": "The task for the subagent"},
			"title":  map[string]interface{}{"type": "string", "description": "Short label for the child session"},
			"allowed_tools": map[string]interface{}{
				"type": "array", "items": map[string]interface{}{"type": "string"},
				"description": "Restrict the subagent to these tools; omit to inherit all",
			},
			"denied_tools": map[string]interface{}{
				"type": "array", "items": map[string]interface{}{"type": "string"},
				"description": "Withhold these tools from the subagent",
			},
		}, "prompt"),
	}
}

type taskParams struct {
	Prompt       string   `json:"prompt"`
	Title        string   `json:"title"`
	AllowedTools []string `json:"allowed_tools"`
	DeniedTools  []string `json:"denied_tools"`
}

func (t *TaskTool) Execute(ctx context.Context, params json.RawMessage, tc Context) (*Result, error) {
	var p taskParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.Prompt == "" {
		return ErrorResult("prompt is required"), nil
	}

	filter := Filter{Kind: InheritAll}
	switch {
	case len(p.AllowedTools) > 0:
		filter = Filter{Kind: Explicit, Names: p.AllowedTools}
	case len(p.DeniedTools) > 0:
		filter = Filter{Kind: Exclude, Names: p.DeniedTools}
	}
	// The subagent never gets Task itself unless explicitly allowed;
	// depth bounding is the hard stop, this just avoids surprises.
	switch filter.Kind {
	case InheritAll:
		filter = Filter{Kind: Exclude, Names: []string{t.Name()}}
	case Exclude:
		filter.Names = append(append([]string{}, filter.Names...), t.Name())
	}

	handle, err := t.manager.Spawn(ctx, tc, SpawnRequest{
		Prompt:    p.Prompt,
		SpawnType: SpawnTypeTask,
		Filter:    filter,
		Title:     p.Title,
	})
	if err != nil {
		return ErrorResult(err.Error()), nil
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		return ErrorResult(fmt.Sprintf("subagent failed: %v", err)), nil
	}
	if result == "" {
		result = "(subagent returned no text)"
	}
	return NewResult(result), nil
}
