package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tronrun/agentruntime/internal/providers"
)

// AskUserQuestionTool presents up to five multiple-choice questions to
// the user. It stops the turn: the tool result is only a preview, and
// the actual answer arrives as the next user message.
type AskUserQuestionTool struct{}

func NewAskUserQuestionTool() *AskUserQuestionTool { return &AskUserQuestionTool{} }

func (t *AskUserQuestionTool) Name() string        { return "AskUserQuestion" }
func (t *AskUserQuestionTool) Category() string    { return CategoryInteractive }
func (t *AskUserQuestionTool) IsInteractive() bool { return true }
func (t *AskUserQuestionTool) StopsTurn() bool     { return true }

func (t *AskUserQuestionTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "AskUserQuestion",
		Description: "Ask the user 1-5 multiple-choice questions. Each question needs at least 2 options. The user's answer arrives as the next message.",
		Parameters: objectSchema(map[string]interface{}{
			"questions": map[string]interface{}{
				"type": "array",
				"items": objectSchema(map[string]interface{}{
					"question": map[string]interface{}{"type": "string"},
					"options": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"anyOf": []interface{}{
								map[string]interface{}{"type": "string"},
								objectSchema(map[string]interface{}{
									"label":       map[string]interface{}{"type": "string"},
									"description": map[string]interface{}{"type": "string"},
								}, "label"),
							},
						},
					},
				}, "question", "options"),
			},
		}, "questions"),
	}
}

type askUserParams struct {
	Questions []askUserQuestion `json:"questions"`
}

type askUserQuestion struct {
	Question string            `json:"question"`
	Options  []json.RawMessage `json:"options"`
}

type askUserOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

func (t *AskUserQuestionTool) Execute(ctx context.Context, params json.RawMessage, tc Context) (*Result, error) {
	var p askUserParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if len(p.Questions) < 1 || len(p.Questions) > 5 {
		return ErrorResult("questions must contain between 1 and 5 entries"), nil
	}

	var b strings.Builder
	for i, q := range p.Questions {
		if q.Question == "" {
			return ErrorResult(fmt.Sprintf("question %d is empty", i+1)), nil
		}
		if len(q.Options) < 2 {
			return ErrorResult(fmt.Sprintf("question %d needs at least 2 options", i+1)), nil
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, q.Question)
		for j, raw := range q.Options {
			label, err := optionLabel(raw)
			if err != nil {
				return ErrorResult(fmt.Sprintf("question %d option %d: %v", i+1, j+1, err)), nil
			}
			fmt.Fprintf(&b, "   %c) %s\n", 'a'+j, label)
		}
	}

	return UserResult("Asked the user:\n" + b.String()), nil
}

func optionLabel(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("option is empty")
		}
		return s, nil
	}
	var o askUserOption
	if err := json.Unmarshal(raw, &o); err != nil {
		return "", fmt.Errorf("option must be a string or an object with a label")
	}
	if o.Label == "" {
		return "", fmt.Errorf("object option is missing a label")
	}
	return o.Label, nil
}
