package reconstruct

import (
	"encoding/json"
	"fmt"
)

// Encoders for the event payload shapes this package also decodes.
// Keeping both directions here means the wire convention (camelCase
// block fields) lives in exactly one package.

func blockToJSON(b ContentBlock) blockJSON {
	out := blockJSON{
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
	if b.Type == "tool_result" {
		out.ToolUseID = b.ToolResultID
	}
	for _, inner := range b.Content {
		out.Content = append(out.Content, blockToJSON(inner))
	}
	return out
}

func blocksToJSON(blocks []ContentBlock) []blockJSON {
	out := make([]blockJSON, len(blocks))
	for i, b := range blocks {
		out[i] = blockToJSON(b)
	}
	return out
}

// EncodeUserPayload builds a message.user payload from plain text.
func EncodeUserPayload(text string) (string, error) {
	raw, err := json.Marshal(messageUserPayload{Text: text})
	if err != nil {
		return "", fmt.Errorf("encode message.user: %w", err)
	}
	return string(raw), nil
}

// EncodeAssistantPayload builds a message.assistant payload from the
// final content array, per-call usage, and the computed cost (nil when
// the model is unpriced).
func EncodeAssistantPayload(blocks []ContentBlock, usage *TokenUsage, cost *float64) (string, error) {
	payload := struct {
		Content []blockJSON `json:"content"`
		Usage   *usageJSON  `json:"usage,omitempty"`
		Cost    *float64    `json:"cost,omitempty"`
	}{Content: blocksToJSON(blocks), Cost: cost}
	if usage != nil {
		payload.Usage = &usageJSON{
			InputTokens:         usage.InputTokens,
			OutputTokens:        usage.OutputTokens,
			CacheReadTokens:     usage.CacheReadTokens,
			CacheCreationTokens: usage.CacheCreationTokens,
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode message.assistant: %w", err)
	}
	return string(raw), nil
}

// EncodeToolResultPayload builds a tool.result payload.
func EncodeToolResultPayload(toolUseID, text string, isError bool) (string, error) {
	raw, err := json.Marshal(toolResultPayload{ToolUseID: toolUseID, Text: text, IsError: isError})
	if err != nil {
		return "", fmt.Errorf("encode tool.result: %w", err)
	}
	return string(raw), nil
}

// EncodeSkillPayload builds a skill.added / skill.removed payload.
func EncodeSkillPayload(name string) (string, error) {
	raw, err := json.Marshal(skillPayload{Name: name})
	if err != nil {
		return "", fmt.Errorf("encode skill payload: %w", err)
	}
	return string(raw), nil
}

// EncodeRulesActivatedPayload builds a rules.activated payload.
func EncodeRulesActivatedPayload(paths []string) (string, error) {
	raw, err := json.Marshal(rulesActivatedPayload{Paths: paths})
	if err != nil {
		return "", fmt.Errorf("encode rules.activated: %w", err)
	}
	return string(raw), nil
}
