package composer

import (
	"log/slog"

	"github.com/tronrun/agentruntime/internal/reconstruct"
)

// Wire-visible placeholder content. These strings are part of the
// conversation the model sees, not internal markers.
const (
	interruptedResultText    = "[Interrupted]"
	continuedPlaceholderText = "[Continued]"
)

// Sanitize enforces the API invariants every outgoing message list must
// satisfy: first message is a user message, no duplicate tool-use ids,
// no empty messages, no assistant message consisting solely of unsigned
// thinking, and every tool use paired with a tool result. It is
// idempotent and never mutates its input.
func Sanitize(msgs []reconstruct.Message) []reconstruct.Message {
	// Phase 1: filter invalid messages and deduplicate tool-use ids.
	seenToolUse := make(map[string]bool)
	out := make([]reconstruct.Message, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case reconstruct.RoleUser:
			if isEmptyUser(m) {
				slog.Debug("sanitize: dropped empty user message")
				continue
			}
			out = append(out, m)

		case reconstruct.RoleAssistant:
			blocks := make([]reconstruct.ContentBlock, 0, len(m.Content))
			onlyUnsignedThinking := true
			for _, b := range m.Content {
				if b.Type == "tool_use" {
					if seenToolUse[b.ToolUseID] {
						slog.Warn("sanitize: dropped duplicate tool_use block", "tool_use_id", b.ToolUseID)
						continue
					}
					seenToolUse[b.ToolUseID] = true
				}
				if !(b.Type == "thinking" && b.Signature == "") {
					onlyUnsignedThinking = false
				}
				blocks = append(blocks, b)
			}
			if len(blocks) == 0 || onlyUnsignedThinking {
				slog.Debug("sanitize: dropped assistant message with no sendable content")
				continue
			}
			out = append(out, reconstruct.Message{Role: m.Role, Content: blocks})

		case reconstruct.RoleToolResult:
			kept := make([]reconstruct.ContentBlock, 0, len(m.Content))
			for _, b := range m.Content {
				if b.Type != "tool_result" || b.ToolResultID == "" {
					continue
				}
				if b.Text == "" && len(b.Content) == 0 {
					continue
				}
				kept = append(kept, b)
			}
			if len(kept) == 0 {
				slog.Debug("sanitize: dropped tool result with empty id or content")
				continue
			}
			out = append(out, reconstruct.Message{Role: m.Role, Content: kept})
		}
	}

	// Phase 2: index tool-use ids by containing assistant message and
	// collect the result ids already present.
	toolUseLocations := make(map[string]int) // tool_use_id -> assistant message index
	resultIDs := make(map[string]bool)
	for i, m := range out {
		for _, b := range m.Content {
			switch b.Type {
			case "tool_use":
				toolUseLocations[b.ToolUseID] = i
			case "tool_result":
				resultIDs[b.ToolResultID] = true
			}
		}
	}

	// Phase 3: synthesize "[Interrupted]" results for orphans,
	// inserting immediately after the containing assistant message.
	// Indices are processed in descending order so earlier insertion
	// points stay valid.
	missingByIndex := make(map[int][]string)
	var indices []int
	for i, m := range out {
		if m.Role != reconstruct.RoleAssistant {
			continue
		}
		var missing []string
		for _, b := range m.Content {
			if b.Type == "tool_use" && !resultIDs[b.ToolUseID] {
				missing = append(missing, b.ToolUseID)
			}
		}
		if len(missing) > 0 {
			missingByIndex[i] = missing
			indices = append(indices, i)
		}
	}
	for k := len(indices) - 1; k >= 0; k-- {
		i := indices[k]
		synthesized := make([]reconstruct.Message, 0, len(missingByIndex[i]))
		for _, id := range missingByIndex[i] {
			slog.Warn("sanitize: synthesizing result for orphaned tool_use", "tool_use_id", id)
			synthesized = append(synthesized, reconstruct.Message{
				Role: reconstruct.RoleToolResult,
				Content: []reconstruct.ContentBlock{{
					Type:         "tool_result",
					ToolResultID: id,
					Text:         interruptedResultText,
				}},
			})
		}
		tail := make([]reconstruct.Message, len(out[i+1:]))
		copy(tail, out[i+1:])
		out = append(out[:i+1], append(synthesized, tail...)...)
	}

	// Phase 4: the list must open with a user message.
	if len(out) > 0 && out[0].Role != reconstruct.RoleUser {
		out = append([]reconstruct.Message{{
			Role:    reconstruct.RoleUser,
			Content: []reconstruct.ContentBlock{{Type: "text", Text: continuedPlaceholderText}},
		}}, out...)
	}

	return out
}

func isEmptyUser(m reconstruct.Message) bool {
	for _, b := range m.Content {
		switch b.Type {
		case "text":
			if b.Text != "" {
				return false
			}
		case "image", "document":
			return false
		}
	}
	return true
}
