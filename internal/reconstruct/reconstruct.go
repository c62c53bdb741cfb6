package reconstruct

import (
	"encoding/json"
	"log/slog"

	"github.com/tronrun/agentruntime/internal/store"
)

// Reconstruct folds events, which must already be in ascending
// sequence order for a single session, into a State. It is pure:
// calling it twice on the same slice yields identical results, and
// folding a prefix then the remainder yields the same state as
// folding the whole slice at once.
//
// A corrupt (non-JSON) payload does not fail the whole reconstruction:
// it is skipped with a warning, surfacing as if the event carried no
// content.
func Reconstruct(events []store.Event) *State {
	st := &State{}
	var pendingSummary *compactSummaryPayload

	for _, evt := range events {
		switch evt.Type {
		case store.EventSessionStart, store.EventSessionForked:
			var p sessionStartPayload
			if !unmarshal(evt, &p) {
				break
			}
			st.Model = p.Model
			st.WorkingDirectory = p.WorkingDirectory

		case store.EventMessageUser:
			var p messageUserPayload
			if !unmarshal(evt, &p) {
				break
			}
			var blocks []ContentBlock
			if p.Text != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: p.Text})
			}
			blocks = append(blocks, blocksFromJSON(p.Blocks)...)
			st.Messages = append(st.Messages, Message{Role: RoleUser, Content: blocks})

		case store.EventMessageAssistant:
			var p messageAssistantPayload
			if !unmarshal(evt, &p) {
				break
			}
			st.Messages = append(st.Messages, Message{Role: RoleAssistant, Content: blocksFromJSON(p.Content)})
			if p.Usage != nil {
				st.CumulativeTokenUsage.InputTokens += p.Usage.InputTokens
				st.CumulativeTokenUsage.OutputTokens += p.Usage.OutputTokens
				st.CumulativeTokenUsage.CacheReadTokens += p.Usage.CacheReadTokens
				st.CumulativeTokenUsage.CacheCreationTokens += p.Usage.CacheCreationTokens
			}

		case store.EventToolUseBatch:
			var p toolUseBatchPayload
			if !unmarshal(evt, &p) {
				break
			}
			st.Messages = append(st.Messages, Message{Role: RoleAssistant, Content: blocksFromJSON(p.ToolUses)})

		case store.EventToolResult:
			var p toolResultPayload
			if !unmarshal(evt, &p) {
				break
			}
			block := ContentBlock{Type: "tool_result", ToolResultID: p.ToolUseID, IsError: p.IsError}
			if p.Text != "" {
				block.Text = p.Text
			}
			if len(p.Blocks) > 0 {
				block.Content = blocksFromJSON(p.Blocks)
			}
			st.Messages = append(st.Messages, Message{Role: RoleToolResult, Content: []ContentBlock{block}})

		case store.EventSkillAdded:
			var p skillPayload
			if !unmarshal(evt, &p) {
				break
			}
			st.ActiveSkills = appendUnique(st.ActiveSkills, p.Name)

		case store.EventSkillRemoved:
			var p skillPayload
			if !unmarshal(evt, &p) {
				break
			}
			st.ActiveSkills = removeValue(st.ActiveSkills, p.Name)

		case store.EventRulesActivated:
			var p rulesActivatedPayload
			if !unmarshal(evt, &p) {
				break
			}
			st.ActiveRulesPaths = p.Paths

		case store.EventCompactSummary:
			var p compactSummaryPayload
			if !unmarshal(evt, &p) {
				break
			}
			pendingSummary = &p

		case store.EventCompactBoundary:
			st.ActiveSkills = nil
			st.ActiveRulesPaths = nil
			st.Messages = nil
			if pendingSummary != nil {
				st.Messages = []Message{
					{Role: RoleUser, Content: []ContentBlock{{Type: "text", Text: pendingSummary.UserText}}},
					{Role: RoleAssistant, Content: []ContentBlock{{Type: "text", Text: pendingSummary.AssistantText}}},
				}
				pendingSummary = nil
			}

		case store.EventContextCleared:
			st.ActiveSkills = nil
			st.ActiveRulesPaths = nil
		}

		st.HeadEventID = evt.ID
	}

	return st
}

// unmarshal reports whether decoding succeeded, logging and returning
// false on failure rather than aborting the whole fold.
func unmarshal(evt store.Event, dst any) bool {
	if err := json.Unmarshal([]byte(evt.Payload), dst); err != nil {
		slog.Warn("reconstruct: corrupt event payload", "event_id", evt.ID, "type", evt.Type, "error", err)
		return false
	}
	return true
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func removeValue(s []string, v string) []string {
	out := s[:0:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
