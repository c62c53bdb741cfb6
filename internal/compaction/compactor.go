package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tronrun/agentruntime/internal/providers"
	"github.com/tronrun/agentruntime/internal/reconstruct"
	"github.com/tronrun/agentruntime/internal/store"
)

const summaryPrompt = `Summarize the conversation so far for a fresh context window. Capture: the user's goals, decisions made, files touched, current state of the work, and anything still unresolved. Be concise but complete; the summary replaces the full transcript.`

// Compactor replaces a session's accumulated messages with a
// synthesized summary pair, persisted as compact.summary followed by
// compact.boundary. The boundary also resets rules and skills at the
// next reconstruction.
type Compactor struct {
	store    store.EventStore
	provider providers.Provider
}

// NewCompactor wires the store and the (reliability-wrapped) provider
// used for summarization.
func NewCompactor(st store.EventStore, provider providers.Provider) *Compactor {
	return &Compactor{store: st, provider: provider}
}

// Compact summarizes state's messages and persists the compaction
// events. Returns the boundary event.
func (c *Compactor) Compact(ctx context.Context, sessionID, model string, state *reconstruct.State, reason string) (*store.Event, error) {
	summary, err := c.summarize(ctx, model, state.Messages)
	if err != nil {
		return nil, fmt.Errorf("compaction: summarize: %w", err)
	}

	summaryPayload, err := json.Marshal(map[string]string{
		"userText":      "Context was compacted. Summary of the conversation so far:",
		"assistantText": summary,
	})
	if err != nil {
		return nil, fmt.Errorf("compaction: marshal summary: %w", err)
	}
	if _, err := c.store.Append(ctx, sessionID, store.EventCompactSummary, string(summaryPayload), nil); err != nil {
		return nil, err
	}

	boundaryPayload, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return nil, fmt.Errorf("compaction: marshal boundary: %w", err)
	}
	return c.store.Append(ctx, sessionID, store.EventCompactBoundary, string(boundaryPayload), nil)
}

// summarize runs one non-tool provider call over the transcript plus
// the summary instruction, collecting the streamed text.
func (c *Compactor) summarize(ctx context.Context, model string, messages []reconstruct.Message) (string, error) {
	req := providers.Request{
		Model: model,
		System: []providers.SystemBlock{{
			Content:   "You compress agent conversations into handoff summaries.",
			Stability: providers.StabilityVolatile,
			Label:     providers.LabelTaskContext,
		}},
		Messages: append(copyMessages(messages), reconstruct.Message{
			Role:    reconstruct.RoleUser,
			Content: []reconstruct.ContentBlock{{Type: "text", Text: summaryPrompt}},
		}),
		MaxTokens: 4096,
	}

	var text strings.Builder
	for ev := range c.provider.Stream(ctx, req) {
		switch ev.Kind {
		case providers.EventTextDelta:
			text.WriteString(ev.Delta)
		case providers.EventError:
			return "", ev.Err
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty summary")
	}
	return text.String(), nil
}

func copyMessages(msgs []reconstruct.Message) []reconstruct.Message {
	out := make([]reconstruct.Message, len(msgs))
	copy(out, msgs)
	return out
}
