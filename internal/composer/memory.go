package composer

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tronrun/agentruntime/internal/store"
)

// memoryLedgerPayload backs memory.ledger events.
type memoryLedgerPayload struct {
	Title   string   `json:"title"`
	Lessons []string `json:"lessons"`
}

// MemoryContent assembles the memory system block from memory.ledger
// events. Events are expected most-recent-first (as returned by
// GetEventsByWorkspaceAndTypes); at most maxEntries are included.
func MemoryContent(events []store.Event, maxEntries int) string {
	if maxEntries <= 0 {
		maxEntries = 20
	}
	var b strings.Builder
	count := 0
	for _, evt := range events {
		if count >= maxEntries {
			break
		}
		var p memoryLedgerPayload
		if err := json.Unmarshal([]byte(evt.Payload), &p); err != nil {
			slog.Warn("memory: corrupt ledger payload", "event_id", evt.ID, "error", err)
			continue
		}
		if p.Title == "" || len(p.Lessons) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("### ")
		b.WriteString(p.Title)
		b.WriteString("\n")
		for _, lesson := range p.Lessons {
			b.WriteString("- ")
			b.WriteString(lesson)
			b.WriteString("\n")
		}
		count++
	}
	return b.String()
}
