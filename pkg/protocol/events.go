package protocol

// Broadcast event types pushed from server to subscribed clients.
// Closed set.
const (
	EventSessionCreated      = "session.created"
	EventSessionEnded        = "session.ended"
	EventSessionForked       = "session.forked"
	EventSessionRewound      = "session.rewound"
	EventAgentTurn           = "agent.turn"
	EventAgentMessageDeleted = "agent.message_deleted"
	EventAgentContextCleared = "agent.context_cleared"
	EventAgentCompaction     = "agent.compaction"
	EventAgentMemoryUpdating = "agent.memory_updating"
	EventAgentMemoryUpdated  = "agent.memory_updated"
	EventAgentSkillRemoved   = "agent.skill_removed"
	EventAgentTodosUpdated   = "agent.todos_updated"
	EventTaskCreated         = "task.created"
	EventTaskUpdated         = "task.updated"
	EventTaskCompleted       = "task.completed"
	EventProjectCreated      = "project.created"
	EventProjectUpdated      = "project.updated"
	EventAreaCreated         = "area.created"
	EventAreaUpdated         = "area.updated"
	EventBrowserFrame        = "browser.frame"
	EventBrowserClosed       = "browser.closed"
	EventNew                 = "event.new"

	// Internal-only; never forwarded to a WS client (see gateway.Client
	// registration filtering).
	EventCacheInvalidate = "cache.invalidate"
)

// Stream-event subtypes carried in the "agent.turn" event payload,
// mirroring the unified provider stream vocabulary.
const (
	StreamTextStart     = "text_start"
	StreamTextDelta     = "text_delta"
	StreamTextEnd       = "text_end"
	StreamThinkingStart = "thinking_start"
	StreamThinkingDelta = "thinking_delta"
	StreamThinkingEnd   = "thinking_end"
	StreamToolCallStart = "tool_call_start"
	StreamToolCallDelta = "tool_call_delta"
	StreamToolCallEnd   = "tool_call_end"
	StreamDone          = "done"
	StreamError         = "error"
	StreamRetryAttempt  = "retry_attempt"
)
