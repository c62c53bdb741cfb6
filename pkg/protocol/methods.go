package protocol

// RPC method name constants, grouped by domain. Field payloads are
// documented on the handler that consumes them, not here.
const (
	// Session lifecycle
	MethodSessionCreate  = "session.create"
	MethodSessionResume  = "session.resume"
	MethodSessionEnd     = "session.end"
	MethodSessionFork    = "session.fork"
	MethodSessionArchive = "session.archive"
	MethodSessionRewind  = "session.rewind"
	MethodSessionDelete  = "session.delete"

	// Agent turn control
	MethodAgentPrompt = "agent.prompt"
	MethodAgentAbort  = "agent.abort"

	// Worktree (UI tool contracts; dispatched but not implemented here)
	MethodWorktreeGetStatus = "worktree.getStatus"
	MethodWorktreeCommit    = "worktree.commit"
	MethodWorktreeMerge     = "worktree.merge"
)
