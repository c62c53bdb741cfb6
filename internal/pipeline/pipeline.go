// Package pipeline drives one run: compose context, stream the
// provider, execute tool calls, persist events, and apply compaction,
// looping until a terminal stop reason.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tronrun/agentruntime/internal/compaction"
	"github.com/tronrun/agentruntime/internal/composer"
	"github.com/tronrun/agentruntime/internal/guardrails"
	"github.com/tronrun/agentruntime/internal/hooks"
	"github.com/tronrun/agentruntime/internal/orchestrator"
	"github.com/tronrun/agentruntime/internal/providers"
	"github.com/tronrun/agentruntime/internal/reconstruct"
	"github.com/tronrun/agentruntime/internal/store"
	"github.com/tronrun/agentruntime/internal/tokens"
	"github.com/tronrun/agentruntime/internal/tools"
	"github.com/tronrun/agentruntime/pkg/protocol"
)

// ErrPromptBlocked is returned when a UserPromptSubmit hook vetoes the
// prompt.
var ErrPromptBlocked = errors.New("prompt blocked by hook")

// Options wires a pipeline.
type Options struct {
	Store     store.EventStore
	Provider  providers.Provider // already reliability-wrapped
	Composer  *composer.Composer
	Registry  *tools.Registry
	Guards    *guardrails.Engine
	Hooks     *hooks.Executor
	Orch      *orchestrator.Orchestrator
	Trigger   *compaction.Trigger
	Compactor *compaction.Compactor

	OAuth         bool
	MaxTurns      int   // per-run safety bound
	ContextWindow int64 // tokens, for the compaction ratio
	SubagentDepth int   // 0 for the root pipeline; children run at depth+1
}

// Pipeline is the per-turn loop for one runtime instance. It is
// stateless across runs; per-run state lives on the stack of Run.
type Pipeline struct {
	opts Options
}

// New validates and builds a pipeline.
func New(opts Options) *Pipeline {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 50
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = 200_000
	}
	return &Pipeline{opts: opts}
}

// runState accumulates per-run bookkeeping across turns.
type runState struct {
	sessionID   string
	runID       string
	workspaceID string
	model       string

	baseline       int64 // previous turn's contextWindowTokens
	persistedTypes []string
	toolCommands   []string
}

// Run executes one user prompt to completion. ctx is the run's cancel
// token from the orchestrator.
func (p *Pipeline) Run(ctx context.Context, sessionID, runID, prompt string) error {
	sess, err := p.opts.Store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	rs := &runState{
		sessionID:   sessionID,
		runID:       runID,
		workspaceID: sess.WorkspaceID,
		model:       sess.Model,
	}

	// User-prompt-submit hooks may rewrite or veto the prompt.
	promptPayload, _ := json.Marshal(map[string]string{"prompt": prompt})
	hookResult := p.opts.Hooks.RunBlocking(ctx, hooks.Input{
		Type: hooks.UserPromptSubmit, SessionID: sessionID, Payload: promptPayload,
	})
	switch hookResult.Decision {
	case hooks.DecisionBlock:
		return fmt.Errorf("%w: %s", ErrPromptBlocked, hookResult.Reason)
	case hooks.DecisionModify:
		var modified struct {
			Prompt string `json:"prompt"`
		}
		if json.Unmarshal(hookResult.ModifiedPayload, &modified) == nil && modified.Prompt != "" {
			prompt = modified.Prompt
		}
	}

	// A new prompt is the out-of-band answer to any stop-turn tool
	// still pending on this session.
	p.opts.Orch.ResolvePendingForSession(sessionID, prompt)

	// Resolve @skill references before the prompt is persisted.
	skills, cleaned := composer.ExtractSkillRefs(prompt, p.opts.Composer.Skills())
	state, err := p.opts.Orch.State(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, skill := range skills {
		if containsString(state.ActiveSkills, skill.Name) {
			continue
		}
		payload, err := reconstruct.EncodeSkillPayload(skill.Name)
		if err != nil {
			return err
		}
		if err := p.persist(ctx, rs, store.EventSkillAdded, payload); err != nil {
			return err
		}
	}
	userPayload, err := reconstruct.EncodeUserPayload(cleaned)
	if err != nil {
		return err
	}
	if err := p.persist(ctx, rs, store.EventMessageUser, userPayload); err != nil {
		return err
	}

	for turn := 0; turn < p.opts.MaxTurns; turn++ {
		done, err := p.turn(ctx, rs)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return fmt.Errorf("run exceeded %d turns", p.opts.MaxTurns)
}

// turn performs one provider call plus any tool execution it demands.
// done=true means the run is finished.
func (p *Pipeline) turn(ctx context.Context, rs *runState) (bool, error) {
	state, err := p.opts.Orch.State(ctx, rs.sessionID)
	if err != nil {
		return false, err
	}

	memoryEvents, err := p.opts.Store.GetEventsByWorkspaceAndTypes(
		ctx, rs.workspaceID, []string{store.EventMemoryLedger}, 20, 0)
	if err != nil {
		return false, err
	}

	composed := p.opts.Composer.Compose(composer.Input{
		State:        state,
		MemoryEvents: memoryEvents,
		Tools:        p.opts.Registry.Definitions(),
		OAuth:        p.opts.OAuth,
	})

	if !equalStrings(composed.ActivatedRulePaths, state.ActiveRulesPaths) && len(composed.ActivatedRulePaths) > 0 {
		payload, err := reconstruct.EncodeRulesActivatedPayload(composed.ActivatedRulePaths)
		if err != nil {
			return false, err
		}
		if err := p.persist(ctx, rs, store.EventRulesActivated, payload); err != nil {
			return false, err
		}
	}

	model := state.Model
	if model == "" {
		model = rs.model
	}
	req := providers.Request{
		Model:    model,
		System:   composed.System,
		Messages: composed.Messages,
		Tools:    composed.Tools,
		OAuth:    p.opts.OAuth,
	}

	final, err := p.foldStream(ctx, rs, req)
	if err != nil {
		return false, err
	}
	if final == nil {
		// Cancelled mid-stream: nothing persisted, run over.
		return true, nil
	}

	usage, cost := p.accountUsage(ctx, rs, final)
	if err := p.persistAssistant(ctx, rs, final, usage, cost); err != nil {
		return false, err
	}

	toolUses := toolUseBlocks(final.Message)
	if final.StopReason == providers.StopReasonToolCalls && len(toolUses) > 0 {
		stopTurn, err := p.executeTools(ctx, rs, state, toolUses)
		if err != nil {
			return false, err
		}
		p.opts.Composer.Rules().MarkDirty()
		if stopTurn {
			return true, nil
		}
		return false, nil // loop to the next provider call
	}

	// Terminal stop: evaluate compaction.
	p.maybeCompact(ctx, rs, usage)
	return true, nil
}

// foldStream relays normalized events onto the bus while accumulating
// the final message. Returns (nil, nil) on cooperative cancellation —
// the in-flight partial assistant message is abandoned, not persisted.
func (p *Pipeline) foldStream(ctx context.Context, rs *runState, req providers.Request) (*providers.StreamEvent, error) {
	stream := p.opts.Provider.Stream(ctx, req)
	for ev := range stream {
		if ctx.Err() != nil {
			p.broadcastCancelled(rs)
			return nil, nil
		}
		p.broadcastStream(rs, ev)

		switch ev.Kind {
		case providers.EventDone:
			final := ev
			return &final, nil
		case providers.EventError:
			if ev.Err != nil && ev.Err.Kind == providers.ErrorKindCancelled {
				p.broadcastCancelled(rs)
				return nil, nil
			}
			return nil, ev.Err
		}
	}
	return nil, fmt.Errorf("provider stream ended without a terminal event")
}

// accountUsage normalizes the turn's token usage, threads the baseline
// forward, computes cost, and accumulates session totals.
func (p *Pipeline) accountUsage(ctx context.Context, rs *runState, final *providers.StreamEvent) (tokens.Usage, *float64) {
	var raw tokens.RawUsage
	if final.Usage != nil {
		raw = *final.Usage
	}
	usage := tokens.Normalize(providers.ProviderNameForModel(rs.model), raw, rs.baseline)
	rs.baseline = usage.ContextWindowTokens

	var costPtr *float64
	if cost, ok := tokens.Cost(rs.model, raw); ok {
		costPtr = &cost
	}

	costVal := 0.0
	if costPtr != nil {
		costVal = *costPtr
	}
	if err := p.opts.Store.AddSessionUsage(ctx, rs.sessionID, raw.Input, raw.Output, costVal); err != nil {
		slog.Warn("pipeline: accumulate session usage", "session_id", rs.sessionID, "error", err)
	}
	return usage, costPtr
}

func (p *Pipeline) persistAssistant(ctx context.Context, rs *runState, final *providers.StreamEvent, usage tokens.Usage, cost *float64) error {
	tu := &reconstruct.TokenUsage{
		InputTokens:         usage.Raw.Input,
		OutputTokens:        usage.Raw.Output,
		CacheReadTokens:     usage.Raw.CacheRead,
		CacheCreationTokens: usage.Raw.CacheCreation,
	}
	payload, err := reconstruct.EncodeAssistantPayload(final.Message.Content, tu, cost)
	if err != nil {
		return err
	}
	return p.persist(ctx, rs, store.EventMessageAssistant, payload)
}

// executeTools runs each requested tool behind guardrails and
// pre-hooks, persisting a tool.result event per call. Returns
// stopTurn=true when an executed tool ends the turn.
func (p *Pipeline) executeTools(ctx context.Context, rs *runState, state *reconstruct.State, toolUses []reconstruct.ContentBlock) (bool, error) {
	stopTurn := false
	for _, block := range toolUses {
		resultText, isError := p.executeOne(ctx, rs, state, block)

		payload, err := reconstruct.EncodeToolResultPayload(block.ToolUseID, resultText, isError)
		if err != nil {
			return false, err
		}
		if err := p.persist(ctx, rs, store.EventToolResult, payload); err != nil {
			return false, err
		}

		p.opts.Hooks.RunBackground(ctx, hooks.Input{
			Type: hooks.PostToolUse, SessionID: rs.sessionID, ToolName: block.ToolName, Payload: block.Arguments,
		})

		if tool, ok := p.opts.Registry.Get(block.ToolName); ok && tool.StopsTurn() {
			stopTurn = true
		}
	}
	return stopTurn, nil
}

// executeOne applies guardrails and pre-hooks, then dispatches to the
// tool. Never returns an error: every failure becomes an error-flagged
// tool result so the loop continues.
func (p *Pipeline) executeOne(ctx context.Context, rs *runState, state *reconstruct.State, block reconstruct.ContentBlock) (string, bool) {
	args := make(map[string]interface{})
	if len(block.Arguments) > 0 {
		if err := json.Unmarshal(block.Arguments, &args); err != nil {
			return fmt.Sprintf("invalid tool arguments: %v", err), true
		}
	}

	if decision := p.opts.Guards.Evaluate(block.ToolName, args); decision.Blocked() {
		return "[Blocked: " + decision.Reason + "]", true
	}

	hookResult := p.opts.Hooks.RunBlocking(ctx, hooks.Input{
		Type: hooks.PreToolUse, SessionID: rs.sessionID, ToolName: block.ToolName, Payload: block.Arguments,
	})
	arguments := block.Arguments
	switch hookResult.Decision {
	case hooks.DecisionBlock:
		return "[Blocked: " + hookResult.Reason + "]", true
	case hooks.DecisionModify:
		if len(hookResult.ModifiedPayload) > 0 {
			arguments = hookResult.ModifiedPayload
		}
	}

	tool, ok := p.opts.Registry.Get(block.ToolName)
	if !ok {
		return fmt.Sprintf("unknown tool %q", block.ToolName), true
	}

	if cmd, ok := args["command"].(string); ok {
		rs.toolCommands = append(rs.toolCommands, cmd)
	}

	if tool.IsInteractive() {
		// Track the call so clients can observe the awaiting-user
		// state; the next prompt (or an abort) resolves it.
		p.opts.Orch.RegisterToolCall(rs.sessionID, block.ToolUseID)
	}

	result, err := tool.Execute(ctx, arguments, tools.Context{
		ToolCallID:       block.ToolUseID,
		SessionID:        rs.sessionID,
		WorkspaceID:      rs.workspaceID,
		WorkingDir:       state.WorkingDirectory,
		SubagentDepth:    p.opts.SubagentDepth,
		MaxSubagentDepth: tools.DefaultMaxSubagentDepth,
	})
	if err != nil {
		return fmt.Sprintf("tool %s failed: %v", block.ToolName, err), true
	}
	return result.ForLLM, result.IsError
}

// maybeCompact evaluates the trigger and, when it fires, runs the
// pre-compact hooks and the compaction itself.
func (p *Pipeline) maybeCompact(ctx context.Context, rs *runState, usage tokens.Usage) {
	if p.opts.Trigger == nil || p.opts.Compactor == nil {
		return
	}
	ratio := float64(usage.ContextWindowTokens) / float64(p.opts.ContextWindow)
	decision := p.opts.Trigger.Tick(compaction.Observation{
		TokenRatio:       ratio,
		RecentEventTypes: rs.persistedTypes,
		RecentToolCmds:   rs.toolCommands,
	})
	if !decision.Compact {
		return
	}

	hookResult := p.opts.Hooks.RunBlocking(ctx, hooks.Input{Type: hooks.PreCompact, SessionID: rs.sessionID})
	if hookResult.Decision == hooks.DecisionBlock {
		slog.Info("compaction vetoed by hook", "session_id", rs.sessionID, "reason", hookResult.Reason)
		return
	}

	state, err := p.opts.Orch.State(ctx, rs.sessionID)
	if err != nil {
		slog.Warn("compaction: load state", "session_id", rs.sessionID, "error", err)
		return
	}
	if _, err := p.opts.Compactor.Compact(ctx, rs.sessionID, rs.model, state, decision.Reason); err != nil {
		slog.Warn("compaction failed", "session_id", rs.sessionID, "error", err)
		return
	}
	p.opts.Trigger.Reset()
	p.opts.Composer.Rules().Reset()
	p.opts.Orch.InvalidateState(rs.sessionID)
	p.opts.Orch.Bus().PublishTyped(protocol.EventAgentCompaction, rs.sessionID, rs.runID, map[string]string{
		"reason": decision.Reason,
	})
}

// persist appends one event, invalidates the cached projection, and
// broadcasts event.new.
func (p *Pipeline) persist(ctx context.Context, rs *runState, eventType, payload string) error {
	evt, err := p.opts.Store.Append(ctx, rs.sessionID, eventType, payload, nil)
	if err != nil {
		return err
	}
	rs.persistedTypes = append(rs.persistedTypes, eventType)
	p.opts.Orch.InvalidateState(rs.sessionID)
	p.opts.Orch.Bus().PublishTyped(protocol.EventNew, rs.sessionID, rs.runID, map[string]interface{}{
		"eventId":  evt.ID,
		"type":     evt.Type,
		"sequence": evt.Sequence,
	})
	return nil
}

// broadcastStream relays one normalized provider event as an
// agent.turn broadcast. Deltas are broadcast-only; nothing is
// persisted until Done.
func (p *Pipeline) broadcastStream(rs *runState, ev providers.StreamEvent) {
	data := map[string]interface{}{"type": string(ev.Kind)}
	switch ev.Kind {
	case providers.EventTextDelta, providers.EventThinkingDelta:
		data["delta"] = ev.Delta
	case providers.EventToolCallStart:
		data["toolCallId"] = ev.ToolCallID
		data["toolName"] = ev.ToolName
	case providers.EventToolCallDelta:
		data["toolCallId"] = ev.ToolCallID
		data["argumentsDelta"] = ev.ArgumentsDelta
	case providers.EventToolCallEnd:
		if ev.ToolCall != nil {
			data["toolCallId"] = ev.ToolCall.ID
			data["toolName"] = ev.ToolCall.Name
		}
	case providers.EventDone:
		data["stopReason"] = string(ev.StopReason)
	case providers.EventError:
		if ev.Err != nil {
			data["errorKind"] = string(ev.Err.Kind)
			data["message"] = ev.Err.Error()
			if ev.Err.RetryAfter > 0 {
				data["retryAfterMs"] = ev.Err.RetryAfter.Milliseconds()
			}
		}
	case providers.EventRetryAttempt:
		data["attempt"] = ev.Attempt
		data["delayMs"] = ev.RetryDelay.Milliseconds()
	}
	p.opts.Orch.Bus().PublishTyped(protocol.EventAgentTurn, rs.sessionID, rs.runID, data)
}

func (p *Pipeline) broadcastCancelled(rs *runState) {
	p.opts.Orch.Bus().PublishTyped(protocol.EventAgentTurn, rs.sessionID, rs.runID, map[string]string{
		"type": "cancelled",
	})
}

func toolUseBlocks(msg *reconstruct.Message) []reconstruct.ContentBlock {
	if msg == nil {
		return nil
	}
	var out []reconstruct.ContentBlock
	for _, b := range msg.Content {
		if b.Type == "tool_use" {
			out = append(out, b)
		}
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
