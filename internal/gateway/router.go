package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tronrun/agentruntime/internal/orchestrator"
	"github.com/tronrun/agentruntime/internal/store"
	"github.com/tronrun/agentruntime/pkg/protocol"
)

// MethodRouter maps RPC method names to handlers.
type MethodRouter struct {
	server   *Server
	handlers map[string]func(ctx context.Context, params json.RawMessage) (interface{}, *protocol.Error)
}

// NewMethodRouter registers every supported method.
func NewMethodRouter(s *Server) *MethodRouter {
	r := &MethodRouter{server: s}
	r.handlers = map[string]func(ctx context.Context, params json.RawMessage) (interface{}, *protocol.Error){
		protocol.MethodSessionCreate:  r.sessionCreate,
		protocol.MethodSessionResume:  r.sessionResume,
		protocol.MethodSessionEnd:     r.sessionEnd,
		protocol.MethodSessionFork:    r.sessionFork,
		protocol.MethodSessionArchive: r.sessionEnd, // archive is end without delete
		protocol.MethodSessionRewind:  r.sessionRewind,
		protocol.MethodSessionDelete:  r.sessionDelete,
		protocol.MethodAgentPrompt:    r.agentPrompt,
		protocol.MethodAgentAbort:     r.agentAbort,

		// Worktree methods are wire contracts only; this runtime hosts
		// no worktree manager.
		protocol.MethodWorktreeGetStatus: r.worktreeUnavailable,
		protocol.MethodWorktreeCommit:    r.worktreeUnavailable,
		protocol.MethodWorktreeMerge:     r.worktreeUnavailable,
	}
	return r
}

// Dispatch runs the handler for one request, converting the outcome to
// a Response.
func (r *MethodRouter) Dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	handler, ok := r.handlers[req.Method]
	if !ok {
		return errorResponse(req.ID, &protocol.Error{
			Code: protocol.ErrCodeInvalidParams, Message: fmt.Sprintf("unknown method %q", req.Method),
		})
	}
	result, rpcErr := handler(ctx, req.Params)
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, &protocol.Error{Code: protocol.ErrCodeInternal, Message: "marshal result"})
	}
	return protocol.Response{ID: req.ID, Success: true, Result: raw}
}

func errorResponse(id string, rpcErr *protocol.Error) protocol.Response {
	return protocol.Response{ID: id, Success: false, Error: rpcErr}
}

func storeError(err error) *protocol.Error {
	switch {
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrEventNotFound):
		return &protocol.Error{Code: protocol.ErrCodeSessionNotFound, Message: err.Error()}
	default:
		return &protocol.Error{Code: protocol.ErrCodeInternal, Message: err.Error()}
	}
}

func decode[T any](params json.RawMessage) (T, *protocol.Error) {
	var v T
	if len(params) == 0 {
		return v, &protocol.Error{Code: protocol.ErrCodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, &protocol.Error{Code: protocol.ErrCodeInvalidParams, Message: err.Error()}
	}
	return v, nil
}

func sessionSummary(s *store.Session) map[string]interface{} {
	out := map[string]interface{}{
		"sessionId":        s.ID,
		"workspaceId":      s.WorkspaceID,
		"model":            s.Model,
		"workingDirectory": s.WorkingDirectory,
		"createdAt":        s.CreatedAt.Format(time.RFC3339Nano),
		"lastActiveAt":     s.LastActiveAt.Format(time.RFC3339Nano),
		"headEventId":      s.HeadEventID,
		"inputTokens":      s.TotalInputTokens,
		"outputTokens":     s.TotalOutputTokens,
		"cost":             s.TotalCost,
	}
	if s.Title != nil {
		out["title"] = *s.Title
	}
	if s.EndedAt != nil {
		out["endedAt"] = s.EndedAt.Format(time.RFC3339Nano)
	}
	return out
}

func (r *MethodRouter) sessionCreate(ctx context.Context, params json.RawMessage) (interface{}, *protocol.Error) {
	p, perr := decode[struct {
		Model            string  `json:"model"`
		WorkingDirectory string  `json:"workingDirectory"`
		Title            *string `json:"title"`
	}](params)
	if perr != nil {
		return nil, perr
	}
	if p.Model == "" || p.WorkingDirectory == "" {
		return nil, &protocol.Error{Code: protocol.ErrCodeInvalidParams, Message: "model and workingDirectory are required"}
	}
	sess, _, err := r.server.store.CreateSession(ctx, p.Model, p.WorkingDirectory, p.Title)
	if err != nil {
		return nil, storeError(err)
	}
	r.server.orch.Bus().PublishTyped(protocol.EventSessionCreated, sess.ID, "", sessionSummary(sess))
	return sessionSummary(sess), nil
}

func (r *MethodRouter) sessionResume(ctx context.Context, params json.RawMessage) (interface{}, *protocol.Error) {
	p, perr := decode[struct {
		SessionID string `json:"sessionId"`
	}](params)
	if perr != nil {
		return nil, perr
	}
	sess, err := r.server.store.GetSession(ctx, p.SessionID)
	if err != nil {
		return nil, storeError(err)
	}
	if sess.EndedAt != nil {
		if err := r.server.store.ClearSessionEnded(ctx, p.SessionID); err != nil {
			return nil, storeError(err)
		}
	}
	r.server.orch.InvalidateState(p.SessionID)
	sess, err = r.server.store.GetSession(ctx, p.SessionID)
	if err != nil {
		return nil, storeError(err)
	}
	return sessionSummary(sess), nil
}

func (r *MethodRouter) sessionEnd(ctx context.Context, params json.RawMessage) (interface{}, *protocol.Error) {
	p, perr := decode[struct {
		SessionID string `json:"sessionId"`
	}](params)
	if perr != nil {
		return nil, perr
	}
	r.server.orch.Abort(p.SessionID)
	if err := r.server.store.EndSession(ctx, p.SessionID); err != nil {
		return nil, storeError(err)
	}
	r.server.orch.InvalidateState(p.SessionID)
	r.server.orch.Bus().PublishTyped(protocol.EventSessionEnded, p.SessionID, "", nil)
	return map[string]interface{}{"sessionId": p.SessionID}, nil
}

func (r *MethodRouter) sessionFork(ctx context.Context, params json.RawMessage) (interface{}, *protocol.Error) {
	p, perr := decode[struct {
		SessionID string  `json:"sessionId"`
		Title     *string `json:"title"`
	}](params)
	if perr != nil {
		return nil, perr
	}
	source, err := r.server.store.GetSession(ctx, p.SessionID)
	if err != nil {
		return nil, storeError(err)
	}
	forked, _, err := r.server.store.Fork(ctx, source.HeadEventID, p.Title)
	if err != nil {
		return nil, storeError(err)
	}
	r.server.orch.Bus().PublishTyped(protocol.EventSessionForked, forked.ID, "", map[string]string{
		"sourceSessionId": p.SessionID,
	})
	return sessionSummary(forked), nil
}

func (r *MethodRouter) sessionRewind(ctx context.Context, params json.RawMessage) (interface{}, *protocol.Error) {
	p, perr := decode[struct {
		SessionID string `json:"sessionId"`
		EventID   string `json:"eventId"`
		Hard      bool   `json:"hard"`
	}](params)
	if perr != nil {
		return nil, perr
	}
	if err := r.server.store.Rewind(ctx, p.SessionID, p.EventID, p.Hard); err != nil {
		return nil, storeError(err)
	}
	r.server.orch.InvalidateState(p.SessionID)
	r.server.orch.Bus().PublishTyped(protocol.EventSessionRewound, p.SessionID, "", map[string]string{
		"eventId": p.EventID,
	})
	return map[string]interface{}{"sessionId": p.SessionID, "headEventId": p.EventID}, nil
}

func (r *MethodRouter) sessionDelete(ctx context.Context, params json.RawMessage) (interface{}, *protocol.Error) {
	p, perr := decode[struct {
		SessionID string `json:"sessionId"`
	}](params)
	if perr != nil {
		return nil, perr
	}
	r.server.orch.Abort(p.SessionID)
	if err := r.server.store.DeleteSession(ctx, p.SessionID); err != nil {
		return nil, storeError(err)
	}
	r.server.orch.InvalidateState(p.SessionID)
	return map[string]interface{}{"sessionId": p.SessionID}, nil
}

func (r *MethodRouter) agentPrompt(ctx context.Context, params json.RawMessage) (interface{}, *protocol.Error) {
	p, perr := decode[struct {
		SessionID string `json:"sessionId"`
		Prompt    string `json:"prompt"`
	}](params)
	if perr != nil {
		return nil, perr
	}
	if p.Prompt == "" {
		return nil, &protocol.Error{Code: protocol.ErrCodeInvalidParams, Message: "prompt is required"}
	}
	if _, err := r.server.store.GetSession(ctx, p.SessionID); err != nil {
		return nil, storeError(err)
	}

	runID := "run_" + uuid.NewString()
	runCtx, err := r.server.orch.StartRun(p.SessionID, runID)
	if err != nil {
		var busy *orchestrator.ServerBusyError
		switch {
		case errors.Is(err, orchestrator.ErrSessionBusy):
			return nil, &protocol.Error{Code: protocol.ErrCodeSessionBusy, Message: err.Error()}
		case errors.As(err, &busy):
			details, _ := json.Marshal(map[string]int{"current": busy.Current, "max": busy.Max})
			return nil, &protocol.Error{Code: protocol.ErrCodeServerBusy, Message: err.Error(), Details: details}
		default:
			return nil, &protocol.Error{Code: protocol.ErrCodeInternal, Message: err.Error()}
		}
	}

	go func() {
		defer r.server.orch.CompleteRun(p.SessionID)
		if err := r.server.pipeline.Run(runCtx, p.SessionID, runID, p.Prompt); err != nil {
			slog.Warn("run failed", "session_id", p.SessionID, "run_id", runID, "error", err)
		}
	}()

	return map[string]string{"runId": runID}, nil
}

func (r *MethodRouter) agentAbort(ctx context.Context, params json.RawMessage) (interface{}, *protocol.Error) {
	p, perr := decode[struct {
		SessionID string `json:"sessionId"`
	}](params)
	if perr != nil {
		return nil, perr
	}
	aborted := r.server.orch.Abort(p.SessionID)
	return map[string]interface{}{"aborted": aborted}, nil
}

func (r *MethodRouter) worktreeUnavailable(ctx context.Context, params json.RawMessage) (interface{}, *protocol.Error) {
	return nil, &protocol.Error{
		Code:    protocol.ErrCodeWorktreeNotFound,
		Message: "no worktree manager is attached to this runtime",
	}
}
