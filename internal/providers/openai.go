package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tronrun/agentruntime/internal/reconstruct"
	"github.com/tronrun/agentruntime/internal/tokens"
)

const (
	defaultOpenAIModel = "gpt-5.2"
	openAIAPIBase      = "https://api.openai.com/v1"
)

// OpenAIProvider streams the OpenAI Responses API, translating its SSE
// events into the normalized vocabulary. The reasoning stream has two
// shapes — full reasoning text and summary text — and full text always
// supersedes the summary once it appears.
type OpenAIProvider struct {
	creds          CredentialSource
	baseURL        string
	defaultModel   string
	client         *http.Client
	sseIdleTimeout time.Duration
}

// NewOpenAIProvider creates an OpenAI Responses provider.
func NewOpenAIProvider(creds CredentialSource, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		creds:          creds,
		baseURL:        openAIAPIBase,
		defaultModel:   defaultOpenAIModel,
		client:         &http.Client{Timeout: 5 * time.Minute},
		sseIdleTimeout: DefaultSSEIdleTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type OpenAIOption func(*OpenAIProvider)

func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) { p.defaultModel = model }
}

func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.client = client }
}

func WithOpenAISSEIdleTimeout(d time.Duration) OpenAIOption {
	return func(p *OpenAIProvider) { p.sseIdleTimeout = d }
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)

		body := p.buildRequestBody(req)
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			out <- ErrorEvent(err)
			return
		}
		defer respBody.Close()

		p.consumeSSE(respBody, out)
	}()
	return out
}

// respCall is one registered function call being assembled from
// argument deltas.
type respCall struct {
	callID string
	name   string
	args   strings.Builder
}

// responsesState is the explicit per-stream state record: edge flags
// make the "reasoning_text supersedes summary" rule a single visible
// branch rather than implicit callback ordering.
type responsesState struct {
	text     strings.Builder
	thinking strings.Builder

	callsByItem map[string]*respCall
	callOrder   []*respCall

	seenThinking    map[string]bool
	hasReasoningTxt bool
	textStarted     bool
	thinkingStarted bool

	usage tokens.RawUsage
	done  bool
}

func (p *OpenAIProvider) consumeSSE(body io.ReadCloser, out chan<- StreamEvent) {
	st := &responsesState{
		callsByItem:  make(map[string]*respCall),
		seenThinking: make(map[string]bool),
	}
	scanner := newSSEScanner(body)

	for {
		line, ok, err := scanner.next(p.sseIdleTimeout)
		if err != nil {
			out <- ErrorEvent(err)
			return
		}
		if !ok {
			break
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ev responsesEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			out <- StreamEvent{Kind: EventError, Err: &ClassifiedError{
				Kind: ErrorKindSSEParse, Retryable: false,
				Err: fmt.Errorf("openai: malformed stream event: %w", err),
			}}
			return
		}

		if terminal := p.handleEvent(st, &ev, out); terminal {
			return
		}
		if st.done {
			break
		}
	}

	if !st.done {
		// The server closed the stream without response.completed.
		out <- StreamEvent{Kind: EventError, Err: &ClassifiedError{
			Kind: ErrorKindSSEParse, Retryable: false,
			Err: fmt.Errorf("openai: stream ended before response.completed"),
		}}
		return
	}
	p.emitFinal(st, out)
}

// handleEvent dispatches on the event-type string. Returns true when a
// terminal error was emitted.
func (p *OpenAIProvider) handleEvent(st *responsesState, ev *responsesEvent, out chan<- StreamEvent) bool {
	switch ev.Type {
	case "response.output_text.delta":
		if !st.textStarted {
			st.textStarted = true
			out <- StreamEvent{Kind: EventTextStart}
		}
		st.text.WriteString(ev.Delta)
		out <- StreamEvent{Kind: EventTextDelta, Delta: ev.Delta}

	case "response.output_item.added":
		switch ev.Item.Type {
		case "function_call":
			call := &respCall{callID: ev.Item.CallID, name: ev.Item.Name}
			if ev.Item.Arguments != "" {
				call.args.WriteString(ev.Item.Arguments)
			}
			st.callsByItem[ev.Item.ID] = call
			st.callOrder = append(st.callOrder, call)
			out <- StreamEvent{Kind: EventToolCallStart, ToolCallID: call.callID, ToolName: call.name}
		case "reasoning":
			if !st.thinkingStarted {
				st.thinkingStarted = true
				out <- StreamEvent{Kind: EventThinkingStart}
			}
		}

	case "response.reasoning_text.delta":
		if !st.hasReasoningTxt {
			// Full reasoning text supersedes any summary text that may
			// already have accumulated.
			st.hasReasoningTxt = true
			st.thinking.Reset()
		}
		if !st.thinkingStarted {
			st.thinkingStarted = true
			out <- StreamEvent{Kind: EventThinkingStart}
		}
		st.thinking.WriteString(ev.Delta)
		out <- StreamEvent{Kind: EventThinkingDelta, Delta: ev.Delta}

	case "response.reasoning_summary_text.delta":
		if st.hasReasoningTxt {
			break
		}
		if st.seenThinking[ev.Delta] {
			break
		}
		st.seenThinking[ev.Delta] = true
		if !st.thinkingStarted {
			st.thinkingStarted = true
			out <- StreamEvent{Kind: EventThinkingStart}
		}
		st.thinking.WriteString(ev.Delta)
		out <- StreamEvent{Kind: EventThinkingDelta, Delta: ev.Delta}

	case "response.function_call_arguments.delta":
		call, ok := st.callsByItem[ev.ItemID]
		if !ok {
			break
		}
		call.args.WriteString(ev.Delta)
		out <- StreamEvent{Kind: EventToolCallDelta, ToolCallID: call.callID, ArgumentsDelta: ev.Delta}

	case "response.output_item.done":
		if ev.Item.Type == "reasoning" && st.thinking.Len() == 0 {
			// Nothing streamed for this item; its entire content
			// arrived in the done event's summary.
			for _, part := range ev.Item.Summary {
				if part.Text == "" {
					continue
				}
				if !st.thinkingStarted {
					st.thinkingStarted = true
					out <- StreamEvent{Kind: EventThinkingStart}
				}
				st.thinking.WriteString(part.Text)
				out <- StreamEvent{Kind: EventThinkingDelta, Delta: part.Text}
			}
		}

	case "response.completed":
		p.mergeFinalOutput(st, ev.Response.Output, out)
		st.usage.Input = ev.Response.Usage.InputTokens
		st.usage.Output = ev.Response.Usage.OutputTokens
		st.usage.CacheRead = ev.Response.Usage.InputTokensDetails.CachedTokens
		st.done = true

	case "response.failed", "error":
		msg := ev.Message
		if msg == "" && ev.Response.Error != nil {
			msg = ev.Response.Error.Message
		}
		out <- StreamEvent{Kind: EventError, Err: &ClassifiedError{
			Kind: ErrorKindAPI, Retryable: false,
			Err: fmt.Errorf("openai: response failed: %s", msg),
		}}
		return true
	}
	return false
}

// mergeFinalOutput folds the completed response's output array into
// the state, covering items that never produced a delta event.
func (p *OpenAIProvider) mergeFinalOutput(st *responsesState, output []responsesItem, out chan<- StreamEvent) {
	for _, item := range output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type == "output_text" && part.Text != "" && st.text.Len() == 0 {
					if !st.textStarted {
						st.textStarted = true
						out <- StreamEvent{Kind: EventTextStart}
					}
					st.text.WriteString(part.Text)
					out <- StreamEvent{Kind: EventTextDelta, Delta: part.Text}
				}
			}
		case "function_call":
			if _, ok := st.callsByItem[item.ID]; ok {
				continue
			}
			call := &respCall{callID: item.CallID, name: item.Name}
			call.args.WriteString(item.Arguments)
			st.callsByItem[item.ID] = call
			st.callOrder = append(st.callOrder, call)
			out <- StreamEvent{Kind: EventToolCallStart, ToolCallID: call.callID, ToolName: call.name}
		case "reasoning":
			if st.thinking.Len() > 0 {
				continue
			}
			for _, part := range item.Summary {
				if part.Text == "" {
					continue
				}
				if !st.thinkingStarted {
					st.thinkingStarted = true
					out <- StreamEvent{Kind: EventThinkingStart}
				}
				st.thinking.WriteString(part.Text)
				out <- StreamEvent{Kind: EventThinkingDelta, Delta: part.Text}
			}
		}
	}
}

// emitFinal closes any open streams, ends every registered call, and
// emits Done with the assembled assistant message.
func (p *OpenAIProvider) emitFinal(st *responsesState, out chan<- StreamEvent) {
	if st.thinkingStarted {
		out <- StreamEvent{Kind: EventThinkingEnd, Thinking: st.thinking.String()}
	}
	if st.textStarted {
		out <- StreamEvent{Kind: EventTextEnd, Text: st.text.String()}
	}

	var blocks []reconstruct.ContentBlock
	if st.thinking.Len() > 0 {
		blocks = append(blocks, reconstruct.ContentBlock{Type: "thinking", Thinking: st.thinking.String()})
	}
	if st.text.Len() > 0 {
		blocks = append(blocks, reconstruct.ContentBlock{Type: "text", Text: st.text.String()})
	}

	for _, call := range st.callOrder {
		args := parseCallArguments(call.args.String())
		out <- StreamEvent{Kind: EventToolCallEnd, ToolCall: &ToolCall{
			ID:        call.callID,
			Name:      call.name,
			Arguments: args,
		}}
		blocks = append(blocks, reconstruct.ContentBlock{
			Type:      "tool_use",
			ToolUseID: call.callID,
			ToolName:  call.name,
			Arguments: args,
		})
	}

	stop := StopReasonStop
	if len(st.callOrder) > 0 {
		stop = StopReasonToolCalls
	}
	usage := st.usage
	out <- StreamEvent{
		Kind:       EventDone,
		Message:    &reconstruct.Message{Role: reconstruct.RoleAssistant, Content: blocks},
		StopReason: stop,
		Usage:      &usage,
	}
}

// parseCallArguments validates accumulated argument JSON; on parse
// failure the raw string is preserved under a sentinel key rather than
// dropped.
func parseCallArguments(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	fallback, _ := json.Marshal(map[string]string{"_raw_arguments": raw})
	return fallback
}

// buildRequestBody serializes the composed request into the Responses
// API input shape: messages become input items, tool uses become
// function_call items, tool results become function_call_output items.
// Unsigned thinking never crosses this boundary either — OpenAI has no
// replayable reasoning blocks, so thinking is simply omitted.
func (p *OpenAIProvider) buildRequestBody(req Request) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	var instructions strings.Builder
	for _, b := range req.System {
		if b.Content == "" {
			continue
		}
		if instructions.Len() > 0 {
			instructions.WriteString("\n\n")
		}
		instructions.WriteString(b.Content)
	}

	var input []map[string]interface{}
	for _, m := range req.Messages {
		switch m.Role {
		case reconstruct.RoleUser:
			var parts []map[string]interface{}
			for _, b := range m.Content {
				switch b.Type {
				case "text":
					if b.Text != "" {
						parts = append(parts, map[string]interface{}{"type": "input_text", "text": b.Text})
					}
				case "image":
					parts = append(parts, map[string]interface{}{
						"type":      "input_image",
						"image_url": fmt.Sprintf("data:%s;base64,%s", b.MimeType, b.Data),
					})
				case "document":
					part := map[string]interface{}{
						"type":      "input_file",
						"file_data": fmt.Sprintf("data:%s;base64,%s", b.MimeType, b.Data),
					}
					if b.Filename != "" {
						part["filename"] = b.Filename
					}
					parts = append(parts, part)
				}
			}
			if len(parts) == 0 {
				continue
			}
			input = append(input, map[string]interface{}{
				"type": "message", "role": "user", "content": parts,
			})

		case reconstruct.RoleAssistant:
			var parts []map[string]interface{}
			for _, b := range m.Content {
				if b.Type == "text" && b.Text != "" {
					parts = append(parts, map[string]interface{}{"type": "output_text", "text": b.Text})
				}
			}
			if len(parts) > 0 {
				input = append(input, map[string]interface{}{
					"type": "message", "role": "assistant", "content": parts,
				})
			}
			for _, b := range m.Content {
				if b.Type != "tool_use" {
					continue
				}
				args := "{}"
				if len(b.Arguments) > 0 {
					args = string(b.Arguments)
				}
				input = append(input, map[string]interface{}{
					"type":      "function_call",
					"call_id":   UnremapToolID(b.ToolUseID),
					"name":      b.ToolName,
					"arguments": args,
				})
			}

		case reconstruct.RoleToolResult:
			for _, b := range m.Content {
				if b.Type != "tool_result" {
					continue
				}
				output := b.Text
				if output == "" && len(b.Content) > 0 {
					for _, inner := range b.Content {
						if inner.Type == "text" {
							output += inner.Text
						}
					}
				}
				input = append(input, map[string]interface{}{
					"type":    "function_call_output",
					"call_id": UnremapToolID(b.ToolResultID),
					"output":  output,
				})
			}
		}
	}

	body := map[string]interface{}{
		"model":  model,
		"input":  input,
		"stream": true,
	}
	if instructions.Len() > 0 {
		body["instructions"] = instructions.String()
	}
	if req.MaxTokens > 0 {
		body["max_output_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  CleanSchemaForProvider("openai", t.Parameters),
			})
		}
		body["tools"] = tools
	}
	if level, ok := req.Options["thinking_level"].(string); ok && level != "" && level != "off" {
		body["reasoning"] = map[string]interface{}{"effort": level, "summary": "auto"}
	}
	return body
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &ClassifiedError{Kind: ErrorKindJSON, Retryable: false, Err: fmt.Errorf("openai: marshal request: %w", err)}
	}
	cred, err := p.creds.Credential(ctx)
	if err != nil {
		return nil, &ClassifiedError{Kind: ErrorKindAuth, Retryable: false, Err: fmt.Errorf("openai: resolve credential: %w", err)}
	}
	key := cred.APIKey
	if cred.AccessToken != "" {
		key = cred.AccessToken
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/responses", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("openai: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

// --- OpenAI Responses SSE event types ---

type responsesEvent struct {
	Type     string            `json:"type"`
	Delta    string            `json:"delta,omitempty"`
	ItemID   string            `json:"item_id,omitempty"`
	Item     responsesItem     `json:"item,omitempty"`
	Response responsesResponse `json:"response,omitempty"`
	Message  string            `json:"message,omitempty"`
}

type responsesItem struct {
	ID        string              `json:"id,omitempty"`
	Type      string              `json:"type"`
	CallID    string              `json:"call_id,omitempty"`
	Name      string              `json:"name,omitempty"`
	Arguments string              `json:"arguments,omitempty"`
	Summary   []responsesTextPart `json:"summary,omitempty"`
	Content   []responsesTextPart `json:"content,omitempty"`
}

type responsesTextPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesResponse struct {
	Output []responsesItem `json:"output,omitempty"`
	Usage  responsesUsage  `json:"usage,omitempty"`
	Error  *responsesError `json:"error,omitempty"`
}

type responsesUsage struct {
	InputTokens        int64 `json:"input_tokens"`
	OutputTokens       int64 `json:"output_tokens"`
	InputTokensDetails struct {
		CachedTokens int64 `json:"cached_tokens"`
	} `json:"input_tokens_details"`
}

type responsesError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
