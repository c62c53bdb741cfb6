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
	defaultClaudeModel  = "claude-sonnet-4-5-20250929"
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// Credential is what a provider call authenticates with. AccessToken
// (OAuth bearer) is preferred when both are set.
type Credential struct {
	APIKey      string
	AccessToken string
}

// CredentialSource resolves the current credential per call, so OAuth
// refresh (internal/auth) is picked up without rebuilding the provider.
type CredentialSource interface {
	Credential(ctx context.Context) (Credential, error)
}

// StaticAPIKey is the trivial CredentialSource for key-only setups.
type StaticAPIKey string

func (k StaticAPIKey) Credential(ctx context.Context) (Credential, error) {
	return Credential{APIKey: string(k)}, nil
}

// AnthropicProvider streams the Anthropic Messages API, translating its
// SSE events into the normalized vocabulary.
type AnthropicProvider struct {
	creds          CredentialSource
	baseURL        string
	defaultModel   string
	client         *http.Client
	sseIdleTimeout time.Duration
	pruneCfg       PruneConfig
	clock          cacheClock
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(creds CredentialSource, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		creds:          creds,
		baseURL:        anthropicAPIBase,
		defaultModel:   defaultClaudeModel,
		client:         &http.Client{Timeout: 5 * time.Minute},
		sseIdleTimeout: DefaultSSEIdleTimeout,
		pruneCfg:       DefaultPruneConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type AnthropicOption func(*AnthropicProvider)

func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) { p.defaultModel = model }
}

func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithAnthropicHTTPClient(client *http.Client) AnthropicOption {
	return func(p *AnthropicProvider) { p.client = client }
}

func WithAnthropicSSEIdleTimeout(d time.Duration) AnthropicOption {
	return func(p *AnthropicProvider) { p.sseIdleTimeout = d }
}

func WithAnthropicPruneConfig(cfg PruneConfig) AnthropicOption {
	return func(p *AnthropicProvider) { p.pruneCfg = cfg }
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Stream sends one Messages request and folds the SSE response into
// normalized events. Connection failures surface as an in-band Error
// event; the reliability wrapper decides whether to retry.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)

		messages := req.Messages
		if p.clock.coldAndTouch(p.pruneCfg.CacheTTL) {
			messages = PruneColdToolResults(messages, p.pruneCfg)
		}

		body, err := p.buildRequestBody(req, messages)
		if err != nil {
			out <- ErrorEvent(err)
			return
		}
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

// anthropicStreamState accumulates one response as the SSE events
// arrive. Tool-use JSON fragments are keyed by content-block index.
type anthropicStreamState struct {
	blocks       []reconstruct.ContentBlock
	toolCallJSON map[int]string
	currentIndex int
	usage        tokens.RawUsage
	stopReason   StopReason
}

func (p *AnthropicProvider) consumeSSE(body io.ReadCloser, out chan<- StreamEvent) {
	st := &anthropicStreamState{toolCallJSON: make(map[int]string), stopReason: StopReasonStop}
	scanner := newSSEScanner(body)
	var currentEvent string

	for {
		line, ok, err := scanner.next(p.sseIdleTimeout)
		if err != nil {
			out <- ErrorEvent(err)
			return
		}
		if !ok {
			break
		}

		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch currentEvent {
		case "message_start":
			var ev anthropicMessageStartEvent
			if json.Unmarshal([]byte(data), &ev) == nil {
				st.usage.Input = int64(ev.Message.Usage.InputTokens)
				st.usage.CacheRead = int64(ev.Message.Usage.CacheReadInputTokens)
				st.usage.CacheCreation = int64(ev.Message.Usage.CacheCreationInputTokens)
				st.usage.CacheCreation5m = int64(ev.Message.Usage.CacheCreation.Ephemeral5m)
				st.usage.CacheCreation1h = int64(ev.Message.Usage.CacheCreation.Ephemeral1h)
			}

		case "content_block_start":
			var ev anthropicContentBlockStartEvent
			if json.Unmarshal([]byte(data), &ev) != nil {
				break
			}
			st.currentIndex = ev.Index
			for len(st.blocks) <= ev.Index {
				st.blocks = append(st.blocks, reconstruct.ContentBlock{})
			}
			switch ev.ContentBlock.Type {
			case "text":
				st.blocks[ev.Index] = reconstruct.ContentBlock{Type: "text"}
				out <- StreamEvent{Kind: EventTextStart}
			case "thinking", "redacted_thinking":
				st.blocks[ev.Index] = reconstruct.ContentBlock{Type: "thinking"}
				out <- StreamEvent{Kind: EventThinkingStart}
			case "tool_use":
				id := UnremapToolID(ev.ContentBlock.ID)
				name := strings.TrimSpace(ev.ContentBlock.Name)
				st.blocks[ev.Index] = reconstruct.ContentBlock{Type: "tool_use", ToolUseID: id, ToolName: name}
				out <- StreamEvent{Kind: EventToolCallStart, ToolCallID: id, ToolName: name}
			}

		case "content_block_delta":
			var ev anthropicContentBlockDeltaEvent
			if json.Unmarshal([]byte(data), &ev) != nil {
				break
			}
			idx := ev.Index
			if idx >= len(st.blocks) {
				break
			}
			st.currentIndex = idx
			switch ev.Delta.Type {
			case "text_delta":
				st.blocks[idx].Text += ev.Delta.Text
				out <- StreamEvent{Kind: EventTextDelta, Delta: ev.Delta.Text}
			case "thinking_delta":
				st.blocks[idx].Thinking += ev.Delta.Thinking
				out <- StreamEvent{Kind: EventThinkingDelta, Delta: ev.Delta.Thinking}
			case "signature_delta":
				st.blocks[idx].Signature += ev.Delta.Signature
			case "input_json_delta":
				st.toolCallJSON[idx] += ev.Delta.PartialJSON
				out <- StreamEvent{
					Kind:           EventToolCallDelta,
					ToolCallID:     st.blocks[idx].ToolUseID,
					ArgumentsDelta: ev.Delta.PartialJSON,
				}
			}

		case "content_block_stop":
			idx := st.currentIndex
			if idx >= len(st.blocks) {
				break
			}
			switch st.blocks[idx].Type {
			case "text":
				out <- StreamEvent{Kind: EventTextEnd, Text: st.blocks[idx].Text}
			case "thinking":
				out <- StreamEvent{
					Kind:      EventThinkingEnd,
					Thinking:  st.blocks[idx].Thinking,
					Signature: st.blocks[idx].Signature,
				}
			case "tool_use":
				raw := st.toolCallJSON[idx]
				if raw == "" {
					raw = "{}"
				}
				st.blocks[idx].Arguments = json.RawMessage(raw)
				out <- StreamEvent{Kind: EventToolCallEnd, ToolCall: &ToolCall{
					ID:        st.blocks[idx].ToolUseID,
					Name:      st.blocks[idx].ToolName,
					Arguments: st.blocks[idx].Arguments,
				}}
			}

		case "message_delta":
			var ev anthropicMessageDeltaEvent
			if json.Unmarshal([]byte(data), &ev) != nil {
				break
			}
			switch ev.Delta.StopReason {
			case "tool_use":
				st.stopReason = StopReasonToolCalls
			case "max_tokens":
				st.stopReason = StopReasonLength
			case "":
			default:
				st.stopReason = StopReasonStop
			}
			if ev.Usage.OutputTokens > 0 {
				st.usage.Output = int64(ev.Usage.OutputTokens)
			}

		case "error":
			var ev anthropicErrorEvent
			if json.Unmarshal([]byte(data), &ev) == nil {
				kind := ErrorKindAPI
				retryable := false
				if ev.Error.Type == "overloaded_error" {
					retryable = true
				}
				out <- StreamEvent{Kind: EventError, Err: &ClassifiedError{
					Kind:      kind,
					Retryable: retryable,
					Err:       fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message),
				}}
				return
			}

		case "message_stop":
			// terminal; Done is emitted after the loop
		}
	}

	var blocks []reconstruct.ContentBlock
	for _, b := range st.blocks {
		if b.Type != "" {
			blocks = append(blocks, b)
		}
	}
	usage := st.usage
	out <- StreamEvent{
		Kind:       EventDone,
		Message:    &reconstruct.Message{Role: reconstruct.RoleAssistant, Content: blocks},
		StopReason: st.stopReason,
		Usage:      &usage,
	}
}

// buildRequestBody serializes the composed request into the Messages
// API shape. Thinking blocks without signatures are dropped here: the
// API rejects unsigned thinking on replay. In OAuth mode four cache
// breakpoints are placed — last tool (1h), last stable system block
// (1h), last volatile system block (5m), last content block of the
// last user message (5m).
func (p *AnthropicProvider) buildRequestBody(req Request, messages []reconstruct.Message) (map[string]interface{}, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	system := buildAnthropicSystem(req.System, req.OAuth)
	msgs := buildAnthropicMessages(messages, req.OAuth)

	body := map[string]interface{}{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   msgs,
		"stream":     true,
	}
	if len(system) > 0 {
		body["system"] = system
	}

	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": CleanSchemaForProvider("anthropic", t.Parameters),
			})
		}
		if req.OAuth {
			tools[len(tools)-1]["cache_control"] = cacheControl("1h")
		}
		body["tools"] = tools
	}

	if v, ok := req.Options["temperature"]; ok {
		body["temperature"] = v
	}
	if level, ok := req.Options["thinking_level"].(string); ok && level != "" && level != "off" {
		budget := anthropicThinkingBudget(level)
		body["thinking"] = map[string]interface{}{
			"type":          "enabled",
			"budget_tokens": budget,
		}
		delete(body, "temperature")
		if maxTokens < budget+4096 {
			body["max_tokens"] = budget + 8192
		}
	}

	return body, nil
}

func cacheControl(ttl string) map[string]interface{} {
	cc := map[string]interface{}{"type": "ephemeral"}
	if ttl != "" && ttl != "5m" {
		cc["ttl"] = ttl
	}
	return cc
}

func buildAnthropicSystem(blocks []SystemBlock, oauth bool) []map[string]interface{} {
	var out []map[string]interface{}
	lastStable, lastVolatile := -1, -1
	for _, b := range blocks {
		if b.Content == "" {
			continue
		}
		entry := map[string]interface{}{"type": "text", "text": b.Content}
		out = append(out, entry)
		if b.Stability == StabilityStable {
			lastStable = len(out) - 1
		} else {
			lastVolatile = len(out) - 1
		}
	}
	if oauth {
		if lastStable >= 0 {
			out[lastStable]["cache_control"] = cacheControl("1h")
		}
		if lastVolatile >= 0 {
			out[lastVolatile]["cache_control"] = cacheControl("5m")
		}
	}
	return out
}

func buildAnthropicMessages(messages []reconstruct.Message, oauth bool) []map[string]interface{} {
	var msgs []map[string]interface{}
	lastUser := -1

	for _, m := range messages {
		switch m.Role {
		case reconstruct.RoleUser:
			content := userBlocksToWire(m.Content)
			if len(content) == 0 {
				continue
			}
			msgs = append(msgs, map[string]interface{}{"role": "user", "content": content})
			lastUser = len(msgs) - 1

		case reconstruct.RoleAssistant:
			var content []map[string]interface{}
			for _, b := range m.Content {
				switch b.Type {
				case "text":
					if b.Text != "" {
						content = append(content, map[string]interface{}{"type": "text", "text": b.Text})
					}
				case "thinking":
					if b.Signature == "" {
						continue // unsigned thinking is rejected on replay
					}
					content = append(content, map[string]interface{}{
						"type":      "thinking",
						"thinking":  b.Thinking,
						"signature": b.Signature,
					})
				case "tool_use":
					var input interface{} = map[string]interface{}{}
					if len(b.Arguments) > 0 {
						input = json.RawMessage(b.Arguments)
					}
					content = append(content, map[string]interface{}{
						"type":  "tool_use",
						"id":    RemapToolID(b.ToolUseID),
						"name":  b.ToolName,
						"input": input,
					})
				}
			}
			if len(content) == 0 {
				continue
			}
			msgs = append(msgs, map[string]interface{}{"role": "assistant", "content": content})

		case reconstruct.RoleToolResult:
			for _, b := range m.Content {
				if b.Type != "tool_result" {
					continue
				}
				result := map[string]interface{}{
					"type":        "tool_result",
					"tool_use_id": RemapToolID(b.ToolResultID),
				}
				if len(b.Content) > 0 {
					result["content"] = userBlocksToWire(b.Content)
				} else {
					result["content"] = b.Text
				}
				if b.IsError {
					result["is_error"] = true
				}
				msgs = append(msgs, map[string]interface{}{
					"role":    "user",
					"content": []map[string]interface{}{result},
				})
			}
		}
	}

	if oauth && lastUser >= 0 {
		if content, ok := msgs[lastUser]["content"].([]map[string]interface{}); ok && len(content) > 0 {
			content[len(content)-1]["cache_control"] = cacheControl("5m")
		}
	}
	return msgs
}

func userBlocksToWire(blocks []reconstruct.ContentBlock) []map[string]interface{} {
	var out []map[string]interface{}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				out = append(out, map[string]interface{}{"type": "text", "text": b.Text})
			}
		case "image":
			out = append(out, map[string]interface{}{
				"type": "image",
				"source": map[string]interface{}{
					"type":       "base64",
					"media_type": b.MimeType,
					"data":       b.Data,
				},
			})
		case "document":
			doc := map[string]interface{}{
				"type": "document",
				"source": map[string]interface{}{
					"type":       "base64",
					"media_type": b.MimeType,
					"data":       b.Data,
				},
			}
			if b.Filename != "" {
				doc["title"] = b.Filename
			}
			out = append(out, doc)
		}
	}
	return out
}

// anthropicThinkingBudget maps a thinking level to a token budget.
func anthropicThinkingBudget(level string) int {
	switch level {
	case "low":
		return 4096
	case "medium":
		return 10000
	case "high":
		return 32000
	default:
		return 10000
	}
}

func (p *AnthropicProvider) doRequest(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &ClassifiedError{Kind: ErrorKindJSON, Retryable: false, Err: fmt.Errorf("anthropic: marshal request: %w", err)}
	}

	cred, err := p.creds.Credential(ctx)
	if err != nil {
		return nil, &ClassifiedError{Kind: ErrorKindAuth, Retryable: false, Err: fmt.Errorf("anthropic: resolve credential: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	if cred.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	} else {
		httpReq.Header.Set("x-api-key", cred.APIKey)
	}
	if bodyMap, ok := body.(map[string]interface{}); ok {
		if _, hasThinking := bodyMap["thinking"]; hasThinking {
			httpReq.Header.Set("anthropic-beta", "interleaved-thinking-2025-05-14")
		}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("anthropic: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

// --- Anthropic SSE event types ---

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreation            struct {
		Ephemeral5m int `json:"ephemeral_5m_input_tokens"`
		Ephemeral1h int `json:"ephemeral_1h_input_tokens"`
	} `json:"cache_creation"`
}

type anthropicMessageStartEvent struct {
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

type anthropicWireBlock struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type anthropicContentBlockStartEvent struct {
	Index        int                `json:"index"`
	ContentBlock anthropicWireBlock `json:"content_block"`
}

type anthropicContentBlockDeltaEvent struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		Thinking    string `json:"thinking,omitempty"`
		Signature   string `json:"signature,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
}

type anthropicMessageDeltaEvent struct {
	Delta struct {
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicErrorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
