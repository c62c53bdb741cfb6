// Package gemini adapts Google's Gen AI Go SDK to the shared
// providers.Provider streaming contract, normalizing "thought" parts
// into Thinking events and functionCall parts into tool-call events.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/tronrun/agentruntime/internal/providers"
	"github.com/tronrun/agentruntime/internal/reconstruct"
	"github.com/tronrun/agentruntime/internal/tokens"
)

const defaultModel = "gemini-2.5-flash"

// Provider implements providers.Provider using the native genai SDK.
type Provider struct {
	client       *genai.Client
	defaultModel string
}

// New creates a Gemini provider. ctx is only used for client
// construction, not retained.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	p := &Provider{
		client:       client,
		defaultModel: defaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.defaultModel = model
		}
	}
}

func (p *Provider) Name() string { return "gemini" }

// Stream drives Gemini's streaming iterator, relaying each candidate
// part as normalized events and synthesizing Done once the iterator is
// exhausted.
func (p *Provider) Stream(ctx context.Context, req providers.Request) <-chan providers.StreamEvent {
	out := make(chan providers.StreamEvent, 16)
	go func() {
		defer close(out)

		model := req.Model
		if model == "" {
			model = p.defaultModel
		}
		contents := convertMessages(req.Messages)
		config := buildConfig(req)

		st := &streamState{}
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				out <- providers.StreamEvent{Kind: providers.EventError, Err: classifyGeminiErr(err)}
				return
			}
			if resp == nil {
				continue
			}
			st.accumulate(resp, out)
		}
		st.finish(out)
	}()
	return out
}

// streamState assembles one Gemini response across stream chunks.
type streamState struct {
	text     strings.Builder
	thinking strings.Builder
	calls    []providers.ToolCall

	textStarted     bool
	thinkingStarted bool
	usage           tokens.RawUsage
}

func (st *streamState) accumulate(resp *genai.GenerateContentResponse, out chan<- providers.StreamEvent) {
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				if part.Thought {
					if !st.thinkingStarted {
						st.thinkingStarted = true
						out <- providers.StreamEvent{Kind: providers.EventThinkingStart}
					}
					st.thinking.WriteString(part.Text)
					out <- providers.StreamEvent{Kind: providers.EventThinkingDelta, Delta: part.Text}
				} else {
					if !st.textStarted {
						st.textStarted = true
						out <- providers.StreamEvent{Kind: providers.EventTextStart}
					}
					st.text.WriteString(part.Text)
					out <- providers.StreamEvent{Kind: providers.EventTextDelta, Delta: part.Text}
				}
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				call := providers.ToolCall{
					ID:        toolCallID(part.FunctionCall.Name, len(st.calls)),
					Name:      part.FunctionCall.Name,
					Arguments: args,
				}
				if part.ThoughtSignature != nil {
					call.ThoughtSignature = base64.StdEncoding.EncodeToString(part.ThoughtSignature)
				}
				st.calls = append(st.calls, call)
				out <- providers.StreamEvent{Kind: providers.EventToolCallStart, ToolCallID: call.ID, ToolName: call.Name}
				out <- providers.StreamEvent{Kind: providers.EventToolCallEnd, ToolCall: &call}
			}
		}
	}
	if resp.UsageMetadata != nil {
		st.usage.Input = int64(resp.UsageMetadata.PromptTokenCount)
		st.usage.Output = int64(resp.UsageMetadata.CandidatesTokenCount)
		st.usage.CacheRead = int64(resp.UsageMetadata.CachedContentTokenCount)
	}
}

func (st *streamState) finish(out chan<- providers.StreamEvent) {
	if st.thinkingStarted {
		out <- providers.StreamEvent{Kind: providers.EventThinkingEnd, Thinking: st.thinking.String()}
	}
	if st.textStarted {
		out <- providers.StreamEvent{Kind: providers.EventTextEnd, Text: st.text.String()}
	}

	var blocks []reconstruct.ContentBlock
	if st.thinking.Len() > 0 {
		blocks = append(blocks, reconstruct.ContentBlock{Type: "thinking", Thinking: st.thinking.String()})
	}
	if st.text.Len() > 0 {
		blocks = append(blocks, reconstruct.ContentBlock{Type: "text", Text: st.text.String()})
	}
	for _, call := range st.calls {
		blocks = append(blocks, reconstruct.ContentBlock{
			Type:             "tool_use",
			ToolUseID:        call.ID,
			ToolName:         call.Name,
			Arguments:        call.Arguments,
			ThoughtSignature: call.ThoughtSignature,
		})
	}

	stop := providers.StopReasonStop
	if len(st.calls) > 0 {
		stop = providers.StopReasonToolCalls
	}
	usage := st.usage
	out <- providers.StreamEvent{
		Kind:       providers.EventDone,
		Message:    &reconstruct.Message{Role: reconstruct.RoleAssistant, Content: blocks},
		StopReason: stop,
		Usage:      &usage,
	}
}

// convertMessages maps reconstructed messages to genai.Content. Gemini
// keys tool responses by function name rather than call id, so the
// walk tracks the id -> name pairing from prior tool_use blocks.
func convertMessages(msgs []reconstruct.Message) []*genai.Content {
	result := make([]*genai.Content, 0, len(msgs))
	callNames := make(map[string]string)

	for _, m := range msgs {
		content := &genai.Content{}
		switch m.Role {
		case reconstruct.RoleAssistant:
			content.Role = genai.RoleModel
			for _, b := range m.Content {
				switch b.Type {
				case "text":
					if b.Text != "" {
						content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
					}
				case "tool_use":
					callNames[b.ToolUseID] = b.ToolName
					var args map[string]interface{}
					_ = json.Unmarshal(b.Arguments, &args)
					part := &genai.Part{FunctionCall: &genai.FunctionCall{Name: b.ToolName, Args: args}}
					if b.ThoughtSignature != "" {
						part.ThoughtSignature, _ = base64.StdEncoding.DecodeString(b.ThoughtSignature)
					}
					content.Parts = append(content.Parts, part)
				}
			}

		case reconstruct.RoleUser:
			content.Role = genai.RoleUser
			for _, b := range m.Content {
				switch b.Type {
				case "text":
					if b.Text != "" {
						content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
					}
				case "image", "document":
					data, _ := base64.StdEncoding.DecodeString(b.Data)
					content.Parts = append(content.Parts, &genai.Part{
						InlineData: &genai.Blob{Data: data, MIMEType: b.MimeType},
					})
				}
			}

		case reconstruct.RoleToolResult:
			content.Role = genai.RoleUser
			for _, b := range m.Content {
				if b.Type != "tool_result" {
					continue
				}
				text := b.Text
				for _, inner := range b.Content {
					if inner.Type == "text" {
						text += inner.Text
					}
				}
				var response map[string]interface{}
				if err := json.Unmarshal([]byte(text), &response); err != nil {
					response = map[string]interface{}{"result": text}
				}
				name := callNames[b.ToolResultID]
				if name == "" {
					name = b.ToolResultID
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{Name: name, Response: response},
				})
			}
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result
}

func buildConfig(req providers.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	var sys []*genai.Part
	for _, b := range req.System {
		if b.Content != "" {
			sys = append(sys, &genai.Part{Text: b.Content})
		}
	}
	if len(sys) > 0 {
		config.SystemInstruction = &genai.Content{Parts: sys}
	}

	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if v, ok := req.Options["temperature"].(float64); ok {
		f := float32(v)
		config.Temperature = &f
	}
	if level, ok := req.Options["thinking_level"].(string); ok && level != "" && level != "off" {
		budget := thinkingBudget(level)
		config.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget:  &budget,
			IncludeThoughts: true,
		}
	}
	if len(req.Tools) > 0 {
		config.Tools = convertTools(req.Tools)
	}
	return config
}

func thinkingBudget(level string) int32 {
	switch level {
	case "low":
		return 2048
	case "high":
		return 24576
	default:
		return 8192
	}
}

func convertTools(tools []providers.ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		cleaned := providers.CleanSchemaForProvider("gemini", t.Parameters)
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(cleaned),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a cleaned JSON Schema map into genai's Schema
// type, which Gemini's function-declaration parser requires in place of
// raw JSON Schema.
func toGeminiSchema(m map[string]interface{}) *genai.Schema {
	if m == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := m["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := m["enum"].([]interface{}); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := m["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := m["required"].([]interface{}); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := m["items"].(map[string]interface{}); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

func toolCallID(name string, index int) string {
	return fmt.Sprintf("call_%s_%d_%d", name, index, time.Now().UnixNano())
}

// classifyGeminiErr maps a raw genai SDK error into the shared
// classification scheme so the reliability wrapper can decide whether
// the call is worth retrying.
func classifyGeminiErr(err error) *providers.ClassifiedError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context canceled"):
		return &providers.ClassifiedError{Kind: providers.ErrorKindCancelled, Retryable: false, Err: err}
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthenticated") || strings.Contains(msg, "permission denied"):
		return &providers.ClassifiedError{Kind: providers.ErrorKindAuth, Retryable: false, Err: err}
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found"):
		return &providers.ClassifiedError{Kind: providers.ErrorKindInvalidModel, Retryable: false, Err: err}
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted") || strings.Contains(msg, "quota"):
		return &providers.ClassifiedError{Kind: providers.ErrorKindRateLimit, Retryable: true, Err: err}
	case strings.Contains(msg, "503") || strings.Contains(msg, "500") || strings.Contains(msg, "overloaded") || strings.Contains(msg, "unavailable") || strings.Contains(msg, "internal"):
		return &providers.ClassifiedError{Kind: providers.ErrorKindAPI, Retryable: true, Err: err}
	default:
		return &providers.ClassifiedError{Kind: providers.ErrorKindOther, Retryable: false, Err: err}
	}
}
