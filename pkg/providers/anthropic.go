// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/workflowai/gateway/pkg/core/domain"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"

	// The messages API requires max_tokens on every call.
	anthropicDefaultMaxTokens = 8192
)

// anthropicModelOverrides maps catalog model ids to Anthropic's API names.
var anthropicModelOverrides = map[string]string{
	"claude-sonnet-4-latest": "claude-sonnet-4-20250514",
}

// Anthropic implements the Provider contract against the Anthropic messages
// API.
type Anthropic struct {
	cfg Config
}

// NewAnthropic creates an Anthropic provider from credentials.
func NewAnthropic(cfg Config) *Anthropic {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	return &Anthropic{cfg: cfg}
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) BuildRequest(messages []domain.Message, opts Options, stream bool) (map[string]any, error) {
	var system strings.Builder
	var wire []map[string]any

	for _, m := range messages {
		// The messages API has no system role; leading system text moves
		// into the dedicated system field.
		if m.Role == domain.RoleSystem && len(wire) == 0 {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.TextContent())
			continue
		}
		msg, err := p.wireMessage(m)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			wire = append(wire, msg)
		}
	}

	model := opts.Model
	if m, ok := anthropicModelOverrides[model]; ok {
		model = m
	}
	maxTokens := anthropicDefaultMaxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	body := map[string]any{
		"model":      model,
		"messages":   wire,
		"max_tokens": maxTokens,
		"stream":     stream,
	}
	if system.Len() > 0 {
		body["system"] = system.String()
	}
	if opts.Temperature != nil {
		body["temperature"] = *opts.Temperature
	}
	if opts.TopP != nil {
		body["top_p"] = *opts.TopP
	}
	if len(opts.Tools) > 0 {
		body["tools"] = p.wireTools(opts.Tools)
	}
	if tc := p.wireToolChoice(opts); tc != nil {
		body["tool_choice"] = tc
	}
	return body, nil
}

func (p *Anthropic) wireMessage(m domain.Message) (map[string]any, error) {
	role := "user"
	if m.Role == domain.RoleAssistant {
		role = "assistant"
	}

	var blocks []map[string]any
	for _, c := range m.Content {
		switch c := c.(type) {
		case domain.Text:
			blocks = append(blocks, map[string]any{"type": "text", "text": c.Text})
		case domain.File:
			block, err := p.wireFileBlock(c)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, block)
		case domain.ToolCallRequest:
			input := c.Input
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, map[string]any{
				"type":  "tool_use",
				"id":    c.ID,
				"name":  c.ToolName,
				"input": input,
			})
		case domain.ToolCallResult:
			blocks = append(blocks, map[string]any{
				"type":        "tool_result",
				"tool_use_id": c.ID,
				"content":     stringifyToolResult(c.Result),
			})
		}
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	return map[string]any{"role": role, "content": blocks}, nil
}

func (p *Anthropic) wireFileBlock(f domain.File) (map[string]any, error) {
	// The messages API only takes inline base64 sources.
	if f.Data == "" {
		return nil, NewError(ErrBadRequest, p.Name(), "file inputs must be inline base64 data")
	}
	if f.ContentType == "" {
		return nil, NewError(ErrBadRequest, p.Name(), "inline files require a content type")
	}
	source := map[string]any{
		"type":       "base64",
		"media_type": f.ContentType,
		"data":       f.Data,
	}
	if f.ContentType == "application/pdf" {
		return map[string]any{"type": "document", "source": source}, nil
	}
	if strings.HasPrefix(f.ContentType, "image/") {
		return map[string]any{"type": "image", "source": source}, nil
	}
	return nil, NewError(ErrBadRequest, p.Name(), "unsupported file type %q", f.ContentType)
}

func (p *Anthropic) wireTools(tools []domain.Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		// An empty schema is rejected by the API.
		if len(schema) == 0 {
			schema = map[string]any{"type": "object"}
		}
		tool := map[string]any{
			"name":         t.Name,
			"input_schema": schema,
		}
		if t.Description != "" {
			tool["description"] = t.Description
		}
		out = append(out, tool)
	}
	return out
}

func (p *Anthropic) wireToolChoice(opts Options) any {
	if opts.ToolChoiceFunction != "" {
		return map[string]any{"type": "tool", "name": opts.ToolChoiceFunction}
	}
	switch opts.ToolChoiceMode {
	case "required":
		return map[string]any{"type": "any"}
	case "auto", "none":
		return map[string]any{"type": opts.ToolChoiceMode}
	}
	return nil
}

func (p *Anthropic) RequestURL(model string, stream bool) string {
	return joinBaseURL(p.cfg.BaseURL, "/v1/messages")
}

func (p *Anthropic) RequestHeaders(ctx context.Context, model string) (map[string]string, error) {
	if p.cfg.APIKey == "" {
		return nil, NewError(ErrInvalidProviderConfig, p.Name(), "missing API key")
	}
	return map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": anthropicVersion,
		"Content-Type":      "application/json",
	}, nil
}

type anthropicContentBlock struct {
	Type     string         `json:"type"`
	Text     string         `json:"text"`
	Thinking string         `json:"thinking"`
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Input    map[string]any `json:"input"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *anthropicUsage) toDomain() *domain.Usage {
	if u == nil {
		return nil
	}
	return &domain.Usage{PromptTokens: u.InputTokens, CompletionTokens: u.OutputTokens}
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	Usage      *anthropicUsage         `json:"usage"`
	StopReason string                  `json:"stop_reason"`
}

func (p *Anthropic) ParseResponse(body []byte) (*ParsedResponse, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, WrapError(ErrProviderInternal, p.Name(), err, "response body does not match the messages shape")
	}
	if resp.StopReason == "max_tokens" {
		return nil, NewError(ErrMaxTokensExceeded, p.Name(),
			"the completion was cut off because the maximum number of tokens was exceeded")
	}

	out := &ParsedResponse{Usage: resp.Usage.toDomain()}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "thinking":
			out.ReasoningSteps = append(out.ReasoningSteps, domain.ReasoningStep{Explanation: block.Thinking})
		case "tool_use":
			input := block.Input
			if input == nil {
				input = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCallRequest{
				ID:       block.ID,
				ToolName: block.Name,
				Input:    input,
			})
		}
	}
	return out, nil
}

// anthropicChunk covers every event type of the messages stream; the Type
// field selects which other fields are populated.
type anthropicChunk struct {
	Type         string                 `json:"type"`
	Index        *int                   `json:"index"`
	ContentBlock *anthropicContentBlock `json:"content_block"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Message *struct {
		Usage *anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Anthropic) ExtractStreamDelta(event []byte, buffers map[int]*ToolCallBuffer) (StreamDelta, error) {
	if string(event) == "[DONE]" {
		return StreamDelta{}, nil
	}
	var chunk anthropicChunk
	if err := json.Unmarshal(event, &chunk); err != nil {
		return StreamDelta{}, WrapError(ErrProviderInternal, p.Name(), err, "stream event does not match the chunk shape")
	}

	switch chunk.Type {
	case "message_start":
		if chunk.Message != nil {
			return StreamDelta{Usage: chunk.Message.Usage.toDomain()}, nil
		}
		return StreamDelta{}, nil

	case "content_block_start":
		if chunk.ContentBlock != nil && chunk.ContentBlock.Type == "tool_use" && chunk.Index != nil {
			buffers[*chunk.Index] = &ToolCallBuffer{
				ID:       chunk.ContentBlock.ID,
				ToolName: chunk.ContentBlock.Name,
			}
		}
		return StreamDelta{}, nil

	case "content_block_delta":
		if chunk.Delta == nil {
			return StreamDelta{}, nil
		}
		switch chunk.Delta.Type {
		case "text_delta":
			return StreamDelta{Content: chunk.Delta.Text}, nil
		case "thinking_delta":
			return StreamDelta{Reasoning: chunk.Delta.Thinking}, nil
		case "input_json_delta":
			if chunk.Index != nil {
				if buf, ok := buffers[*chunk.Index]; ok {
					buf.Arguments += chunk.Delta.PartialJSON
				}
			}
			return StreamDelta{}, nil
		}
		return StreamDelta{}, nil

	case "content_block_stop":
		if chunk.Index == nil {
			return StreamDelta{}, nil
		}
		buf, ok := buffers[*chunk.Index]
		if !ok {
			return StreamDelta{}, nil
		}
		delete(buffers, *chunk.Index)
		input, err := parseToolArguments(buf.Arguments)
		if err != nil {
			return StreamDelta{}, WrapError(ErrFailedGeneration, p.Name(), err,
				"tool call "+buf.ID+" has invalid JSON arguments")
		}
		return StreamDelta{ToolCalls: []domain.ToolCallRequest{{
			ID:       buf.ID,
			ToolName: buf.ToolName,
			Input:    input,
		}}}, nil

	case "message_delta":
		delta := StreamDelta{Usage: chunk.Usage.toDomain()}
		if chunk.Delta != nil {
			if chunk.Delta.StopReason == "max_tokens" {
				return StreamDelta{}, NewError(ErrMaxTokensExceeded, p.Name(),
					"the completion was cut off because the maximum number of tokens was exceeded")
			}
			delta.FinishReason = chunk.Delta.StopReason
		}
		return delta, nil

	case "error":
		if chunk.Error != nil {
			return StreamDelta{}, p.classifyErrorDetail(0, chunk.Error.Type, chunk.Error.Message)
		}
		return StreamDelta{}, NewError(ErrUnknown, p.Name(), "stream reported an unspecified error")
	}

	// ping, message_stop and unknown event types carry nothing.
	return StreamDelta{}, nil
}

type anthropicErrorBody struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Anthropic) ClassifyError(status int, body []byte) *Error {
	var payload anthropicErrorBody
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == nil {
		return ClassifyHTTPStatus(p.Name(), status, string(body))
	}
	out := p.classifyErrorDetail(status, payload.Error.Type, payload.Error.Message)
	out.ProviderBody = string(body)
	return out
}

func (p *Anthropic) classifyErrorDetail(status int, errType, message string) *Error {
	msg := strings.ToLower(message)
	var kind ErrorKind
	switch {
	case errType == "overloaded_error":
		kind = ErrServerOverloaded
	case strings.Contains(msg, "prompt is too long"):
		kind = ErrMaxTokensExceeded
	case strings.Contains(msg, "credit balance is too low"):
		kind = ErrProviderInternal
	case strings.Contains(msg, "image exceeds"):
		kind = ErrBadRequest
		message = "Image exceeds the maximum size"
	case strings.Contains(msg, "invalid base64 data"):
		kind = ErrBadRequest
	default:
		base := ClassifyHTTPStatus(p.Name(), status, "")
		kind = base.Kind
	}
	out := NewError(kind, p.Name(), "%s", message)
	out.ProviderStatusCode = status
	return out
}
