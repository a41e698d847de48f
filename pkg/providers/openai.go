// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/workflowai/gateway/pkg/core/domain"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openaiModelOverrides maps catalog model ids to the names the OpenAI API
// expects.
var openaiModelOverrides = map[string]string{
	"gpt-4o-latest":      "gpt-4o",
	"gpt-4o-mini-latest": "gpt-4o-mini",
	"gpt-4.1-latest":     "gpt-4.1",
	"gpt-4.1-mini":       "gpt-4.1-mini",
	"o3-mini-2025-01-31": "o3-mini",
}

// OpenAI implements the Provider contract against the OpenAI chat
// completions API.
type OpenAI struct {
	cfg Config
}

// NewOpenAI creates an OpenAI provider from credentials.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	return &OpenAI{cfg: cfg}
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) modelStr(model string) string {
	if m, ok := openaiModelOverrides[model]; ok {
		return m
	}
	return model
}

func (p *OpenAI) BuildRequest(messages []domain.Message, opts Options, stream bool) (map[string]any, error) {
	wire, err := chatWireMessages(p.Name(), messages, true)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"model":    p.modelStr(opts.Model),
		"messages": wire,
		"stream":   stream,
	}
	if opts.Temperature != nil {
		body["temperature"] = *opts.Temperature
	}
	if opts.TopP != nil {
		body["top_p"] = *opts.TopP
	}
	if opts.FrequencyPenalty != nil {
		body["frequency_penalty"] = *opts.FrequencyPenalty
	}
	if opts.PresencePenalty != nil {
		body["presence_penalty"] = *opts.PresencePenalty
	}
	if opts.MaxTokens != nil {
		body["max_completion_tokens"] = *opts.MaxTokens
	}
	if opts.ReasoningEffort != "" {
		body["reasoning_effort"] = opts.ReasoningEffort
	}
	if len(opts.Tools) > 0 {
		body["tools"] = chatWireTools(opts.Tools)
	}
	if tc := chatWireToolChoice(opts); tc != nil {
		body["tool_choice"] = tc
	}
	if opts.ParallelToolCalls != nil && len(opts.Tools) > 0 {
		body["parallel_tool_calls"] = *opts.ParallelToolCalls
	}
	if opts.JSONMode() {
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "output",
				"schema": opts.OutputSchema,
			},
		}
	}
	if stream {
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	return body, nil
}

func (p *OpenAI) RequestURL(model string, stream bool) string {
	return joinBaseURL(p.cfg.BaseURL, "/chat/completions")
}

func joinBaseURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}

func (p *OpenAI) RequestHeaders(ctx context.Context, model string) (map[string]string, error) {
	if p.cfg.APIKey == "" {
		return nil, NewError(ErrInvalidProviderConfig, p.Name(), "missing API key")
	}
	return map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
		"Content-Type":  "application/json",
	}, nil
}

func (p *OpenAI) ParseResponse(body []byte) (*ParsedResponse, error) {
	return parseChatResponse(p.Name(), body)
}

func (p *OpenAI) ExtractStreamDelta(event []byte, buffers map[int]*ToolCallBuffer) (StreamDelta, error) {
	return extractChatStreamDelta(p.Name(), event, buffers)
}

func (p *OpenAI) ClassifyError(status int, body []byte) *Error {
	return classifyChatError(p.Name(), status, body)
}

// --- shared chat-completions wire helpers, also used by Groq ---

// chatWireMessages flattens canonical messages into the chat completions
// shape. Tool results become dedicated "tool" role messages; remaining
// content stays on the original role.
func chatWireMessages(provider string, messages []domain.Message, supportsFiles bool) ([]map[string]any, error) {
	var out []map[string]any
	for _, m := range messages {
		var parts []map[string]any
		var toolCalls []map[string]any
		plainText := ""
		textOnly := true

		for _, c := range m.Content {
			switch c := c.(type) {
			case domain.Text:
				parts = append(parts, map[string]any{"type": "text", "text": c.Text})
				plainText += c.Text
			case domain.File:
				if !supportsFiles {
					return nil, NewError(ErrModelDoesNotSupportMode, provider, "file inputs are not supported by this provider")
				}
				part, err := chatWireFilePart(provider, c)
				if err != nil {
					return nil, err
				}
				parts = append(parts, part)
				textOnly = false
			case domain.ToolCallRequest:
				args, err := json.Marshal(c.Input)
				if err != nil {
					return nil, NewError(ErrBadRequest, provider, "tool call %s has unserializable arguments", c.ID)
				}
				toolCalls = append(toolCalls, map[string]any{
					"id":   c.ID,
					"type": "function",
					"function": map[string]any{
						"name":      c.ToolName,
						"arguments": string(args),
					},
				})
			case domain.ToolCallResult:
				out = append(out, map[string]any{
					"role":         "tool",
					"tool_call_id": c.ID,
					"content":      stringifyToolResult(c.Result),
				})
			}
		}

		if len(parts) == 0 && len(toolCalls) == 0 {
			continue
		}
		msg := map[string]any{"role": string(m.Role)}
		switch {
		case len(parts) == 0:
			msg["content"] = ""
		case textOnly:
			msg["content"] = plainText
		default:
			msg["content"] = parts
		}
		if len(toolCalls) > 0 {
			msg["tool_calls"] = toolCalls
		}
		out = append(out, msg)
	}
	return out, nil
}

func chatWireFilePart(provider string, f domain.File) (map[string]any, error) {
	if f.Kind == domain.FileKindAudio {
		if f.Data == "" {
			return nil, NewError(ErrBadRequest, provider, "audio inputs must be inline base64 data")
		}
		format := strings.TrimPrefix(f.ContentType, "audio/")
		return map[string]any{
			"type":        "input_audio",
			"input_audio": map[string]any{"data": f.Data, "format": format},
		}, nil
	}
	url := f.URL
	if url == "" {
		if f.ContentType == "" {
			return nil, NewError(ErrBadRequest, provider, "inline files require a content type")
		}
		url = "data:" + f.ContentType + ";base64," + f.Data
	}
	return map[string]any{
		"type":      "image_url",
		"image_url": map[string]any{"url": url},
	}, nil
}

func chatWireTools(tools []domain.Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		fn := map[string]any{
			"name":       t.Name,
			"parameters": t.InputSchema,
		}
		if t.Description != "" {
			fn["description"] = t.Description
		}
		if t.Strict != nil {
			fn["strict"] = *t.Strict
		}
		out = append(out, map[string]any{"type": "function", "function": fn})
	}
	return out
}

func chatWireToolChoice(opts Options) any {
	if opts.ToolChoiceFunction != "" {
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": opts.ToolChoiceFunction},
		}
	}
	if opts.ToolChoiceMode != "" {
		return opts.ToolChoiceMode
	}
	return nil
}

func stringifyToolResult(result any) string {
	switch r := result.(type) {
	case nil:
		return ""
	case string:
		return r
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Sprintf("%v", r)
		}
		return string(b)
	}
}

// chatResponse mirrors the chat completions response shape. Decoding
// failures are reported as provider internal errors since they signal
// upstream contract drift.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          *string        `json:"content"`
			ReasoningContent string         `json:"reasoning_content"`
			Refusal          *string        `json:"refusal"`
			ToolCalls        []chatToolCall `json:"tool_calls"`
			Audio            *chatAudio     `json:"audio"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

type chatToolCall struct {
	Index    *int   `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// chatAudio is the base64 audio payload attached to a message when the
// request asked for audio output.
type chatAudio struct {
	ID         string `json:"id"`
	Data       string `json:"data"`
	Transcript string `json:"transcript"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u *chatUsage) toDomain() *domain.Usage {
	if u == nil {
		return nil
	}
	return &domain.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens}
}

func parseChatResponse(provider string, body []byte) (*ParsedResponse, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, WrapError(ErrProviderInternal, provider, err, "response body does not match the completion shape")
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(ErrProviderInternal, provider, "response contains no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		return nil, NewError(ErrMaxTokensExceeded, provider,
			"the completion was cut off because the maximum number of tokens was exceeded")
	}
	if choice.Message.Refusal != nil && *choice.Message.Refusal != "" {
		return nil, NewError(ErrContentModeration, provider, "%s", *choice.Message.Refusal)
	}

	out := &ParsedResponse{Usage: resp.Usage.toDomain()}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	if choice.Message.ReasoningContent != "" {
		out.ReasoningSteps = []domain.ReasoningStep{{Explanation: choice.Message.ReasoningContent}}
	}
	if audio := choice.Message.Audio; audio != nil && audio.Data != "" {
		out.Files = []domain.File{{Data: audio.Data, Kind: domain.FileKindAudio}}
	}
	for _, tc := range choice.Message.ToolCalls {
		input, err := parseToolArguments(tc.Function.Arguments)
		if err != nil {
			return nil, WrapError(ErrFailedGeneration, provider, err,
				fmt.Sprintf("tool call %s has invalid JSON arguments", tc.ID))
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCallRequest{
			ID:       tc.ID,
			ToolName: tc.Function.Name,
			Input:    input,
		})
	}
	return out, nil
}

func parseToolArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, err
	}
	return input, nil
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content          string         `json:"content"`
			ReasoningContent string         `json:"reasoning_content"`
			ToolCalls        []chatToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

func extractChatStreamDelta(provider string, event []byte, buffers map[int]*ToolCallBuffer) (StreamDelta, error) {
	if string(event) == "[DONE]" {
		return StreamDelta{}, nil
	}
	var chunk chatChunk
	if err := json.Unmarshal(event, &chunk); err != nil {
		return StreamDelta{}, WrapError(ErrProviderInternal, provider, err, "stream event does not match the chunk shape")
	}

	delta := StreamDelta{Usage: chunk.Usage.toDomain()}
	if len(chunk.Choices) == 0 {
		return delta, nil
	}
	choice := chunk.Choices[0]
	if choice.FinishReason == "length" {
		return StreamDelta{}, NewError(ErrMaxTokensExceeded, provider,
			"the completion was cut off because the maximum number of tokens was exceeded")
	}
	delta.Content = choice.Delta.Content
	delta.Reasoning = choice.Delta.ReasoningContent
	delta.FinishReason = choice.FinishReason

	for _, tc := range choice.Delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		buf, ok := buffers[idx]
		if !ok {
			buf = &ToolCallBuffer{}
			buffers[idx] = buf
		}
		if tc.ID != "" && buf.ID == "" {
			buf.ID = tc.ID
		}
		if tc.Function.Name != "" && buf.ToolName == "" {
			buf.ToolName = tc.Function.Name
		}
		buf.Arguments += tc.Function.Arguments

		if buf.ID == "" || buf.ToolName == "" || buf.Arguments == "" {
			continue
		}
		input, err := parseToolArguments(buf.Arguments)
		if err != nil {
			// Arguments are not fully streamed yet.
			continue
		}
		delta.ToolCalls = append(delta.ToolCalls, domain.ToolCallRequest{
			ID:       buf.ID,
			ToolName: buf.ToolName,
			Input:    input,
		})
	}
	return delta, nil
}

type chatErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func classifyChatError(provider string, status int, body []byte) *Error {
	base := ClassifyHTTPStatus(provider, status, string(body))

	var payload chatErrorBody
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		return base
	}
	base.Message = payload.Error.Message

	code, _ := payload.Error.Code.(string)
	msg := strings.ToLower(payload.Error.Message)
	switch {
	case code == "context_length_exceeded" || strings.Contains(msg, "maximum context length"):
		base.Kind = ErrMaxTokensExceeded
	case code == "content_policy_violation" || strings.Contains(msg, "content management policy"):
		base.Kind = ErrContentModeration
	case code == "model_not_found":
		base.Kind = ErrMissingModel
	case strings.Contains(msg, "reduce the length of the messages"):
		base.Kind = ErrMaxTokensExceeded
	case code == "json_validate_failed":
		base.Kind = ErrFailedGeneration
	}
	return base
}
