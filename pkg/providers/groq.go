// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"context"
	"regexp"

	"github.com/workflowai/gateway/pkg/core/domain"
)

const defaultGroqBaseURL = "https://api.groq.com/openai/v1"

// groqModelOverrides maps catalog model ids to Groq's deployment names.
var groqModelOverrides = map[string]string{
	"llama-3.3-70b": "llama-3.3-70b-versatile",
	"llama-4-scout": "meta-llama/llama-4-scout-17b-16e-instruct",
}

// groqModerationPattern matches refusal phrasings that Groq models emit as
// plain completions instead of moderation errors.
var groqModerationPattern = regexp.MustCompile(`(?i)(can't|not)[^.]*(help|assist|going)[^.]*with that`)

// Groq implements the Provider contract against Groq's OpenAI-compatible
// chat completions API.
type Groq struct {
	cfg Config
}

// NewGroq creates a Groq provider from credentials.
func NewGroq(cfg Config) *Groq {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGroqBaseURL
	}
	return &Groq{cfg: cfg}
}

func (p *Groq) Name() string { return "groq" }

func (p *Groq) BuildRequest(messages []domain.Message, opts Options, stream bool) (map[string]any, error) {
	// Groq serves text-only models; file content is rejected up front.
	wire, err := chatWireMessages(p.Name(), messages, false)
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if m, ok := groqModelOverrides[model]; ok {
		model = m
	}

	body := map[string]any{
		"model":    model,
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
		body["max_tokens"] = *opts.MaxTokens
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
	// Structured output is unreliable on Groq so JSON mode is enforced by
	// prompt instructions instead of a response_format constraint.
	if stream {
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	return body, nil
}

func (p *Groq) RequestURL(model string, stream bool) string {
	return joinBaseURL(p.cfg.BaseURL, "/chat/completions")
}

func (p *Groq) RequestHeaders(ctx context.Context, model string) (map[string]string, error) {
	if p.cfg.APIKey == "" {
		return nil, NewError(ErrInvalidProviderConfig, p.Name(), "missing API key")
	}
	return map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
		"Content-Type":  "application/json",
	}, nil
}

func (p *Groq) ParseResponse(body []byte) (*ParsedResponse, error) {
	parsed, err := parseChatResponse(p.Name(), body)
	if err != nil {
		return nil, err
	}
	if groqModerationPattern.MatchString(parsed.Content) && len(parsed.ToolCalls) == 0 {
		return nil, NewError(ErrContentModeration, p.Name(), "%s", parsed.Content)
	}
	return parsed, nil
}

func (p *Groq) ExtractStreamDelta(event []byte, buffers map[int]*ToolCallBuffer) (StreamDelta, error) {
	return extractChatStreamDelta(p.Name(), event, buffers)
}

func (p *Groq) ClassifyError(status int, body []byte) *Error {
	// Groq reports oversized prompts as 413 with an opaque body.
	if status == 413 {
		return NewError(ErrMaxTokensExceeded, p.Name(), "max tokens exceeded")
	}
	return classifyChatError(p.Name(), status, body)
}
