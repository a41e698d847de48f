// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the OpenAI-compatible chat-completions wire types.
// The request models are deliberately permissive: unknown fields are
// tolerated so a change on the OpenAI side does not reject otherwise valid
// calls.
package schema

import (
	"encoding/json"
	"fmt"
)

// ChatCompletionRequest is the body of POST /v1/chat/completions, including
// the gateway extension fields.
type ChatCompletionRequest struct {
	Messages []ChatMessage `json:"messages"`
	Model    string        `json:"model"`

	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	FunctionCall     json.RawMessage `json:"function_call,omitempty"` // string | {"name": ...}, deprecated
	Functions        []FunctionDefinition `json:"functions,omitempty"`

	LogitBias map[string]float64 `json:"logit_bias,omitempty"`
	Logprobs  *bool              `json:"logprobs,omitempty"`

	MaxCompletionTokens *int           `json:"max_completion_tokens,omitempty"`
	MaxTokens           *int           `json:"max_tokens,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	Modalities          []string       `json:"modalities,omitempty"`
	N                   *int           `json:"n,omitempty"`
	ParallelToolCalls   *bool          `json:"parallel_tool_calls,omitempty"`
	Prediction          json.RawMessage `json:"prediction,omitempty"`
	PresencePenalty     *float64       `json:"presence_penalty,omitempty"`
	ReasoningEffort     string         `json:"reasoning_effort,omitempty"`
	ResponseFormat      *ResponseFormat `json:"response_format,omitempty"`

	Seed             *int            `json:"seed,omitempty"`
	ServiceTier      string          `json:"service_tier,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	Store            *bool           `json:"store,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	StreamOptions    *StreamOptions  `json:"stream_options,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"` // string | ToolChoice
	Tools            []Tool          `json:"tools,omitempty"`
	TopLogprobs      *int            `json:"top_logprobs,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	User             string          `json:"user,omitempty"`
	WebSearchOptions json.RawMessage `json:"web_search_options,omitempty"`

	// Gateway extensions, not part of the OpenAI schema.

	// Input templating variables for version-level message templates.
	Input map[string]any `json:"input,omitempty"`
	// Provider pins a single provider and disables fallback. Unsupported
	// values are ignored with a warning.
	Provider string `json:"provider,omitempty"`
	// AgentID scopes the run to an agent. Takes precedence over an agent id
	// parsed from the model string or metadata.
	AgentID string `json:"agent_id,omitempty"`
	// Environment and SchemaID reference a deployment, as an alternative to
	// the "<agent_id>/#<schema_id>/<environment>" model string form.
	Environment string `json:"environment,omitempty"`
	SchemaID    *int   `json:"schema_id,omitempty"`

	UseCache       string `json:"use_cache,omitempty"`
	UseFallback    *bool  `json:"use_fallback,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	// WorkflowAITools lists hosted tool handles explicitly. When nil, hosted
	// tools are detected in the first system message instead.
	WorkflowAITools *[]string `json:"workflowai_tools,omitempty"`
}

// UsesDeprecatedFunctions reports whether the caller used the legacy
// functions API, which changes the response shape.
func (r *ChatCompletionRequest) UsesDeprecatedFunctions() bool {
	return r.Functions != nil
}

// CheckSupportedFields rejects fields the gateway does not support with a
// 400-class error naming them.
func (r *ChatCompletionRequest) CheckSupportedFields() error {
	var used []string
	if r.LogitBias != nil {
		used = append(used, "logit_bias")
	}
	if r.Logprobs != nil {
		used = append(used, "logprobs")
	}
	if r.Modalities != nil {
		used = append(used, "modalities")
	}
	if r.N != nil && *r.N > 1 {
		used = append(used, "n")
	}
	if r.Prediction != nil {
		used = append(used, "prediction")
	}
	if r.Seed != nil {
		used = append(used, "seed")
	}
	if r.Stop != nil {
		used = append(used, "stop")
	}
	if r.TopLogprobs != nil {
		used = append(used, "top_logprobs")
	}
	if r.WebSearchOptions != nil {
		used = append(used, "web_search_options")
	}
	switch len(used) {
	case 0:
		return nil
	case 1:
		return NewBadRequestf("Field `%s` is not supported", used[0])
	default:
		return NewBadRequestf("Fields `%s` are not supported", joinBackticked(used))
	}
}

func joinBackticked(fields []string) string {
	out := fields[0]
	for _, f := range fields[1:] {
		out += "`, `" + f
	}
	return out
}

// ChatMessage is a wire message. Content is a string, an array of typed
// parts, or absent.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    *MessageContent `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"` // deprecated
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// FirstStringContent returns the message's leading text, used for hosted
// tool detection in system messages.
func (m *ChatMessage) FirstStringContent() string {
	if m.Content == nil {
		return ""
	}
	if m.Content.String != nil {
		return *m.Content.String
	}
	if len(m.Content.Parts) > 0 && m.Content.Parts[0].Type == "text" {
		return m.Content.Parts[0].Text
	}
	return ""
}

// MessageContent is the polymorphic content field: a plain string or an
// array of typed parts.
type MessageContent struct {
	String *string
	Parts  []ContentPart
}

// UnmarshalJSON implements the string-or-array wire shape.
func (c *MessageContent) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		c.String = &s
		return nil
	}
	return json.Unmarshal(b, &c.Parts)
}

// MarshalJSON emits the same shape the content arrived in.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.String != nil {
		return json.Marshal(*c.String)
	}
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return []byte("null"), nil
}

// StringContent wraps a plain string as message content.
func StringContent(s string) *MessageContent {
	return &MessageContent{String: &s}
}

// ContentPart is one item of a typed content array.
type ContentPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ImageURL   *ImageURL   `json:"image_url,omitempty"`
	InputAudio *AudioInput `json:"input_audio,omitempty"`
}

// ImageURL is the image_url part payload.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// AudioInput is the input_audio part payload.
type AudioInput struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

// ToolCall is a model-emitted function call on the wire.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries a function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a function tool definition.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function payload of a tool definition.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
	Strict      *bool          `json:"strict,omitempty"`
}

// FunctionDefinition is the deprecated top-level function definition.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
	Strict      *bool          `json:"strict,omitempty"`
}

// ResponseFormat selects plain text, JSON mode or a JSON schema.
type ResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *JSONSchemaFormat `json:"json_schema,omitempty"`
}

// JSONSchemaFormat is the json_schema response format payload.
type JSONSchemaFormat struct {
	Name   string         `json:"name,omitempty"`
	Schema map[string]any `json:"schema"`
	Strict *bool          `json:"strict,omitempty"`
}

// StreamOptions controls streaming behavior.
type StreamOptions struct {
	IncludeUsage *bool `json:"include_usage,omitempty"`
	// ValidJSONChunks requests raw text deltas without structural
	// aggregation, a gateway extension.
	ValidJSONChunks *bool `json:"valid_json_chunks,omitempty"`
}

// ToolChoiceFunction is the object form of tool_choice / function_call.
type ToolChoiceFunction struct {
	Name string `json:"name"`
}

// ToolChoiceObject is the {"type":"function","function":{...}} form.
type ToolChoiceObject struct {
	Type     string             `json:"type"`
	Function ToolChoiceFunction `json:"function"`
}

// NormalizedToolChoice decodes the polymorphic tool_choice and legacy
// function_call fields into either a mode string ("auto", "none",
// "required") or a function name. It returns ok=false when neither field
// carries a usable value; unsupported strings are ignored rather than
// rejected, matching the permissive request policy.
func (r *ChatCompletionRequest) NormalizedToolChoice() (mode string, function string, ok bool) {
	raw := r.ToolChoice
	legacy := false
	if raw == nil {
		raw = r.FunctionCall
		legacy = true
	}
	if raw == nil {
		return "", "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", "", false
		}
		switch s {
		case "auto", "none", "required":
			return s, "", true
		}
		return "", "", false
	}
	if legacy {
		var fn ToolChoiceFunction
		if err := json.Unmarshal(raw, &fn); err != nil || fn.Name == "" {
			return "", "", false
		}
		return "", fn.Name, true
	}
	var obj ToolChoiceObject
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Type != "function" || obj.Function.Name == "" {
		return "", "", false
	}
	return "", obj.Function.Name, true
}

// Usage mirrors the OpenAI usage object.
type Usage struct {
	CompletionTokens int `json:"completion_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChoice is one response choice. The gateway always returns a
// single choice and attaches its extension fields here.
type ChatCompletionChoice struct {
	FinishReason string      `json:"finish_reason"`
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`

	// Gateway extensions.
	CostUSD         *float64 `json:"cost_usd,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	FeedbackToken   string   `json:"feedback_token,omitempty"`
}

// ChatCompletionResponse is the non-streaming response body.
type ChatCompletionResponse struct {
	ID                string                 `json:"id"`
	Choices           []ChatCompletionChoice `json:"choices"`
	Created           int64                  `json:"created"`
	Model             string                 `json:"model"`
	SystemFingerprint string                 `json:"system_fingerprint,omitempty"`
	Object            string                 `json:"object"`
	Usage             *Usage                 `json:"usage,omitempty"`

	// Gateway extensions.
	VersionID      string         `json:"version_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ChunkDelta is the delta payload of a streaming choice.
type ChunkDelta struct {
	Content      string        `json:"content,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"` // deprecated
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	Role         string        `json:"role,omitempty"`
}

// ChunkChoice is one streaming choice.
type ChunkChoice struct {
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
	Index        int        `json:"index"`

	// Gateway extensions, populated on the terminal chunk.
	CostUSD         *float64 `json:"cost_usd,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	FeedbackToken   string   `json:"feedback_token,omitempty"`
}

// ChatCompletionChunk is one chat.completion.chunk SSE payload.
type ChatCompletionChunk struct {
	ID                string        `json:"id"`
	Choices           []ChunkChoice `json:"choices"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	SystemFingerprint string        `json:"system_fingerprint,omitempty"`
	Object            string        `json:"object"`
	Usage             *Usage        `json:"usage,omitempty"`

	ConversationID string `json:"conversation_id,omitempty"`
}

// ErrorResponse is the wire error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error payload.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Status  int    `json:"status_code,omitempty"`
}

// BadRequestError is a terminal 400-class request error. It is never retried
// and never triggers provider fallback.
type BadRequestError struct {
	Message string
	// Capture marks the error for observability capture: it indicates a
	// client integration defect worth aggregating rather than a routine
	// validation failure.
	Capture bool
}

func (e *BadRequestError) Error() string { return e.Message }

// NewBadRequest builds a BadRequestError.
func NewBadRequest(msg string) *BadRequestError {
	return &BadRequestError{Message: msg}
}

// NewBadRequestf builds a BadRequestError with a formatted message.
func NewBadRequestf(format string, args ...any) *BadRequestError {
	return &BadRequestError{Message: fmt.Sprintf(format, args...)}
}
