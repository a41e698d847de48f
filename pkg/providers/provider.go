// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package providers defines the per-provider capability contract consumed by
// the streaming execution engine, the provider registry and the error
// taxonomy that drives retry and fallback decisions.
package providers

import (
	"context"
	"time"

	"github.com/workflowai/gateway/pkg/core/domain"
)

// Options carries the resolved generation parameters for one provider call.
type Options struct {
	Model string

	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	MaxTokens        *int

	Tools              []domain.Tool
	ToolChoiceMode     string // "auto", "none", "required" or ""
	ToolChoiceFunction string // set when a specific function is forced
	ParallelToolCalls  *bool

	// OutputSchema enables structured JSON output. Nil means raw text.
	OutputSchema map[string]any

	// StreamDeltas requests raw text deltas instead of aggregated snapshots.
	StreamDeltas bool

	ReasoningEffort string

	Timeout time.Duration
}

// JSONMode reports whether the call expects structured JSON output.
func (o Options) JSONMode() bool { return o.OutputSchema != nil }

// ToolCallBuffer accumulates one native tool call whose arguments arrive
// split across many stream events, keyed by the provider's position index.
type ToolCallBuffer struct {
	ID        string
	ToolName  string
	Arguments string
}

// StreamDelta is the normalized outcome of parsing one stream event.
type StreamDelta struct {
	Content   string
	Reasoning string
	// ToolCalls holds fully reassembled tool calls only; partial fragments
	// stay in the buffers until the arguments parse.
	ToolCalls []domain.ToolCallRequest
	Usage     *domain.Usage
	// FinishReason is the provider's terminal marker, when present.
	FinishReason string
}

// ParsedResponse is the normalized outcome of a non-streaming response.
type ParsedResponse struct {
	Content        string
	ReasoningSteps []domain.ReasoningStep
	ToolCalls      []domain.ToolCallRequest
	Files          []domain.File
	Usage          *domain.Usage
}

// Provider is the capability contract one upstream integration implements.
// Implementations are stateless; all per-call mutable state lives in the
// engine's StreamingContext.
type Provider interface {
	Name() string

	// BuildRequest serializes canonical messages and options into the
	// provider's request body.
	BuildRequest(messages []domain.Message, opts Options, stream bool) (map[string]any, error)

	// RequestURL returns the endpoint for a model and streaming mode.
	RequestURL(model string, stream bool) string

	// RequestHeaders computes the call headers, including credentials.
	RequestHeaders(ctx context.Context, model string) (map[string]string, error)

	// ParseResponse decodes a complete non-streaming response body. A body
	// that does not match the provider's declared shape must return an
	// ErrProviderInternal error: it signals upstream contract drift, not a
	// generation failure.
	ParseResponse(body []byte) (*ParsedResponse, error)

	// ExtractStreamDelta parses one SSE event. Tool-call fragments are
	// reassembled in buffers; a tool call is only reported once complete.
	ExtractStreamDelta(event []byte, buffers map[int]*ToolCallBuffer) (StreamDelta, error)
}

// ErrorClassifier is implemented by providers that refine upstream error
// bodies beyond the generic status mapping in ClassifyHTTPStatus.
type ErrorClassifier interface {
	ClassifyError(status int, body []byte) *Error
}

// Config is the provider credential and endpoint configuration fed to the
// header and URL builders.
type Config struct {
	APIKey  string
	BaseURL string
}
