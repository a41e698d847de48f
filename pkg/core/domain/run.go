// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// Usage is the token accounting for one provider completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns the combined token count.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// ReasoningStep is an intermediate reasoning trace extracted from providers
// that expose one.
type ReasoningStep struct {
	Explanation string
}

// StructuredOutput is the execution engine's canonical result shape. During
// streaming, partial outputs carry a Delta; the terminal output carries the
// full content and the aggregated tool calls. For schema-constrained runs,
// Object holds the aggregate built from incremental keypath patches over the
// streamed JSON text.
type StructuredOutput struct {
	Content        string
	Delta          string
	Object         map[string]any
	ReasoningSteps []ReasoningStep
	ToolCalls      []ToolCallRequest
	Files          []File
	Usage          *Usage
}

// Run records one chat completion handled by the gateway. It is created per
// provider attempt chain and finalized once a terminal structured output or
// error is produced; after hand-off to storage it is immutable except for
// late cost/usage enrichment.
type Run struct {
	ID             string
	AgentID        string
	SchemaID       int
	ConversationID string

	Input            []Message
	Output           string
	ToolCallRequests []ToolCallRequest

	Model    string
	Provider string

	Usage           Usage
	CostUSD         float64
	DurationSeconds float64
	CreatedAt       time.Time

	Metadata map[string]any

	// FromCache is set when the output was served without a provider call.
	FromCache bool

	Err error
}
