// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package translator

import (
	"encoding/json"
	"time"

	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/core/schema"
)

// ResponseOptions carries the wire-level knobs for response assembly.
type ResponseOptions struct {
	Model string
	// DeprecatedFunctions selects the legacy function_call response shape.
	DeprecatedFunctions bool
	FeedbackToken       string
	VersionID           string
}

func wireArguments(input map[string]any) string {
	if len(input) == 0 {
		// The OpenAI SDKs reject a null arguments field.
		return ""
	}
	b, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	return string(b)
}

func wireToolCall(req domain.ToolCallRequest) schema.ToolCall {
	return schema.ToolCall{
		ID:   req.ID,
		Type: "function",
		Function: schema.FunctionCall{
			Name:      req.ToolName,
			Arguments: wireArguments(req.Input),
		},
	}
}

func wireToolCalls(reqs []domain.ToolCallRequest) []schema.ToolCall {
	if len(reqs) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, wireToolCall(r))
	}
	return out
}

func wireFunctionCall(reqs []domain.ToolCallRequest) *schema.FunctionCall {
	if len(reqs) == 0 {
		return nil
	}
	fc := wireToolCall(reqs[0]).Function
	return &fc
}

func finishReason(reqs []domain.ToolCallRequest, deprecated bool) string {
	if len(reqs) == 0 {
		return "stop"
	}
	if deprecated {
		return "function_call"
	}
	return "tool_calls"
}

func wireUsage(u domain.Usage) *schema.Usage {
	if u.Total() == 0 {
		return nil
	}
	return &schema.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.Total(),
	}
}

func responseID(run *domain.Run) string {
	if run.AgentID == "" {
		return run.ID
	}
	return run.AgentID + "/" + run.ID
}

func optFloat(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

// Response assembles the non-streaming chat.completion body from a finished
// run: a single choice carrying the output text, the tool call requests and
// the per-choice gateway extension fields.
func Response(run *domain.Run, opts ResponseOptions) *schema.ChatCompletionResponse {
	msg := schema.ChatMessage{
		Role:    "assistant",
		Content: schema.StringContent(run.Output),
	}
	if opts.DeprecatedFunctions {
		msg.FunctionCall = wireFunctionCall(run.ToolCallRequests)
	} else {
		msg.ToolCalls = wireToolCalls(run.ToolCallRequests)
	}
	return &schema.ChatCompletionResponse{
		ID:      responseID(run),
		Created: run.CreatedAt.Unix(),
		Model:   opts.Model,
		Object:  "chat.completion",
		Usage:   wireUsage(run.Usage),
		Choices: []schema.ChatCompletionChoice{{
			FinishReason:    finishReason(run.ToolCallRequests, opts.DeprecatedFunctions),
			Index:           0,
			Message:         msg,
			CostUSD:         optFloat(run.CostUSD),
			DurationSeconds: optFloat(run.DurationSeconds),
			FeedbackToken:   opts.FeedbackToken,
		}},
		VersionID:      opts.VersionID,
		ConversationID: run.ConversationID,
		Metadata:       run.Metadata,
	}
}

// Chunk assembles one chat.completion.chunk from a partial structured
// output. It returns nil when the output carries neither a delta nor tool
// calls: such outputs produce no wire traffic.
func Chunk(id string, out *domain.StructuredOutput, opts ResponseOptions) *schema.ChatCompletionChunk {
	if out.Delta == "" && len(out.ToolCalls) == 0 {
		return nil
	}
	delta := schema.ChunkDelta{Content: out.Delta}
	if opts.DeprecatedFunctions {
		delta.FunctionCall = wireFunctionCall(out.ToolCalls)
	} else {
		delta.ToolCalls = wireToolCalls(out.ToolCalls)
	}
	return &schema.ChatCompletionChunk{
		ID:      id,
		Created: time.Now().Unix(),
		Model:   opts.Model,
		Object:  "chat.completion.chunk",
		Choices: []schema.ChunkChoice{{Delta: delta, Index: 0}},
	}
}

// TerminalChunk assembles the final chunk of a stream. It always carries the
// finish reason, usage and per-choice gateway fields. When replayOutput is
// set (the run was served without producing any delta, e.g. from cache) the
// delta replays the entire output so the client still receives content.
func TerminalChunk(run *domain.Run, opts ResponseOptions, replayOutput bool) *schema.ChatCompletionChunk {
	delta := schema.ChunkDelta{}
	if replayOutput {
		delta.Content = run.Output
		if opts.DeprecatedFunctions {
			delta.FunctionCall = wireFunctionCall(run.ToolCallRequests)
		} else {
			delta.ToolCalls = wireToolCalls(run.ToolCallRequests)
		}
	}
	finish := finishReason(run.ToolCallRequests, opts.DeprecatedFunctions)
	return &schema.ChatCompletionChunk{
		ID:      responseID(run),
		Created: time.Now().Unix(),
		Model:   opts.Model,
		Object:  "chat.completion.chunk",
		Usage:   wireUsage(run.Usage),
		Choices: []schema.ChunkChoice{{
			Delta:           delta,
			FinishReason:    &finish,
			Index:           0,
			CostUSD:         optFloat(run.CostUSD),
			DurationSeconds: optFloat(run.DurationSeconds),
			FeedbackToken:   opts.FeedbackToken,
		}},
		ConversationID: run.ConversationID,
	}
}
