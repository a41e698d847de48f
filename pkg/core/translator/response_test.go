// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package translator

import (
	"testing"
	"time"

	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/core/schema"
)

func testRun() *domain.Run {
	return &domain.Run{
		ID:              "run_1",
		AgentID:         "my-agent",
		ConversationID:  "conv_1",
		Output:          "hello",
		Usage:           domain.Usage{PromptTokens: 10, CompletionTokens: 5},
		CostUSD:         0.0003,
		DurationSeconds: 1.2,
		CreatedAt:       time.Unix(1700000000, 0),
		Metadata:        map[string]any{"user": "u1"},
	}
}

func TestResponse(t *testing.T) {
	run := testRun()
	resp := Response(run, ResponseOptions{Model: "gpt-4o", FeedbackToken: "fb_1", VersionID: "v_1"})

	if resp.ID != "my-agent/run_1" {
		t.Errorf("id = %q", resp.ID)
	}
	if resp.Object != "chat.completion" || resp.Model != "gpt-4o" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.ConversationID != "conv_1" || resp.VersionID != "v_1" {
		t.Errorf("gateway fields = %q %q", resp.ConversationID, resp.VersionID)
	}

	choice := resp.Choices[0]
	if choice.FinishReason != "stop" {
		t.Errorf("finish reason = %q", choice.FinishReason)
	}
	if choice.Message.Content == nil || *choice.Message.Content.String != "hello" {
		t.Errorf("content = %+v", choice.Message.Content)
	}
	if choice.FeedbackToken != "fb_1" || *choice.CostUSD != 0.0003 || *choice.DurationSeconds != 1.2 {
		t.Errorf("choice extensions = %+v", choice)
	}
}

func TestResponseToolCalls(t *testing.T) {
	run := testRun()
	run.ToolCallRequests = []domain.ToolCallRequest{
		{ID: "t1", ToolName: "get_weather", Input: map[string]any{"city": "Paris"}},
	}

	resp := Response(run, ResponseOptions{Model: "gpt-4o"})
	choice := resp.Choices[0]
	if choice.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", choice.FinishReason)
	}
	if len(choice.Message.ToolCalls) != 1 || choice.Message.ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("tool calls = %+v", choice.Message.ToolCalls)
	}

	// The legacy functions API flips the shape and the finish reason.
	resp = Response(run, ResponseOptions{Model: "gpt-4o", DeprecatedFunctions: true})
	choice = resp.Choices[0]
	if choice.FinishReason != "function_call" {
		t.Errorf("finish reason = %q", choice.FinishReason)
	}
	if choice.Message.FunctionCall == nil || choice.Message.FunctionCall.Name != "get_weather" {
		t.Errorf("function call = %+v", choice.Message.FunctionCall)
	}
	if choice.Message.ToolCalls != nil {
		t.Errorf("tool calls should be absent in legacy mode")
	}
}

func TestChunk(t *testing.T) {
	opts := ResponseOptions{Model: "gpt-4o"}

	if c := Chunk("id", &domain.StructuredOutput{}, opts); c != nil {
		t.Errorf("empty output should produce no chunk, got %+v", c)
	}

	c := Chunk("id", &domain.StructuredOutput{Delta: "hel"}, opts)
	if c == nil || c.Choices[0].Delta.Content != "hel" {
		t.Fatalf("chunk = %+v", c)
	}
	if c.Choices[0].FinishReason != nil {
		t.Error("partial chunks carry no finish reason")
	}

	c = Chunk("id", &domain.StructuredOutput{
		ToolCalls: []domain.ToolCallRequest{{ID: "t1", ToolName: "get_weather"}},
	}, opts)
	if c == nil || len(c.Choices[0].Delta.ToolCalls) != 1 {
		t.Fatalf("tool call chunk = %+v", c)
	}
}

func TestTerminalChunk(t *testing.T) {
	run := testRun()
	c := TerminalChunk(run, ResponseOptions{Model: "gpt-4o", FeedbackToken: "fb_1"}, false)

	choice := c.Choices[0]
	if choice.FinishReason == nil || *choice.FinishReason != "stop" {
		t.Errorf("finish reason = %v", choice.FinishReason)
	}
	if choice.Delta.Content != "" {
		t.Errorf("delta should be empty, got %q", choice.Delta.Content)
	}
	if c.Usage == nil || c.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", c.Usage)
	}
	if choice.FeedbackToken != "fb_1" || *choice.CostUSD != 0.0003 {
		t.Errorf("choice extensions = %+v", choice)
	}
	if c.ConversationID != "conv_1" {
		t.Errorf("conversation id = %q", c.ConversationID)
	}

	// A cached run produced no deltas: the terminal chunk replays the whole
	// output so the client still receives content.
	c = TerminalChunk(run, ResponseOptions{Model: "gpt-4o"}, true)
	if c.Choices[0].Delta.Content != "hello" {
		t.Errorf("replayed delta = %q", c.Choices[0].Delta.Content)
	}
}

func TestRoundTripTextMessages(t *testing.T) {
	wire := []schema.ChatMessage{
		{Role: "system", Content: schema.StringContent("be nice")},
		{Role: "user", Content: schema.StringContent("hello")},
		{Role: "assistant", Content: schema.StringContent("hi")},
	}
	canonical, err := CanonicalMessages(wire)
	if err != nil {
		t.Fatalf("CanonicalMessages: %v", err)
	}
	for i, m := range canonical {
		if m.TextContent() != *wire[i].Content.String {
			t.Errorf("message %d text = %q, want %q", i, m.TextContent(), *wire[i].Content.String)
		}
	}
}

func TestFeedbackToken(t *testing.T) {
	g := NewFeedbackTokenGenerator([]byte("secret"))
	token := g.Token(42, "run_1")

	runID, ok := g.Verify(token)
	if !ok || runID != "run_1" {
		t.Errorf("Verify = %q, %v", runID, ok)
	}

	if _, ok := g.Verify(token + "x"); ok {
		t.Error("tampered token should not verify")
	}
	other := NewFeedbackTokenGenerator([]byte("other"))
	if _, ok := other.Verify(token); ok {
		t.Error("token should not verify under a different secret")
	}
}
