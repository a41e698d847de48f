// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package translator

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/core/schema"
)

func TestCanonicalMessagesRoles(t *testing.T) {
	msgs := []schema.ChatMessage{
		{Role: "system", Content: schema.StringContent("be nice")},
		{Role: "developer", Content: schema.StringContent("really nice")},
		{Role: "user", Content: schema.StringContent("  hello  ")},
		{Role: "assistant", Content: schema.StringContent("hi")},
	}
	got, err := CanonicalMessages(msgs)
	if err != nil {
		t.Fatalf("CanonicalMessages: %v", err)
	}
	wantRoles := []domain.Role{domain.RoleSystem, domain.RoleSystem, domain.RoleUser, domain.RoleAssistant}
	for i, m := range got {
		if m.Role != wantRoles[i] {
			t.Errorf("message %d role = %s, want %s", i, m.Role, wantRoles[i])
		}
	}
	// Plain string content is trimmed but otherwise preserved.
	if got[2].TextContent() != "hello" {
		t.Errorf("text = %q, want %q", got[2].TextContent(), "hello")
	}

	_, err = CanonicalMessages([]schema.ChatMessage{{Role: "narrator", Content: schema.StringContent("x")}})
	var badReq *schema.BadRequestError
	if !errors.As(err, &badReq) || !strings.Contains(badReq.Message, "Unknown role") {
		t.Errorf("unknown role: got %v", err)
	}
}

func TestCanonicalMessagesParts(t *testing.T) {
	msgs := []schema.ChatMessage{{
		Role: "user",
		Content: &schema.MessageContent{Parts: []schema.ContentPart{
			{Type: "text", Text: "look at this"},
			{Type: "image_url", ImageURL: &schema.ImageURL{URL: "https://example.com/cat.png"}},
			{Type: "input_audio", InputAudio: &schema.AudioInput{Data: "https://example.com/clip", Format: ""}},
			{Type: "input_audio", InputAudio: &schema.AudioInput{Data: "UklGRg==", Format: "wav"}},
		}},
	}}
	got, err := CanonicalMessages(msgs)
	if err != nil {
		t.Fatalf("CanonicalMessages: %v", err)
	}
	content := got[0].Content
	if len(content) != 4 {
		t.Fatalf("content items = %d, want 4", len(content))
	}
	img := content[1].(domain.File)
	if img.URL != "https://example.com/cat.png" || img.Kind != domain.FileKindImage {
		t.Errorf("image = %+v", img)
	}
	// An empty format or a URL payload means a reference, not inline data.
	ref := content[2].(domain.File)
	if ref.URL != "https://example.com/clip" || ref.Data != "" {
		t.Errorf("audio reference = %+v", ref)
	}
	inline := content[3].(domain.File)
	if inline.Data != "UklGRg==" || inline.ContentType != "audio/wav" {
		t.Errorf("inline audio = %+v", inline)
	}
}

func TestCanonicalMessagesToolCalls(t *testing.T) {
	msgs := []schema.ChatMessage{{
		Role:    "assistant",
		Content: schema.StringContent("checking"),
		ToolCalls: []schema.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: schema.FunctionCall{Name: "get_weather", Arguments: `{"city":"Paris"}`},
		}},
	}}
	got, err := CanonicalMessages(msgs)
	if err != nil {
		t.Fatalf("CanonicalMessages: %v", err)
	}
	reqs := got[0].ToolCallRequests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0].ID != "call_1" || reqs[0].ToolName != "get_weather" {
		t.Errorf("request = %+v", reqs[0])
	}
	if reqs[0].Input["city"] != "Paris" {
		t.Errorf("input = %v", reqs[0].Input)
	}

	// Arguments that do not parse as JSON are preserved, not dropped.
	msgs[0].ToolCalls[0].Function.Arguments = "city=Paris"
	got, err = CanonicalMessages(msgs)
	if err != nil {
		t.Fatalf("CanonicalMessages: %v", err)
	}
	if got[0].ToolCallRequests()[0].Input["arguments"] != "city=Paris" {
		t.Errorf("malformed arguments were dropped")
	}
}

func TestCanonicalMessagesToolResult(t *testing.T) {
	msgs := []schema.ChatMessage{{
		Role:       "tool",
		ToolCallID: "call_1",
		Content:    schema.StringContent(`{"temp": 21}`),
	}}
	got, err := CanonicalMessages(msgs)
	if err != nil {
		t.Fatalf("CanonicalMessages: %v", err)
	}
	if got[0].Role != domain.RoleUser {
		t.Errorf("role = %s, want user", got[0].Role)
	}
	res := got[0].Content[0].(domain.ToolCallResult)
	if res.ID != "call_1" || res.Result != `{"temp": 21}` {
		t.Errorf("result = %+v", res)
	}

	_, err = CanonicalMessages([]schema.ChatMessage{{Role: "tool", Content: schema.StringContent("x")}})
	var badReq *schema.BadRequestError
	if !errors.As(err, &badReq) || !strings.Contains(badReq.Message, "tool_call_id") {
		t.Errorf("missing tool_call_id: got %v", err)
	}
}

func TestCanonicalMessagesFunctionResult(t *testing.T) {
	msgs := []schema.ChatMessage{
		{
			Role:         "assistant",
			Content:      schema.StringContent("checking"),
			FunctionCall: &schema.FunctionCall{Name: "get_weather", Arguments: `{"city":"Paris"}`},
		},
		{Role: "function", Name: "get_weather", Content: schema.StringContent("sunny")},
	}
	got, err := CanonicalMessages(msgs)
	if err != nil {
		t.Fatalf("CanonicalMessages: %v", err)
	}
	res := got[1].Content[0].(domain.ToolCallResult)
	// The id is recovered from the preceding assistant request. Legacy
	// function calls carry an empty id; pairing still works by position.
	if res.ID != got[0].ToolCallRequests()[0].ID {
		t.Errorf("result id = %q, want the request's id", res.ID)
	}
	if res.Result != "sunny" {
		t.Errorf("result = %v", res.Result)
	}

	// A function message with no matching request is a hard error.
	_, err = CanonicalMessages([]schema.ChatMessage{
		{Role: "user", Content: schema.StringContent("hi")},
		{Role: "function", Name: "get_weather", Content: schema.StringContent("sunny")},
	})
	var badReq *schema.BadRequestError
	if !errors.As(err, &badReq) {
		t.Errorf("got %v, want BadRequestError", err)
	}
}

func TestCanonicalMessagesEmptyContent(t *testing.T) {
	_, err := CanonicalMessages([]schema.ChatMessage{{Role: "user"}})
	var badReq *schema.BadRequestError
	if !errors.As(err, &badReq) {
		t.Fatalf("got %v, want BadRequestError", err)
	}
}

func TestCanonicalTools(t *testing.T) {
	strict := true
	req := &schema.ChatCompletionRequest{
		Tools: []schema.Tool{{
			Type: "function",
			Function: schema.ToolFunction{
				Name:       "get_weather",
				Parameters: map[string]any{"type": "object"},
				Strict:     &strict,
			},
		}},
		Functions: []schema.FunctionDefinition{{
			Name:       "get_time",
			Parameters: map[string]any{"type": "object"},
		}},
	}
	tools, hosted, err := CanonicalTools(req)
	if err != nil {
		t.Fatalf("CanonicalTools: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "get_weather" || tools[1].Name != "get_time" {
		t.Errorf("tools = %+v", tools)
	}
	if hosted != nil {
		t.Errorf("hosted = %v, want none", hosted)
	}

	// Duplicate names across tools and functions are rejected.
	req.Functions[0].Name = "get_weather"
	_, _, err = CanonicalTools(req)
	var badReq *schema.BadRequestError
	if !errors.As(err, &badReq) || !strings.Contains(badReq.Message, "multiple times") {
		t.Errorf("duplicate tool: got %v", err)
	}
}

func TestHostedToolDetection(t *testing.T) {
	req := &schema.ChatCompletionRequest{
		Messages: []schema.ChatMessage{{
			Role:    "system",
			Content: schema.StringContent("Use @search-google to find current events."),
		}},
	}
	_, hosted, err := CanonicalTools(req)
	if err != nil {
		t.Fatalf("CanonicalTools: %v", err)
	}
	if !reflect.DeepEqual(hosted, []domain.HostedTool{domain.HostedToolSearchGoogle}) {
		t.Errorf("hosted = %v", hosted)
	}

	// An explicit list overrides detection entirely.
	empty := []string{}
	req.WorkflowAITools = &empty
	_, hosted, err = CanonicalTools(req)
	if err != nil {
		t.Fatalf("CanonicalTools: %v", err)
	}
	if hosted != nil {
		t.Errorf("hosted = %v, want none", hosted)
	}

	bad := []string{"@not-a-tool"}
	req.WorkflowAITools = &bad
	_, _, err = CanonicalTools(req)
	var badReq *schema.BadRequestError
	if !errors.As(err, &badReq) || !strings.Contains(badReq.Message, "@search-google") {
		t.Errorf("invalid handle should list valid tools: got %v", err)
	}
}

func TestRequestOptions(t *testing.T) {
	temp := 0.2
	maxTokens := 100
	maxCompletion := 200
	validJSON := true
	req := &schema.ChatCompletionRequest{
		Temperature:         &temp,
		MaxTokens:           &maxTokens,
		MaxCompletionTokens: &maxCompletion,
		ToolChoice:          json.RawMessage(`"required"`),
		ResponseFormat: &schema.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &schema.JSONSchemaFormat{Schema: map[string]any{"type": "object"}},
		},
		StreamOptions: &schema.StreamOptions{ValidJSONChunks: &validJSON},
	}
	opts := RequestOptions(req, "gpt-4o", nil, 30*time.Second)

	if opts.Model != "gpt-4o" || *opts.Temperature != 0.2 {
		t.Errorf("opts = %+v", opts)
	}
	// max_completion_tokens wins over the deprecated max_tokens.
	if *opts.MaxTokens != 200 {
		t.Errorf("max tokens = %d, want 200", *opts.MaxTokens)
	}
	if opts.ToolChoiceMode != "required" {
		t.Errorf("tool choice = %q", opts.ToolChoiceMode)
	}
	if !opts.JSONMode() {
		t.Error("expected JSON mode")
	}
	if !opts.StreamDeltas {
		t.Error("expected raw delta streaming")
	}
	if opts.Timeout != 30*time.Second {
		t.Errorf("timeout = %v", opts.Timeout)
	}
}
