// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package translator

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/core/schema"
	"github.com/workflowai/gateway/pkg/providers"
)

var roleMapping = map[string]domain.Role{
	"user":      domain.RoleUser,
	"assistant": domain.RoleAssistant,
	"system":    domain.RoleSystem,
	"developer": domain.RoleSystem,
}

// parseArguments decodes a tool call argument string. Arguments that do not
// parse as JSON are kept under an "arguments" key rather than dropped: the
// model may still recover from its own malformed output on the next turn.
func parseArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"arguments": raw}
	}
	return out
}

func toolCallRequest(id string, fn schema.FunctionCall) domain.ToolCallRequest {
	return domain.ToolCallRequest{ID: id, ToolName: fn.Name, Input: parseArguments(fn.Arguments)}
}

func audioFile(in *schema.AudioInput) domain.File {
	contentType := in.Format
	if !strings.Contains(contentType, "/") {
		contentType = "audio/" + contentType
	}
	// The format may be missing or the payload may in fact be a URL; both
	// mean we were handed a reference, not inline data.
	if in.Format == "" || strings.HasPrefix(in.Data, "https://") || strings.HasPrefix(in.Data, "http://") {
		return domain.File{URL: in.Data, Kind: domain.FileKindAudio}
	}
	return domain.File{Data: in.Data, ContentType: contentType, Kind: domain.FileKindAudio}
}

func contentPart(part schema.ContentPart) (domain.Content, error) {
	switch part.Type {
	case "text":
		if part.Text == "" {
			return nil, schema.NewBadRequest("Text content is required")
		}
		return domain.Text{Text: strings.TrimSpace(part.Text)}, nil
	case "image_url":
		if part.ImageURL == nil {
			return nil, schema.NewBadRequest("Image URL content is required")
		}
		return domain.File{URL: part.ImageURL.URL, Kind: domain.FileKindImage}, nil
	case "input_audio":
		if part.InputAudio == nil {
			return nil, schema.NewBadRequest("Input audio content is required")
		}
		return audioFile(part.InputAudio), nil
	default:
		return nil, &schema.BadRequestError{Message: "Unknown content type: " + part.Type, Capture: true}
	}
}

// resultValue extracts the tool result payload carried by a tool or function
// message: the raw string, or the concatenated text of typed parts.
func resultValue(content *schema.MessageContent) any {
	if content.String != nil {
		return *content.String
	}
	var b strings.Builder
	for _, p := range content.Parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func toolResultMessage(msg schema.ChatMessage) (domain.Message, error) {
	if msg.Content == nil {
		return domain.Message{}, &schema.BadRequestError{
			Message: "Content is required when providing a tool call result",
			Capture: true,
		}
	}
	if msg.ToolCallID == "" {
		return domain.Message{}, &schema.BadRequestError{
			Message: "tool_call_id is required when providing a tool call result",
			Capture: true,
		}
	}
	return domain.Message{
		Role: domain.RoleUser,
		Content: []domain.Content{
			domain.ToolCallResult{ID: msg.ToolCallID, Result: resultValue(msg.Content)},
		},
	}, nil
}

// functionResultMessage handles the deprecated function role: the id is
// recovered from the immediately preceding assistant message's request whose
// tool name matches the function message's name.
func functionResultMessage(msg schema.ChatMessage, previous []domain.Message) (domain.Message, error) {
	if msg.Content == nil {
		return domain.Message{}, &schema.BadRequestError{
			Message: "Content is required when providing a function call result",
			Capture: true,
		}
	}
	if msg.Name == "" {
		return domain.Message{}, schema.NewBadRequest("name is required when providing a function call result")
	}
	if len(previous) == 0 || previous[len(previous)-1].Role != domain.RoleAssistant {
		return domain.Message{}, schema.NewBadRequestf(
			"function message %q must immediately follow the assistant message that requested the call",
			msg.Name,
		)
	}
	for _, r := range previous[len(previous)-1].ToolCallRequests() {
		if r.ToolName == msg.Name {
			return domain.Message{
				Role: domain.RoleUser,
				Content: []domain.Content{
					domain.ToolCallResult{ID: r.ID, Result: resultValue(msg.Content)},
				},
			}, nil
		}
	}
	return domain.Message{}, schema.NewBadRequestf(
		"the preceding assistant message contains no function call named %q", msg.Name,
	)
}

func canonicalMessage(msg schema.ChatMessage) (domain.Message, error) {
	if msg.ToolCallID != "" {
		return domain.Message{}, &schema.BadRequestError{
			Message: "tool_call_id is only allowed when the role is tool",
			Capture: true,
		}
	}

	var content []domain.Content
	if msg.Content != nil {
		if msg.Content.String != nil {
			if text := strings.TrimSpace(*msg.Content.String); text != "" {
				content = append(content, domain.Text{Text: text})
			}
		} else {
			for _, part := range msg.Content.Parts {
				c, err := contentPart(part)
				if err != nil {
					return domain.Message{}, err
				}
				content = append(content, c)
			}
		}
	}
	if msg.FunctionCall != nil {
		content = append(content, toolCallRequest("", *msg.FunctionCall))
	}
	for _, tc := range msg.ToolCalls {
		content = append(content, toolCallRequest(tc.ID, tc.Function))
	}

	// A message that carries nothing is a hard error rather than a silent
	// drop, so a broken client integration surfaces immediately.
	if len(content) == 0 {
		return domain.Message{}, &schema.BadRequestError{
			Message: "Either content, tool_calls or a tool role is required",
			Capture: true,
		}
	}

	role, ok := roleMapping[msg.Role]
	if !ok {
		return domain.Message{}, &schema.BadRequestError{
			Message: "Unknown role: " + msg.Role,
			Capture: true,
		}
	}
	return domain.Message{Role: role, Content: content}, nil
}

// CanonicalMessages translates the wire message list into canonical
// messages. Tool and function roles collapse into user messages carrying a
// single tool call result; everything else follows the role mapping.
func CanonicalMessages(msgs []schema.ChatMessage) ([]domain.Message, error) {
	out := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		var (
			m   domain.Message
			err error
		)
		switch msg.Role {
		case "tool":
			m, err = toolResultMessage(msg)
		case "function":
			m, err = functionResultMessage(msg, out)
		default:
			m, err = canonicalMessage(msg)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// CanonicalTools combines the tools and deprecated functions lists into
// domain tools, rejecting duplicate names, and resolves the hosted tool
// handles: the explicit workflowai_tools list when present, otherwise
// detection in the first system message's text.
func CanonicalTools(req *schema.ChatCompletionRequest) ([]domain.Tool, []domain.HostedTool, error) {
	var tools []domain.Tool
	seen := map[string]bool{}
	add := func(name, description string, parameters map[string]any, strict *bool) error {
		if seen[name] {
			return &schema.BadRequestError{
				Message: "Tool " + name + " is defined multiple times",
				Capture: true,
			}
		}
		seen[name] = true
		tools = append(tools, domain.Tool{
			Name:        name,
			Description: description,
			InputSchema: parameters,
			Strict:      strict,
		})
		return nil
	}
	for _, t := range req.Tools {
		if err := add(t.Function.Name, t.Function.Description, t.Function.Parameters, t.Function.Strict); err != nil {
			return nil, nil, err
		}
	}
	for _, f := range req.Functions {
		if err := add(f.Name, f.Description, f.Parameters, f.Strict); err != nil {
			return nil, nil, err
		}
	}

	hosted, err := hostedTools(req)
	if err != nil {
		return nil, nil, err
	}
	return tools, hosted, nil
}

func hostedTools(req *schema.ChatCompletionRequest) ([]domain.HostedTool, error) {
	if req.WorkflowAITools != nil {
		var out []domain.HostedTool
		for _, handle := range *req.WorkflowAITools {
			t, ok := domain.ParseHostedTool(handle)
			if !ok {
				names := make([]string, 0, 2)
				for _, k := range domain.KnownHostedTools() {
					names = append(names, string(k))
				}
				return nil, schema.NewBadRequestf(
					"%s is not a valid tool. Valid WorkflowAI tools are `%s`",
					handle, strings.Join(names, "`, `"),
				)
			}
			out = append(out, t)
		}
		return out, nil
	}

	// Detection only looks at the first system message, where instructions
	// conventionally live.
	if len(req.Messages) == 0 || req.Messages[0].Role != "system" {
		return nil, nil
	}
	text := req.Messages[0].FirstStringContent()
	if text == "" {
		return nil, nil
	}
	var out []domain.HostedTool
	for _, t := range domain.KnownHostedTools() {
		if strings.Contains(text, string(t)) {
			out = append(out, t)
		}
	}
	return out, nil
}

// RequestOptions maps the wire generation parameters onto provider options
// for a resolved model.
func RequestOptions(req *schema.ChatCompletionRequest, model string, tools []domain.Tool, timeout time.Duration) providers.Options {
	opts := providers.Options{
		Model:             model,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		FrequencyPenalty:  req.FrequencyPenalty,
		PresencePenalty:   req.PresencePenalty,
		Tools:             tools,
		ParallelToolCalls: req.ParallelToolCalls,
		ReasoningEffort:   req.ReasoningEffort,
		Timeout:           timeout,
	}
	if req.MaxCompletionTokens != nil {
		opts.MaxTokens = req.MaxCompletionTokens
	} else if req.MaxTokens != nil {
		opts.MaxTokens = req.MaxTokens
	}
	if mode, fn, ok := req.NormalizedToolChoice(); ok {
		opts.ToolChoiceMode = mode
		opts.ToolChoiceFunction = fn
	}
	if rf := req.ResponseFormat; rf != nil {
		switch {
		case rf.Type == "json_schema" && rf.JSONSchema != nil:
			opts.OutputSchema = rf.JSONSchema.Schema
		case rf.Type == "json_object":
			opts.OutputSchema = map[string]any{}
		}
	}
	if so := req.StreamOptions; so != nil && so.ValidJSONChunks != nil && *so.ValidJSONChunks {
		opts.StreamDeltas = true
	}
	return opts
}
