// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package domain

// Role of a canonical message. The wire protocol knows more roles
// (developer, tool, function) but they are all folded into these three
// during translation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is the gateway's internal, provider-agnostic representation of a
// conversation turn. Content is ordered and never empty once a message has
// passed translation.
type Message struct {
	Role    Role
	Content []Content
}

// Content is a tagged variant: exactly one of Text, File, ToolCallRequest or
// ToolCallResult. Using a sealed interface instead of a struct with four
// nullable fields rules out multi-populated states at compile time.
type Content interface {
	isContent()
}

// Text content.
type Text struct {
	Text string
}

// FileKind hints at how a file should be handled by providers that
// distinguish media types.
type FileKind string

const (
	FileKindImage FileKind = "image"
	FileKindAudio FileKind = "audio"
	FileKindAny   FileKind = ""
)

// File content, either by URL or as inline base64 data with a content type.
type File struct {
	URL         string
	Data        string
	ContentType string
	Kind        FileKind
}

// ToolCallRequest is a model-emitted request to invoke a tool.
type ToolCallRequest struct {
	ID       string
	ToolName string
	Input    map[string]any
}

// ToolCallResult carries a caller-supplied result for a prior request. The
// ToolName and Input fields are enriched from the matching request by the
// message correctness engine; callers only provide ID and Result.
type ToolCallResult struct {
	ID       string
	ToolName string
	Input    map[string]any
	Result   any
}

func (Text) isContent()            {}
func (File) isContent()            {}
func (ToolCallRequest) isContent() {}
func (ToolCallResult) isContent()  {}

// NewText builds a single-text message.
func NewText(role Role, text string) Message {
	return Message{Role: role, Content: []Content{Text{Text: text}}}
}

// ToolCallRequests collects the tool call requests of an assistant message,
// in content order.
func (m Message) ToolCallRequests() []ToolCallRequest {
	var out []ToolCallRequest
	for _, c := range m.Content {
		if r, ok := c.(ToolCallRequest); ok {
			out = append(out, r)
		}
	}
	return out
}

// TextContent concatenates the text items of the message.
func (m Message) TextContent() string {
	var out string
	for _, c := range m.Content {
		if t, ok := c.(Text); ok {
			out += t.Text
		}
	}
	return out
}

// Tool is a caller-defined function tool. Names are unique within a request.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Strict      *bool
}

// HostedTool is a gateway-hosted tool handle, e.g. "@search-google".
type HostedTool string

const (
	HostedToolSearchGoogle HostedTool = "@search-google"
	HostedToolBrowserText  HostedTool = "@browser-text"
)

// KnownHostedTools lists the hosted tool handles the gateway recognizes, in
// a stable order for error messages.
func KnownHostedTools() []HostedTool {
	return []HostedTool{HostedToolSearchGoogle, HostedToolBrowserText}
}

// ParseHostedTool validates a hosted tool handle.
func ParseHostedTool(s string) (HostedTool, bool) {
	for _, t := range KnownHostedTools() {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}
