// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"fmt"
)

// contentEnvelope is the persisted form of the Content variants. The kind
// tag selects which fields are meaningful.
type contentEnvelope struct {
	Kind string `json:"kind"`

	Text string `json:"text,omitempty"`

	URL         string   `json:"url,omitempty"`
	Data        string   `json:"data,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	FileKind    FileKind `json:"file_kind,omitempty"`

	ID       string         `json:"id,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Result   any            `json:"result,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	envelopes := make([]contentEnvelope, 0, len(m.Content))
	for _, c := range m.Content {
		switch c := c.(type) {
		case Text:
			envelopes = append(envelopes, contentEnvelope{Kind: "text", Text: c.Text})
		case File:
			envelopes = append(envelopes, contentEnvelope{
				Kind: "file", URL: c.URL, Data: c.Data, ContentType: c.ContentType, FileKind: c.Kind,
			})
		case ToolCallRequest:
			envelopes = append(envelopes, contentEnvelope{
				Kind: "tool_call_request", ID: c.ID, ToolName: c.ToolName, Input: c.Input,
			})
		case ToolCallResult:
			envelopes = append(envelopes, contentEnvelope{
				Kind: "tool_call_result", ID: c.ID, ToolName: c.ToolName, Input: c.Input, Result: c.Result,
			})
		default:
			return nil, fmt.Errorf("unknown content variant %T", c)
		}
	}
	return json.Marshal(struct {
		Role    Role              `json:"role"`
		Content []contentEnvelope `json:"content"`
	}{Role: m.Role, Content: envelopes})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    Role              `json:"role"`
		Content []contentEnvelope `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = nil
	for _, e := range raw.Content {
		switch e.Kind {
		case "text":
			m.Content = append(m.Content, Text{Text: e.Text})
		case "file":
			m.Content = append(m.Content, File{URL: e.URL, Data: e.Data, ContentType: e.ContentType, Kind: e.FileKind})
		case "tool_call_request":
			m.Content = append(m.Content, ToolCallRequest{ID: e.ID, ToolName: e.ToolName, Input: e.Input})
		case "tool_call_result":
			m.Content = append(m.Content, ToolCallResult{ID: e.ID, ToolName: e.ToolName, Input: e.Input, Result: e.Result})
		default:
			return fmt.Errorf("unknown content kind %q", e.Kind)
		}
	}
	return nil
}
