// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package translator

import (
	"errors"
	"strings"
	"testing"

	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/core/schema"
)

func requestMsg(ids ...string) domain.Message {
	m := domain.Message{Role: domain.RoleAssistant}
	for _, id := range ids {
		m.Content = append(m.Content, domain.ToolCallRequest{
			ID:       id,
			ToolName: "get_weather",
			Input:    map[string]any{"city": "Paris"},
		})
	}
	return m
}

func resultMsg(ids ...string) domain.Message {
	m := domain.Message{Role: domain.RoleUser}
	for _, id := range ids {
		m.Content = append(m.Content, domain.ToolCallResult{ID: id, Result: "sunny"})
	}
	return m
}

func fixErr(t *testing.T, messages []domain.Message) *schema.BadRequestError {
	t.Helper()
	_, err := FixMessages(messages)
	var badReq *schema.BadRequestError
	if !errors.As(err, &badReq) {
		t.Fatalf("got %v, want BadRequestError", err)
	}
	return badReq
}

func TestFixMessagesPairing(t *testing.T) {
	fixed, err := FixMessages([]domain.Message{
		domain.NewText(domain.RoleUser, "weather?"),
		requestMsg("t1"),
		resultMsg("t1"),
	})
	if err != nil {
		t.Fatalf("FixMessages: %v", err)
	}
	if len(fixed) != 3 {
		t.Fatalf("messages = %d, want 3", len(fixed))
	}
	res := fixed[2].Content[0].(domain.ToolCallResult)
	// The result is enriched from its request.
	if res.ToolName != "get_weather" || res.Input["city"] != "Paris" {
		t.Errorf("result not enriched: %+v", res)
	}
}

func TestFixMessagesAggregatesResults(t *testing.T) {
	// Parallel calls answered across separate wire messages collapse into a
	// single result message.
	fixed, err := FixMessages([]domain.Message{
		requestMsg("t1", "t2"),
		resultMsg("t1"),
		resultMsg("t2"),
	})
	if err != nil {
		t.Fatalf("FixMessages: %v", err)
	}
	if len(fixed) != 2 {
		t.Fatalf("messages = %d, want 2", len(fixed))
	}
	if len(fixed[1].Content) != 2 {
		t.Errorf("aggregated results = %d, want 2", len(fixed[1].Content))
	}

	// Normal appending resumes once the turn resolves.
	fixed, err = FixMessages([]domain.Message{
		requestMsg("t1"),
		resultMsg("t1"),
		domain.NewText(domain.RoleUser, "thanks"),
	})
	if err != nil {
		t.Fatalf("FixMessages: %v", err)
	}
	if len(fixed) != 3 || fixed[2].TextContent() != "thanks" {
		t.Errorf("fixed = %+v", fixed)
	}
}

func TestFixMessagesContentDuringPendingTurn(t *testing.T) {
	err := fixErr(t, []domain.Message{
		requestMsg("t1"),
		domain.NewText(domain.RoleUser, "hi"),
	})
	if !strings.Contains(err.Message, "Only tool call results are allowed") {
		t.Errorf("message = %q", err.Message)
	}
	if !strings.Contains(err.Message, "t1") {
		t.Errorf("message should name the pending id: %q", err.Message)
	}
}

func TestFixMessagesTextAlongsideRequestIsLegal(t *testing.T) {
	m := requestMsg("t1")
	m.Content = append([]domain.Content{domain.Text{Text: "let me check"}}, m.Content...)
	if _, err := FixMessages([]domain.Message{m, resultMsg("t1")}); err != nil {
		t.Fatalf("FixMessages: %v", err)
	}
}

func TestFixMessagesErrors(t *testing.T) {
	tests := []struct {
		name     string
		messages []domain.Message
		want     string
	}{
		{
			"duplicate request id",
			[]domain.Message{requestMsg("t1"), resultMsg("t1"), requestMsg("t1")},
			"already found in previous messages",
		},
		{
			"unknown result id",
			[]domain.Message{requestMsg("t1"), resultMsg("t2")},
			"not found in previous messages",
		},
		{
			"result without request",
			[]domain.Message{resultMsg("t1")},
			"should immediately follow a tool call request",
		},
		{
			"unfulfilled at end",
			[]domain.Message{requestMsg("t1")},
			"still pending",
		},
		{
			"request on user message",
			[]domain.Message{{Role: domain.RoleUser, Content: []domain.Content{
				domain.ToolCallRequest{ID: "t1", ToolName: "get_weather"},
			}}},
			"Only assistant messages can have tool calls",
		},
		{
			"result on assistant message",
			[]domain.Message{requestMsg("t1"), {Role: domain.RoleAssistant, Content: []domain.Content{
				domain.ToolCallResult{ID: "t1"},
			}}},
			"cannot have tool call results",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fixErr(t, tt.messages)
			if !strings.Contains(err.Message, tt.want) {
				t.Errorf("message = %q, want substring %q", err.Message, tt.want)
			}
		})
	}
}
