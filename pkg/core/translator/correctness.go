// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package translator

import (
	"fmt"
	"strings"

	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/core/schema"
)

// messageFixer is the single forward pass that validates and repairs tool
// call sequencing. Results scattered across several wire messages collapse
// into one aggregated result message; everything else passes through
// untouched.
type messageFixer struct {
	fixed []domain.Message

	// requestIndex records every request id ever seen with the message index
	// that introduced it, for global uniqueness and error messages.
	requestIndex map[string]int
	resultIDs    map[string]bool

	// The current tool call turn: requests awaiting a result, in arrival
	// order for deterministic error messages.
	pending      map[string]domain.ToolCallRequest
	pendingOrder []string

	// resultMsg indexes the aggregated result message inside fixed while a
	// tool call turn is being resolved, -1 otherwise.
	resultMsg int
}

func newMessageFixer() *messageFixer {
	return &messageFixer{
		requestIndex: map[string]int{},
		resultIDs:    map[string]bool{},
		pending:      map[string]domain.ToolCallRequest{},
		resultMsg:    -1,
	}
}

func messagePos(i, j int) string {
	return fmt.Sprintf("messages[%d].content[%d]", i, j)
}

func (f *messageFixer) pendingIDs() string {
	return strings.Join(f.pendingOrder, "`,`")
}

func (f *messageFixer) removePending(id string) {
	delete(f.pending, id)
	for i, p := range f.pendingOrder {
		if p == id {
			f.pendingOrder = append(f.pendingOrder[:i], f.pendingOrder[i+1:]...)
			break
		}
	}
}

func (f *messageFixer) acceptRequest(i, j int, m domain.Message, req domain.ToolCallRequest) error {
	if m.Role != domain.RoleAssistant {
		return schema.NewBadRequestf(
			"Only assistant messages can have tool calls. %s has role %s and should not contain a tool call request.",
			messagePos(i, j), m.Role,
		)
	}
	if _, ok := f.requestIndex[req.ID]; ok {
		return schema.NewBadRequestf(
			"Tool call request %s (%s) already found in previous messages.",
			req.ID, messagePos(i, j),
		)
	}
	f.requestIndex[req.ID] = i
	f.pending[req.ID] = req
	f.pendingOrder = append(f.pendingOrder, req.ID)
	return nil
}

func (f *messageFixer) acceptResult(i, j int, m domain.Message, res domain.ToolCallResult) error {
	if f.resultIDs[res.ID] {
		return schema.NewBadRequestf(
			"Tool call result %s (%s) already found in previous messages.",
			res.ID, messagePos(i, j),
		)
	}
	if len(f.pending) == 0 {
		return schema.NewBadRequestf(
			"Tool call result %s (%s) should immediately follow a tool call request "+
				"or another tool call result in case of parallel tool calls.",
			res.ID, messagePos(i, j),
		)
	}
	if m.Role != domain.RoleUser {
		return schema.NewBadRequestf(
			"%s messages cannot have tool call results. %s should not contain a tool call result",
			m.Role, messagePos(i, j),
		)
	}
	req, ok := f.pending[res.ID]
	if !ok {
		return schema.NewBadRequestf(
			"Tool call result %s (%s) not found in previous messages.",
			res.ID, messagePos(i, j),
		)
	}
	f.removePending(res.ID)

	// Enrich the result with the request's tool name and input so providers
	// see a complete record even when the caller only echoed the id.
	res.ToolName = req.ToolName
	res.Input = req.Input
	f.resultIDs[res.ID] = true

	if f.resultMsg < 0 {
		f.fixed = append(f.fixed, domain.Message{Role: domain.RoleUser})
		f.resultMsg = len(f.fixed) - 1
	}
	f.fixed[f.resultMsg].Content = append(f.fixed[f.resultMsg].Content, res)
	return nil
}

func (f *messageFixer) fix(messages []domain.Message) ([]domain.Message, error) {
	for i, m := range messages {
		// While requests are pending, only results may appear. The flag is
		// fixed per message so text emitted alongside a request in the same
		// assistant turn stays legal.
		onlyResults := len(f.pending) > 0

		for j, c := range m.Content {
			switch v := c.(type) {
			case domain.ToolCallResult:
				if err := f.acceptResult(i, j, m, v); err != nil {
					return nil, err
				}
			default:
				if onlyResults {
					return nil, schema.NewBadRequestf(
						"Only tool call results are allowed in tool call turn. "+
							"%s should not contain any content other than tool call results "+
							"since requests ids `%s` are still pending.",
						messagePos(i, j), f.pendingIDs(),
					)
				}
				if req, ok := c.(domain.ToolCallRequest); ok {
					if err := f.acceptRequest(i, j, m, req); err != nil {
						return nil, err
					}
				}
			}
		}

		if f.resultMsg >= 0 {
			// The wire message dissolved into the aggregated result message.
			// Resume normal appending once the turn fully resolves.
			if len(f.pending) == 0 {
				f.resultMsg = -1
			}
		} else {
			f.fixed = append(f.fixed, m)
		}
	}

	if len(f.pending) > 0 {
		return nil, schema.NewBadRequestf(
			"Tool call requests `%s` are still pending. "+
				"Make sure that all tool call requests are fulfilled before sending the next message.",
			f.pendingIDs(),
		)
	}
	return f.fixed, nil
}

// FixMessages validates tool call sequencing over a canonical message list
// and returns a corrected, possibly shorter list safe to hash and dispatch.
// Every request id must be globally unique and fulfilled by exactly one
// result before any other content appears.
func FixMessages(messages []domain.Message) ([]domain.Message, error) {
	return newMessageFixer().fix(messages)
}
