// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package conversation links chat completions into conversations by
// hash-chaining message history and storing short-lived hash-to-id
// mappings in a key-value store.
package conversation

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"golang.org/x/crypto/blake2s"

	"github.com/workflowai/gateway/pkg/core/domain"
)

// blake2s is used for speed; these hashes are lookup keys, not secrets.
func hashString(data string) string {
	sum := blake2s.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// contentSortKey orders content canonically before hashing so the same turn
// hashes identically whether tool calls arrived inline or in separate wire
// fields.
func contentSortKey(c domain.Content) int {
	switch c.(type) {
	case domain.Text:
		return 1
	case domain.File:
		return 2
	case domain.ToolCallRequest:
		return 3
	case domain.ToolCallResult:
		return 4
	default:
		return 5
	}
}

// hashedFile is the canonical hashed view of file content. Only identity
// fields participate; presentation hints like Kind do not.
type hashedFile struct {
	ContentType string `json:"content_type,omitempty"`
	Data        string `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
}

type hashedToolCall struct {
	ID       string         `json:"id,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Result   any            `json:"result,omitempty"`
}

type hashedContent struct {
	Text            string          `json:"text,omitempty"`
	File            *hashedFile     `json:"file,omitempty"`
	ToolCallRequest *hashedToolCall `json:"tool_call_request,omitempty"`
	ToolCallResult  *hashedToolCall `json:"tool_call_result,omitempty"`
}

type hashedMessage struct {
	Role    string          `json:"role"`
	Content []hashedContent `json:"content"`
}

// MessageHash computes the canonical hash of a single message.
func MessageHash(m domain.Message) string {
	content := make([]domain.Content, len(m.Content))
	copy(content, m.Content)
	sort.SliceStable(content, func(i, j int) bool {
		return contentSortKey(content[i]) < contentSortKey(content[j])
	})

	hm := hashedMessage{Role: string(m.Role), Content: make([]hashedContent, 0, len(content))}
	for _, c := range content {
		switch c := c.(type) {
		case domain.Text:
			hm.Content = append(hm.Content, hashedContent{Text: c.Text})
		case domain.File:
			hm.Content = append(hm.Content, hashedContent{File: &hashedFile{
				ContentType: c.ContentType,
				Data:        c.Data,
				URL:         c.URL,
			}})
		case domain.ToolCallRequest:
			hm.Content = append(hm.Content, hashedContent{ToolCallRequest: &hashedToolCall{
				ID:       c.ID,
				ToolName: c.ToolName,
				Input:    c.Input,
			}})
		case domain.ToolCallResult:
			hm.Content = append(hm.Content, hashedContent{ToolCallResult: &hashedToolCall{
				ID:       c.ID,
				ToolName: c.ToolName,
				Input:    c.Input,
				Result:   c.Result,
			}})
		}
	}

	// json.Marshal sorts map keys, so equal inputs serialize identically.
	data, err := json.Marshal(hm)
	if err != nil {
		return ""
	}
	return hashString(string(data))
}

// ExtrasHash hashes the request's version properties (model, temperature
// and friends) so two identical histories under different settings do not
// share a conversation chain. An empty set hashes to "".
func ExtrasHash(extras map[string]any) string {
	if len(extras) == 0 {
		return ""
	}
	data, err := json.Marshal(extras)
	if err != nil {
		return ""
	}
	return hashString(string(data))
}

// AggregateHashes folds a hash list into a single chain hash.
func AggregateHashes(hashes []string) string {
	data, err := json.Marshal(hashes)
	if err != nil {
		return ""
	}
	return hashString(string(data))
}

// StoredMessage is a message annotated with its chain hash and, for
// assistant turns, the run that produced it.
type StoredMessage struct {
	domain.Message
	AggHash string
	RunID   string
}

// ChainSeed is the version-level state folded into the chain before any
// message: the resolved model, the deployment's fixed message template and
// caller-supplied opaque extras. Identical histories under different
// versions must not share a conversation chain.
type ChainSeed struct {
	Model    string
	Template []domain.Message
	Extras   map[string]any
}

func (s ChainSeed) fold() []string {
	templateHash := ""
	if len(s.Template) > 0 {
		hashes := make([]string, 0, len(s.Template))
		for _, m := range s.Template {
			hashes = append(hashes, MessageHash(m))
		}
		templateHash = AggregateHashes(hashes)
	}
	return []string{s.Model, templateHash, ExtrasHash(s.Extras)}
}

// ComputeChain annotates each message with the hash of everything up to and
// including it. The seed opens the chain, then each message appends its own
// hash. It returns the flat hash list so callers can extend the chain with
// a reply without recomputing history.
func ComputeChain(seed ChainSeed, messages []domain.Message) ([]StoredMessage, []string) {
	hashes := seed.fold()
	stored := make([]StoredMessage, 0, len(messages))
	for _, m := range messages {
		hashes = append(hashes, MessageHash(m))
		stored = append(stored, StoredMessage{
			Message: m,
			AggHash: AggregateHashes(hashes),
		})
	}
	return stored, hashes
}
