// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/workflowai/gateway/pkg/core/domain"
)

// Per-message serialization overhead in the chat format, measured against
// the OpenAI tokenizer.
const (
	messageBoilerplateTokens = 4
	requestBoilerplateTokens = 3
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func tokenEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		// cl100k_base is close enough for accounting across the served
		// model families; providers that report usage take precedence.
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// estimateUsage approximates token usage when the provider did not report
// any. Only text content is counted; file tokens vary too much by provider
// to guess.
func estimateUsage(model string, messages []domain.Message, completion string) *domain.Usage {
	enc := tokenEncoding()
	if enc == nil {
		return nil
	}

	prompt := requestBoilerplateTokens
	for _, m := range messages {
		prompt += messageBoilerplateTokens
		if text := m.TextContent(); text != "" {
			prompt += len(enc.Encode(text, nil, nil))
		}
	}

	out := len(enc.Encode(completion, nil, nil))
	return &domain.Usage{PromptTokens: prompt, CompletionTokens: out}
}
