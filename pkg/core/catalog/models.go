// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

// Built-in model table. Prices are per million tokens.
var defaultModels = []ModelInfo{
	// OpenAI
	{ID: "gpt-4o-latest", Providers: []string{"openai"}, PromptPriceUSD: 2.5, CompletionPriceUSD: 10, SupportsTools: true},
	{ID: "gpt-4o-mini-latest", Providers: []string{"openai"}, PromptPriceUSD: 0.15, CompletionPriceUSD: 0.6, SupportsTools: true},
	{ID: "gpt-4.1-latest", Providers: []string{"openai"}, PromptPriceUSD: 2, CompletionPriceUSD: 8, SupportsTools: true},
	{ID: "gpt-4.1-mini-latest", Providers: []string{"openai"}, PromptPriceUSD: 0.4, CompletionPriceUSD: 1.6, SupportsTools: true},
	{ID: "o3-mini-2025-01-31", Providers: []string{"openai"}, PromptPriceUSD: 1.1, CompletionPriceUSD: 4.4, SupportsTools: true},
	{ID: "o3-mini-2025-01-31-low", Providers: []string{"openai"}, PromptPriceUSD: 1.1, CompletionPriceUSD: 4.4, SupportsTools: true},
	{ID: "o3-mini-2025-01-31-medium", Providers: []string{"openai"}, PromptPriceUSD: 1.1, CompletionPriceUSD: 4.4, SupportsTools: true},
	{ID: "o3-mini-2025-01-31-high", Providers: []string{"openai"}, PromptPriceUSD: 1.1, CompletionPriceUSD: 4.4, SupportsTools: true},

	// Anthropic
	{ID: "claude-sonnet-4-latest", Providers: []string{"anthropic"}, PromptPriceUSD: 3, CompletionPriceUSD: 15, SupportsTools: true},
	{ID: "claude-3-7-sonnet-20250219", Providers: []string{"anthropic"}, PromptPriceUSD: 3, CompletionPriceUSD: 15, SupportsTools: true},
	{ID: "claude-3-5-haiku-20241022", Providers: []string{"anthropic"}, PromptPriceUSD: 0.8, CompletionPriceUSD: 4, SupportsTools: true},

	// Llama family, served by Groq
	{ID: "llama-3.3-70b", Providers: []string{"groq"}, PromptPriceUSD: 0.59, CompletionPriceUSD: 0.79, SupportsTools: true},
	{ID: "llama-4-scout", Providers: []string{"groq"}, PromptPriceUSD: 0.11, CompletionPriceUSD: 0.34, SupportsTools: true},
}

// Alias table, mapping unversioned or renamed models to their canonical id.
var defaultAliases = map[string]string{
	"gpt-4o":            "gpt-4o-latest",
	"gpt-4o-mini":       "gpt-4o-mini-latest",
	"gpt-4.1":           "gpt-4.1-latest",
	"gpt-4.1-mini":      "gpt-4.1-mini-latest",
	"o3-mini":           "o3-mini-2025-01-31",
	"claude-sonnet-4":   "claude-sonnet-4-latest",
	"claude-3-7-sonnet": "claude-3-7-sonnet-20250219",
	"claude-3-5-haiku":  "claude-3-5-haiku-20241022",
	"llama-3.3-70b-versatile": "llama-3.3-70b",
}
