// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog resolves model names, aliases and agent deployments to
// concrete models and provider routing.
package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/workflowai/gateway/pkg/core/domain"
)

// ModelInfo describes one model the gateway can route to.
type ModelInfo struct {
	ID string
	// Providers that serve the model, in fallback order.
	Providers []string
	// Prices per million tokens, used for cost enrichment.
	PromptPriceUSD     float64
	CompletionPriceUSD float64
	SupportsTools      bool
}

// Deployment is the resolved version of an agent deployed to an environment.
type Deployment struct {
	AgentID     string
	SchemaID    int
	Environment domain.Environment
	Model       string
	// Version-level message template prepended to request messages.
	Messages []domain.Message
	// Version-level defaults, overridden by request options.
	Temperature *float64
	TopP        *float64
}

// DeploymentStore resolves EnvironmentRefs against persistent agent state.
// The gateway only consumes this interface; storage of agents and versions
// lives outside this repository.
type DeploymentStore interface {
	GetDeployment(ctx context.Context, agentID string, schemaID int, env domain.Environment) (*Deployment, error)
}

// Catalog holds the model enumeration and alias table.
type Catalog struct {
	models  map[string]ModelInfo
	aliases map[string]string
}

// New builds a catalog from a model list and alias table. A nil alias map is
// allowed.
func New(models []ModelInfo, aliases map[string]string) *Catalog {
	m := make(map[string]ModelInfo, len(models))
	for _, info := range models {
		m[info.ID] = info
	}
	return &Catalog{models: m, aliases: aliases}
}

// Default returns a catalog with the built-in model table.
func Default() *Catalog {
	return New(defaultModels, defaultAliases)
}

// ResolveModel maps a permissive model name to a known model id. Resolution
// tries, in order: the alias table, the reasoning-effort suffix form
// ("<name>-<effort>"), then direct enumeration lookup. It returns false when
// nothing matches.
func (c *Catalog) ResolveModel(name, reasoningEffort string) (string, bool) {
	if alias, ok := c.aliases[name]; ok {
		name = alias
	}
	if reasoningEffort != "" {
		if suffixed := name + "-" + reasoningEffort; c.has(suffixed) {
			return suffixed, true
		}
	}
	if c.has(name) {
		return name, true
	}
	return "", false
}

func (c *Catalog) has(id string) bool {
	_, ok := c.models[id]
	return ok
}

// List returns every model in the enumeration sorted by id.
func (c *Catalog) List() []ModelInfo {
	out := make([]ModelInfo, 0, len(c.models))
	for _, info := range c.models {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the model info for a resolved model id.
func (c *Catalog) Get(id string) (ModelInfo, bool) {
	info, ok := c.models[id]
	return info, ok
}

// CostUSD computes the cost of a completion from the per-model price table.
// Unknown models cost zero.
func (c *Catalog) CostUSD(id string, usage domain.Usage) float64 {
	info, ok := c.models[id]
	if !ok {
		return 0
	}
	const million = 1_000_000
	return float64(usage.PromptTokens)*info.PromptPriceUSD/million +
		float64(usage.CompletionTokens)*info.CompletionPriceUSD/million
}

// Suggest returns the closest known model name for an unknown input, or ""
// when nothing is plausibly close. It prefers prefix matches over substring
// matches and shorter candidates over longer ones.
func (c *Catalog) Suggest(name string) string {
	if name == "" {
		return ""
	}
	lowered := strings.ToLower(name)
	var candidates []string
	for id := range c.models {
		candidates = append(candidates, id)
	}
	sort.Strings(candidates)

	var substrMatch string
	for _, id := range candidates {
		low := strings.ToLower(id)
		if strings.HasPrefix(low, lowered) {
			return id
		}
		if substrMatch == "" && (strings.Contains(low, lowered) || strings.Contains(lowered, low)) {
			substrMatch = id
		}
	}
	return substrMatch
}
