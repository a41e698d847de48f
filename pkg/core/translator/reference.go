// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package translator maps the OpenAI-compatible wire schema to the canonical
// message model and back: reference resolution, message and tool
// translation, tool call sequencing repair and response assembly.
package translator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/workflowai/gateway/pkg/core/catalog"
	"github.com/workflowai/gateway/pkg/core/domain"
	"github.com/workflowai/gateway/pkg/core/schema"
	"github.com/workflowai/gateway/pkg/providers"
)

// deploymentPattern is the "<agent_id>/#<schema_id>/<environment>" model
// string form. The environment segment is validated separately so an invalid
// name falls through to plain model resolution.
var deploymentPattern = regexp.MustCompile(`^([^/]+)/#(\d+)/([^/]+)$`)

// metadataEnvPattern is the "#<schema_id>/<environment>" form accepted in
// metadata["environment"].
var metadataEnvPattern = regexp.MustCompile(`^#(\d+)/(.+)$`)

func environmentNames() string {
	names := make([]string, 0, 3)
	for _, e := range domain.Environments() {
		names = append(names, string(e))
	}
	return strings.Join(names, ", ")
}

func envFromModelString(model string) (domain.Reference, bool) {
	m := deploymentPattern.FindStringSubmatch(model)
	if m == nil {
		return nil, false
	}
	env, ok := domain.ParseEnvironment(m[3])
	if !ok {
		return nil, false
	}
	schemaID, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, false
	}
	return domain.EnvironmentRef{AgentID: m[1], SchemaID: schemaID, Environment: env}, true
}

// envFromFields resolves the explicit environment/schema_id body fields. All
// three of agent id, environment and schema id must resolve together. An
// unparseable environment is tolerated with a warning when a model already
// resolved: it is likely an unrelated caller-supplied field with the same
// name.
func envFromFields(req *schema.ChatCompletionRequest, agentID string, modelResolved bool) (domain.Reference, string, error) {
	if req.Environment == "" && req.SchemaID == nil {
		return nil, "", nil
	}
	if req.Environment == "" || req.SchemaID == nil || agentID == "" {
		return nil, "", schema.NewBadRequest(
			"When an environment or schema_id is provided, agent_id, environment and schema_id must be provided",
		)
	}
	env, ok := domain.ParseEnvironment(req.Environment)
	if !ok {
		if modelResolved {
			return nil, fmt.Sprintf("ignoring invalid environment %q", req.Environment), nil
		}
		return nil, "", schema.NewBadRequestf(
			"Environment %s is not a valid environment. Valid environments are: %s",
			req.Environment, environmentNames(),
		)
	}
	return domain.EnvironmentRef{AgentID: agentID, SchemaID: *req.SchemaID, Environment: env}, "", nil
}

// envFromMetadata is the last-resort source for deployment targeting:
// metadata["agent_id"] and metadata["environment"] in the
// "#<schema_id>/<environment>" form. The body agent_id always wins.
func envFromMetadata(metadata map[string]any, agentID string) (string, domain.Reference) {
	if metadata == nil {
		return agentID, nil
	}
	if agentID == "" {
		if v, ok := metadata["agent_id"].(string); ok {
			agentID = v
		}
	}
	raw, ok := metadata["environment"].(string)
	if !ok || agentID == "" {
		return agentID, nil
	}
	m := metadataEnvPattern.FindStringSubmatch(raw)
	if m == nil {
		return agentID, nil
	}
	env, ok := domain.ParseEnvironment(m[2])
	if !ok {
		return agentID, nil
	}
	schemaID, err := strconv.Atoi(m[1])
	if err != nil {
		return agentID, nil
	}
	return agentID, domain.EnvironmentRef{AgentID: agentID, SchemaID: schemaID, Environment: env}
}

// ResolveReference extracts the request target from the model string and the
// optional body and metadata fields. Targets come from either:
//   - the model string, as "<model>", "<agent_id>/<model>" or
//     "<agent_id>/#<schema_id>/<environment>"
//   - the environment, schema_id and agent_id body fields
//   - metadata agent_id/environment entries, as a last resort
//
// Resolution is total: every input yields exactly one Reference or a typed
// error, never a silently defaulted model. Non-fatal anomalies are returned
// as warnings for the caller to log.
func ResolveReference(req *schema.ChatCompletionRequest, cat *catalog.Catalog) (domain.Reference, []string, error) {
	var warnings []string

	if ref, ok := envFromModelString(req.Model); ok {
		return ref, warnings, nil
	}

	// Resolve the model from the last path segment so provider-prefixed
	// strings like "openai/gpt-4o" still work.
	splits := strings.Split(req.Model, "/")
	agentID := req.AgentID
	if agentID == "" && len(splits) > 1 {
		agentID = splits[0]
	}
	model, modelResolved := cat.ResolveModel(splits[len(splits)-1], req.ReasoningEffort)

	ref, warning, err := envFromFields(req, agentID, modelResolved)
	if warning != "" {
		warnings = append(warnings, warning)
	}
	if err != nil {
		return nil, warnings, err
	}
	if ref != nil {
		return ref, warnings, nil
	}

	if !modelResolved {
		if len(splits) > 2 {
			return nil, warnings, schema.NewBadRequestf(
				"'%s' does not refer to a valid model or deployment. Use either the "+
					"'<agent-id>/#<schema-id>/<environment>' format to target a deployed environment "+
					"or '<agent-id>/<model>' to target a specific model. The agent_id, schema_id and "+
					"environment can also be passed at the root of the completion request.",
				req.Model,
			)
		}
		missing := splits[len(splits)-1]
		msg := fmt.Sprintf("Model %q does not exist", missing)
		if suggestion := cat.Suggest(missing); suggestion != "" {
			msg += fmt.Sprintf(". Did you mean %q?", suggestion)
		}
		return nil, warnings, providers.NewError(providers.ErrMissingModel, "", "%s", msg)
	}

	agentID, metaRef := envFromMetadata(req.Metadata, agentID)
	if metaRef != nil {
		return metaRef, warnings, nil
	}
	return domain.ModelRef{Model: model, AgentID: agentID}, warnings, nil
}
