// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package domain

// Environment is a deployment environment for an agent version.
type Environment string

const (
	EnvironmentDev        Environment = "dev"
	EnvironmentStaging    Environment = "staging"
	EnvironmentProduction Environment = "production"
)

// Environments lists the valid deployment environments.
func Environments() []Environment {
	return []Environment{EnvironmentDev, EnvironmentStaging, EnvironmentProduction}
}

// ParseEnvironment resolves an environment name, accepting known aliases
// ("prod" and "development").
func ParseEnvironment(s string) (Environment, bool) {
	switch s {
	case "dev", "development":
		return EnvironmentDev, true
	case "staging":
		return EnvironmentStaging, true
	case "production", "prod":
		return EnvironmentProduction, true
	}
	return "", false
}

// Reference is the resolved target of a request: either a bare model
// (optionally scoped to an agent) or an agent's deployed environment.
// Exactly one variant is resolved per request.
type Reference interface {
	isReference()
}

// ModelRef targets a concrete model, optionally on behalf of an agent.
type ModelRef struct {
	Model   string
	AgentID string
}

// EnvironmentRef targets the version of an agent deployed to an environment.
type EnvironmentRef struct {
	AgentID     string
	SchemaID    int
	Environment Environment
}

func (ModelRef) isReference()       {}
func (EnvironmentRef) isReference() {}
