// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package providers

import "fmt"

// Registry holds the provider integrations available to the engine. It is
// an explicit object passed into the engine at construction rather than
// process-wide state, so tests and per-tenant overrides can build their own.
type Registry struct {
	providers map[string]Provider
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. Re-registering a name replaces the previous
// entry without changing its position in the fallback order.
func (r *Registry) Register(p Provider) {
	if _, exists := r.providers[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Require retrieves a provider by name or returns a configuration error.
func (r *Registry) Require(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, NewError(ErrInvalidProviderConfig, name, "provider %q is not configured", name)
	}
	return p, nil
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ForModel filters a model's provider list down to the registered ones,
// preserving the catalog's fallback order.
func (r *Registry) ForModel(candidates []string) ([]Provider, error) {
	var out []Provider
	for _, name := range candidates {
		if p, ok := r.providers[name]; ok {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no configured provider serves this model (candidates: %v)", candidates)
	}
	return out, nil
}
