package llm

import (
	"fmt"
	"sort"
	"strings"
)

// Registry resolves configured providers by name.
//
// The provider map is copied on construction and never mutated afterwards, so
// Resolve is safe for concurrent use.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds an immutable registry.
func NewRegistry(providers map[string]Provider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("new llm registry: empty providers")
	}
	cloned := make(map[string]Provider, len(providers))
	for key, p := range providers {
		name := strings.ToLower(strings.TrimSpace(key))
		if name == "" {
			return nil, fmt.Errorf("new llm registry: empty provider key")
		}
		if p == nil {
			return nil, fmt.Errorf("new llm registry: provider %s is nil", name)
		}
		if _, exists := cloned[name]; exists {
			return nil, fmt.Errorf("new llm registry: duplicate provider key %s", name)
		}
		cloned[name] = p
	}
	return &Registry{providers: cloned}, nil
}

// Resolve returns one provider by name.
func (r *Registry) Resolve(name string) (Provider, error) {
	if r == nil {
		return nil, fmt.Errorf("resolve llm provider: nil registry")
	}
	key := strings.ToLower(strings.TrimSpace(name))
	p, ok := r.providers[key]
	if !ok {
		return nil, fmt.Errorf("resolve llm provider %q: %w", key, ErrUnknownProvider)
	}
	return p, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
