package module

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a module from its definition.
type Factory func(Definition) (Module, error)

// Registry maintains known module factories, keyed by definition kind.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// DefaultRegistry returns a registry with the built-in kinds registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(KindCommand, NewCommand)
	return r
}

// Register installs a module factory. Returns an error if the kind already
// exists.
func (r *Registry) Register(kind string, factory Factory) error {
	if kind == "" {
		return fmt.Errorf("module: kind is required")
	}
	if factory == nil {
		return fmt.Errorf("module: factory is required for %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("module: %s already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(kind string, factory Factory) {
	if err := r.Register(kind, factory); err != nil {
		panic(err)
	}
}

// Resolve constructs a module from def using the factory for def.Kind.
func (r *Registry) Resolve(def Definition) (Module, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.factories[def.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("module: %s: unknown kind %q", def.Name, def.Kind)
	}
	return factory(def)
}

// ResolveAll constructs every definition, rejecting duplicate names.
func (r *Registry) ResolveAll(defs []Definition) ([]Module, error) {
	seen := make(map[string]bool, len(defs))
	mods := make([]Module, 0, len(defs))
	for _, def := range defs {
		if seen[def.Name] {
			return nil, fmt.Errorf("module: %s defined twice", def.Name)
		}
		seen[def.Name] = true
		m, err := r.Resolve(def)
		if err != nil {
			return nil, err
		}
		mods = append(mods, m)
	}
	return mods, nil
}

// Kinds returns a sorted list of registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
