package cloudfn

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry manages function registration and instantiation.
// It provides thread-safe access to registered functions.
type Registry struct {
	mu          sync.RWMutex
	definitions map[FunctionName]Definition
	instances   map[FunctionName]Function
}

// DefaultRegistry is the global function registry.
// Function packages register themselves via init() functions.
var DefaultRegistry = NewRegistry()

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		definitions: make(map[FunctionName]Definition),
		instances:   make(map[FunctionName]Function),
	}
}

// Register adds a function definition to the registry.
// This is typically called from function package init() functions.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("function definition has no name")
	}
	if def.Factory == nil {
		return fmt.Errorf("function %s has no factory", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.definitions[def.Name]; exists {
		return fmt.Errorf("function already registered: %s", def.Name)
	}

	r.definitions[def.Name] = def
	return nil
}

// Put stores a ready-made function instance, bypassing its factory.
// This is mainly useful for testing.
func (r *Registry) Put(fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[fn.Name()] = fn
}

// Definition retrieves a registered definition by name.
func (r *Registry) Definition(name FunctionName) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, exists := r.definitions[name]
	if !exists {
		return Definition{}, ErrNotFound("function", string(name))
	}
	return def, nil
}

// GetOrCreate retrieves a function instance or creates one using its factory.
func (r *Registry) GetOrCreate(ctx context.Context, name FunctionName, deps Dependencies) (Function, error) {
	r.mu.RLock()
	fn, exists := r.instances[name]
	r.mu.RUnlock()

	if exists {
		return fn, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if fn, exists = r.instances[name]; exists {
		return fn, nil
	}

	def, exists := r.definitions[name]
	if !exists {
		return nil, ErrNotFound("function", string(name))
	}

	fn, err := def.Factory.Create(ctx, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create function %s: %w", name, err)
	}

	r.instances[name] = fn
	return fn, nil
}

// List returns all registered function names, sorted.
func (r *Registry) List() []FunctionName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]FunctionName, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// ListByCapability returns functions that have a specific capability, sorted.
func (r *Registry) ListByCapability(c Capability) []FunctionName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []FunctionName
	for name, def := range r.definitions {
		if def.HasCapability(c) {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Definitions returns every registered definition sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Unregister removes a function and any cached instance.
// This is mainly useful for testing.
func (r *Registry) Unregister(name FunctionName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.definitions, name)
	delete(r.instances, name)
}

// Clear removes all functions from the registry.
// This is mainly useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.definitions = make(map[FunctionName]Definition)
	r.instances = make(map[FunctionName]Function)
}

// Global convenience functions that use DefaultRegistry

// Register adds a definition to the default registry.
func Register(def Definition) error {
	return DefaultRegistry.Register(def)
}

// MustRegister is Register for init() functions; a duplicate name panics.
func MustRegister(def Definition) {
	if err := Register(def); err != nil {
		panic(err)
	}
}

// ListFunctions returns all functions in the default registry.
func ListFunctions() []FunctionName {
	return DefaultRegistry.List()
}
