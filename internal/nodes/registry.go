package nodes

import (
	"sort"
	"sync"

	"github.com/rendis/socialflow/pkg/schema"
)

// Registry maps node type names to factories. It is populated at startup
// and sealed before the first run, after which it is read-only.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	sealed    bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register binds typ to factory. Returns an error on an empty type, a nil
// factory, a duplicate type, or a sealed registry.
func (r *Registry) Register(typ string, factory Factory) error {
	if typ == "" {
		return schema.NewError(schema.ErrCodeValidation, "node type is empty")
	}
	if factory == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "node type %q has nil factory", typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return schema.NewErrorf(schema.ErrCodeConflict, "registry is sealed; cannot register %q", typ)
	}
	if _, exists := r.factories[typ]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "node type %q already registered", typ)
	}

	r.factories[typ] = factory
	return nil
}

// MustRegister is Register for init-time wiring; it panics on error.
func (r *Registry) MustRegister(typ string, factory Factory) {
	if err := r.Register(typ, factory); err != nil {
		panic(err)
	}
}

// Seal makes the registry immutable.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Create returns a new instance of typ.
func (r *Registry) Create(typ string) (Node, error) {
	r.mu.RLock()
	factory, ok := r.factories[typ]
	r.mu.RUnlock()

	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "unknown node type %q", typ)
	}
	return factory(), nil
}

// Has checks if a node type is registered.
func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typ]
	return ok
}

// Types returns all registered node types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count returns the number of registered node types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}
