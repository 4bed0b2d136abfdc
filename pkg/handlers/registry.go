package handlers

import (
	"sort"
	"sync"

	"github.com/openkiln/openkiln/pkg/engine"
)

// Registry maps resource type names to handlers. It satisfies
// engine.HandlerRegistry.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]engine.Handler
	fallback engine.Handler
}

// NewRegistry returns an empty registry whose fallback is the generic
// no-op handler.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]engine.Handler),
		fallback: NewGeneric(),
	}
}

// DefaultRegistry returns a registry with the built-in types
// registered: core.generic plus the sim.* types backed by the given
// cloud.
func DefaultRegistry(cloud *Cloud) *Registry {
	r := NewRegistry()
	r.Register("core.generic", NewGeneric())
	r.Register("sim.instance", NewSimInstance(cloud))
	r.Register("sim.network", NewSimNetwork(cloud))
	r.Register("sim.volume", NewSimVolume(cloud))
	return r
}

// Register binds a type name to a handler, replacing any previous
// binding.
func (r *Registry) Register(typeName string, h engine.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typeName] = h
}

// HandlerFor resolves a type name. Unknown names resolve to the
// generic handler rather than failing.
func (r *Registry) HandlerFor(typeName string) engine.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[typeName]; ok {
		return h
	}
	return r.fallback
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
