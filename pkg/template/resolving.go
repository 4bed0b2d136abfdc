package template

import (
	"context"

	"github.com/openkiln/openkiln/pkg/engine"
)

// ResolvingRegistry decorates a handler registry so every handler
// observes resolved properties: references are substituted just before
// an operation begins, when the referenced resources are guaranteed
// complete by graph ordering.
type ResolvingRegistry struct {
	inner    engine.HandlerRegistry
	resolver *Resolver
}

// NewResolvingRegistry wraps a registry with the resolver.
func NewResolvingRegistry(inner engine.HandlerRegistry, resolver *Resolver) *ResolvingRegistry {
	return &ResolvingRegistry{inner: inner, resolver: resolver}
}

// HandlerFor resolves the type through the wrapped registry and
// decorates the result.
func (rr *ResolvingRegistry) HandlerFor(typeName string) engine.Handler {
	return &resolvingHandler{
		Handler:  rr.inner.HandlerFor(typeName),
		resolver: rr.resolver,
	}
}

// resolvingHandler substitutes references in the resource's property
// tree before the operations that consume properties.
type resolvingHandler struct {
	engine.Handler
	resolver *Resolver
}

func (h *resolvingHandler) resolveInto(ctx context.Context, r *engine.Resource) error {
	resolved, err := h.resolver.Resolve(ctx, r.Properties)
	if err != nil {
		return err
	}
	r.Properties = resolved
	return nil
}

func (h *resolvingHandler) HandleCreate(ctx context.Context, r *engine.Resource) (interface{}, error) {
	if err := h.resolveInto(ctx, r); err != nil {
		return nil, err
	}
	return h.Handler.HandleCreate(ctx, r)
}

func (h *resolvingHandler) HandleUpdate(ctx context.Context, r *engine.Resource, newProps map[string]interface{}) (*engine.UpdateResult, error) {
	if err := h.resolveInto(ctx, r); err != nil {
		return nil, err
	}
	resolved, err := h.resolver.Resolve(ctx, newProps)
	if err != nil {
		return nil, err
	}
	return h.Handler.HandleUpdate(ctx, r, resolved)
}
