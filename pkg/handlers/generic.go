package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/openkiln/openkiln/pkg/engine"
)

// Generic is the no-op handler: every operation begins and completes
// immediately. It backs the core.generic type and serves as the
// fallback for unknown type names, and as an embeddable base that
// concrete handlers override operation by operation.
type Generic struct{}

// NewGeneric returns the no-op handler.
func NewGeneric() *Generic { return &Generic{} }

func (g *Generic) HandleCreate(ctx context.Context, r *engine.Resource) (interface{}, error) {
	r.SetPhysicalID(uuid.New().String())
	return nil, nil
}

func (g *Generic) CheckCreateComplete(ctx context.Context, r *engine.Resource, opData interface{}) (bool, error) {
	return true, nil
}

func (g *Generic) HandleUpdate(ctx context.Context, r *engine.Resource, newProps map[string]interface{}) (*engine.UpdateResult, error) {
	return &engine.UpdateResult{}, nil
}

func (g *Generic) CheckUpdateComplete(ctx context.Context, r *engine.Resource, opData interface{}) (bool, error) {
	return true, nil
}

func (g *Generic) HandleDelete(ctx context.Context, r *engine.Resource) (interface{}, error) {
	return nil, nil
}

func (g *Generic) CheckDeleteComplete(ctx context.Context, r *engine.Resource, opData interface{}) (bool, error) {
	return true, nil
}

func (g *Generic) HandleSuspend(ctx context.Context, r *engine.Resource) (interface{}, error) {
	return nil, nil
}

func (g *Generic) CheckSuspendComplete(ctx context.Context, r *engine.Resource, opData interface{}) (bool, error) {
	return true, nil
}

func (g *Generic) HandleResume(ctx context.Context, r *engine.Resource) (interface{}, error) {
	return nil, nil
}

func (g *Generic) CheckResumeComplete(ctx context.Context, r *engine.Resource, opData interface{}) (bool, error) {
	return true, nil
}

func (g *Generic) Attribute(ctx context.Context, r *engine.Resource, key string) (string, error) {
	return "", fmt.Errorf("type %s has no attribute %q", r.Type, key)
}
