package template

import (
	"context"
	"fmt"

	"github.com/openkiln/openkiln/pkg/engine"
)

// PendingError reports a reference to a resource that has not been
// created yet. Under correct graph ordering a ${ref:} never produces
// one; an ${attr:} can, because attribute reads do not constrain
// ordering.
type PendingError struct {
	// Resource is the referenced resource's name.
	Resource string
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("reference pending on resource %s", e.Resource)
}

// Resolver substitutes ${ref:} and ${attr:} references with values
// from live resources. It is bound to a stack after construction
// because the stack itself is built with a registry that already
// carries the resolver.
type Resolver struct {
	lookup func(name string) *engine.Resource
}

// NewResolver creates an unbound resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Bind points the resolver at the stack whose resources it reads.
func (rv *Resolver) Bind(stack *engine.Stack) {
	rv.lookup = stack.Resource
}

// Resolve returns a copy of the property tree with every reference
// substituted. A ${ref:NAME} becomes NAME's physical ID; an
// ${attr:NAME.KEY} becomes the attribute value read from NAME's
// handler. References to unknown names fail with a validation error,
// references to not-yet-created resources with a PendingError.
func (rv *Resolver) Resolve(ctx context.Context, props map[string]interface{}) (map[string]interface{}, error) {
	resolved, err := rv.resolveValue(ctx, props)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]interface{}), nil
}

func (rv *Resolver) resolveValue(ctx context.Context, v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return rv.resolveString(ctx, val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			r, err := rv.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			r, err := rv.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func (rv *Resolver) resolveString(ctx context.Context, s string) (string, error) {
	var resolveErr error

	s = refPattern.ReplaceAllStringFunc(s, func(match string) string {
		if resolveErr != nil {
			return match
		}
		name := refPattern.FindStringSubmatch(match)[1]
		id, err := rv.physicalID(name)
		if err != nil {
			resolveErr = err
			return match
		}
		return id
	})
	if resolveErr != nil {
		return "", resolveErr
	}

	s = attrPattern.ReplaceAllStringFunc(s, func(match string) string {
		if resolveErr != nil {
			return match
		}
		m := attrPattern.FindStringSubmatch(match)
		value, err := rv.attribute(ctx, m[1], m[2])
		if err != nil {
			resolveErr = err
			return match
		}
		return value
	})
	if resolveErr != nil {
		return "", resolveErr
	}

	return s, nil
}

func (rv *Resolver) target(name string) (*engine.Resource, error) {
	if rv.lookup == nil {
		return nil, engine.NewValidationError("resolver is not bound to a stack", nil)
	}
	res := rv.lookup(name)
	if res == nil {
		return nil, engine.NewValidationError(
			fmt.Sprintf("reference to unknown resource %s", name), nil)
	}
	return res, nil
}

func (rv *Resolver) physicalID(name string) (string, error) {
	res, err := rv.target(name)
	if err != nil {
		return "", err
	}
	if res.PhysicalID() == "" {
		return "", &PendingError{Resource: name}
	}
	return res.PhysicalID(), nil
}

func (rv *Resolver) attribute(ctx context.Context, name, key string) (string, error) {
	res, err := rv.target(name)
	if err != nil {
		return "", err
	}
	if res.PhysicalID() == "" {
		return "", &PendingError{Resource: name}
	}
	return res.Attribute(ctx, key)
}
