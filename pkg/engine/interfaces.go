package engine

import "context"

// Handler performs the provider-side operations for one resource type.
// Every lifecycle operation is split into a begin call that starts the
// work and returns opaque in-progress data, and a check call that polls
// the same work for completion. Check calls must be cheap and
// side-effect free; the scheduler invokes them repeatedly.
type Handler interface {
	// HandleCreate begins creating the physical resource. It returns
	// opaque data passed back to CheckCreateComplete on every poll.
	// It must set the resource's physical ID once one is known.
	HandleCreate(ctx context.Context, r *Resource) (interface{}, error)

	// CheckCreateComplete reports whether the create begun by
	// HandleCreate has finished.
	CheckCreateComplete(ctx context.Context, r *Resource, opData interface{}) (bool, error)

	// HandleUpdate begins updating the resource in place toward
	// newProps, or signals that the change cannot be applied in place
	// and the resource must be replaced.
	HandleUpdate(ctx context.Context, r *Resource, newProps map[string]interface{}) (*UpdateResult, error)

	// CheckUpdateComplete reports whether an in-place update has
	// finished.
	CheckUpdateComplete(ctx context.Context, r *Resource, opData interface{}) (bool, error)

	// HandleDelete begins deleting the physical resource. A resource
	// that no longer exists is not an error: return ErrResourceNotFound
	// (possibly wrapped) and the engine treats the delete as complete.
	HandleDelete(ctx context.Context, r *Resource) (interface{}, error)

	// CheckDeleteComplete reports whether the delete has finished.
	// ErrResourceNotFound also counts as completion.
	CheckDeleteComplete(ctx context.Context, r *Resource, opData interface{}) (bool, error)

	// HandleSuspend begins suspending the physical resource.
	HandleSuspend(ctx context.Context, r *Resource) (interface{}, error)

	// CheckSuspendComplete reports whether the suspend has finished.
	CheckSuspendComplete(ctx context.Context, r *Resource, opData interface{}) (bool, error)

	// HandleResume begins resuming a suspended physical resource.
	HandleResume(ctx context.Context, r *Resource) (interface{}, error)

	// CheckResumeComplete reports whether the resume has finished.
	CheckResumeComplete(ctx context.Context, r *Resource, opData interface{}) (bool, error)

	// Attribute resolves a runtime attribute of the live resource,
	// such as an address assigned by the provider.
	Attribute(ctx context.Context, r *Resource, key string) (string, error)
}

// UpdateResult is returned by Handler.HandleUpdate.
type UpdateResult struct {
	// Replace signals that the property change cannot be applied in
	// place. The orchestrator reacts by replacing the resource.
	Replace bool

	// OpData is the opaque in-progress data for CheckUpdateComplete
	// when the update proceeds in place.
	OpData interface{}
}

// HandlerRegistry resolves a resource type name to its handler. A
// registry must resolve every name; unknown types map to a no-op
// handler rather than failing mid-graph.
type HandlerRegistry interface {
	HandlerFor(resourceType string) Handler
}

// StateStore persists resource state transitions and the event log.
// The engine calls it best-effort: a store error is logged and the
// operation continues, so a flaky store never wedges a stack.
type StateStore interface {
	// SaveResource upserts the persisted record for a resource.
	SaveResource(ctx context.Context, rec *ResourceRecord) error

	// RecordEvent appends a state-transition event.
	RecordEvent(ctx context.Context, ev *Event) error
}
