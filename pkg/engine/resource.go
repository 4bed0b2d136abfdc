package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Resource is one logical resource in a stack: a name, a type, a
// resolved property tree, and the lifecycle state machine that drives
// the type's handler. Lifecycle operations are exposed as Tasks so the
// stack orchestrator can interleave many resources on one goroutine.
type Resource struct {
	// Name is the logical name, unique within the stack.
	Name string

	// Type is the resource type name resolved through the handler
	// registry.
	Type string

	// Properties is the resolved property tree.
	Properties map[string]interface{}

	// DependsOn lists explicit dependency names from the template.
	DependsOn []string

	// Stack is the owning stack's name.
	Stack string

	mu         sync.Mutex
	state      ResourceState
	reason     string
	physicalID string

	handler Handler
	store   StateStore
	log     zerolog.Logger
}

// NewResource constructs a resource in the zero state. The store may
// be nil, in which case transitions are only logged.
func NewResource(stack, name, typ string, props map[string]interface{}, dependsOn []string, h Handler, store StateStore, log zerolog.Logger) *Resource {
	return &Resource{
		Name:       name,
		Type:       typ,
		Properties: props,
		DependsOn:  dependsOn,
		Stack:      stack,
		handler:    h,
		store:      store,
		log:        log.With().Str("stack", stack).Str("resource", name).Str("type", typ).Logger(),
	}
}

// State returns the current lifecycle state.
func (r *Resource) State() ResourceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// StatusReason returns the reason attached to the last transition.
func (r *Resource) StatusReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// PhysicalID returns the provider-side identifier, empty until the
// first successful create and after a completed delete.
func (r *Resource) PhysicalID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.physicalID
}

// SetPhysicalID records the provider-side identifier. Only the first
// non-empty value sticks; a failed retry or a replacement candidate
// must not clobber the identifier of the object that actually exists.
func (r *Resource) SetPhysicalID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.physicalID == "" {
		r.physicalID = id
	}
}

// RestoreState seeds the state machine from a persisted record, used
// when a stack is loaded from the store rather than built fresh.
func (r *Resource) RestoreState(state ResourceState, reason, physicalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.reason = reason
	r.physicalID = physicalID
}

// setState transitions the state machine, logs the transition, and
// persists it. Persistence is best-effort: a store failure is logged
// and the operation continues.
func (r *Resource) setState(ctx context.Context, state ResourceState, reason string) {
	r.mu.Lock()
	old := r.state
	r.state = state
	r.reason = reason
	physicalID := r.physicalID
	r.mu.Unlock()

	ev := r.log.Info()
	if state.IsFailed() {
		ev = r.log.Error()
	}
	ev.Str("old_state", string(old)).
		Str("new_state", string(state)).
		Str("reason", reason).
		Msg("resource state changed")

	if r.store == nil {
		return
	}

	now := time.Now()
	if err := r.store.SaveResource(ctx, &ResourceRecord{
		Stack:      r.Stack,
		Name:       r.Name,
		Type:       r.Type,
		State:      state,
		Reason:     reason,
		PhysicalID: physicalID,
		UpdatedAt:  now,
	}); err != nil {
		r.log.Warn().Err(err).Msg("failed to persist resource state")
	}

	if err := r.store.RecordEvent(ctx, &Event{
		ID:         uuid.New().String(),
		Stack:      r.Stack,
		Resource:   r.Name,
		OldState:   old,
		NewState:   state,
		Reason:     reason,
		PhysicalID: physicalID,
		Timestamp:  now,
	}); err != nil {
		r.log.Warn().Err(err).Msg("failed to record event")
	}
}

// fail transitions to the operation's failed state and returns the
// error decorated with resource and operation context.
func (r *Resource) fail(ctx context.Context, op StackOperation, err error) error {
	var kerr *KernelError
	switch {
	case IsTimeout(err):
		kerr = NewTimeoutError(err.Error(), err)
	case IsCancelled(err):
		kerr = NewCancelledError(err.Error(), err)
	default:
		kerr = NewProviderError(err.Error(), err)
	}
	kerr = kerr.WithResource(r.Name).WithOperation(string(op))
	r.setState(ctx, op.failedState(), kerr.Error())
	return kerr
}

// lifecycleOp binds an operation verb to its begin/check pair.
type lifecycleOp struct {
	op    StackOperation
	begin func(ctx context.Context) (interface{}, error)
	check func(ctx context.Context, opData interface{}) (bool, error)

	// onComplete runs after the check reports done, before the
	// *_COMPLETE transition.
	onComplete func()
}

// task turns a lifecycle operation into a cooperatively scheduled
// Task. The first step begins the operation; each later step polls it
// once. A resource already in the operation's in-progress state is
// assumed to be driven elsewhere, so the task completes without
// touching it.
func (r *Resource) task(lc lifecycleOp) Task {
	var opData interface{}
	begun := false
	noop := false

	name := fmt.Sprintf("%s %s", lc.op, r.Name)
	return NewTask(name, func(ctx context.Context) (bool, error) {
		if noop {
			return true, nil
		}

		if !begun {
			if r.State() == lc.op.inProgressState() {
				r.log.Warn().Str("operation", string(lc.op)).
					Msg("operation already in progress, skipping")
				noop = true
				return true, nil
			}

			r.setState(ctx, lc.op.inProgressState(), fmt.Sprintf("%s started", lc.op))

			data, err := lc.begin(ctx)
			if err != nil {
				return false, r.opError(ctx, lc.op, err)
			}
			opData = data
			begun = true
			return false, nil
		}

		done, err := lc.check(ctx, opData)
		if err != nil {
			return false, r.opError(ctx, lc.op, err)
		}
		if !done {
			return false, nil
		}

		if lc.onComplete != nil {
			lc.onComplete()
		}
		r.setState(ctx, lc.op.completeState(), fmt.Sprintf("%s completed", lc.op))
		return true, nil
	})
}

// opError maps a handler error to its state transition. Deletes whose
// target has already vanished converge instead of failing.
func (r *Resource) opError(ctx context.Context, op StackOperation, err error) error {
	if op == OpDelete && IsNotFound(err) {
		r.completeDelete(ctx, "resource already gone")
		return errAlreadyDone
	}
	return r.fail(ctx, op, err)
}

// errAlreadyDone is an internal sentinel: the step function uses it to
// short-circuit a delete whose target vanished. It never escapes the
// task, which converts it into successful completion.
var errAlreadyDone = fmt.Errorf("already done")

// CreateTask returns the task that creates the physical resource.
func (r *Resource) CreateTask() Task {
	return r.task(lifecycleOp{
		op: OpCreate,
		begin: func(ctx context.Context) (interface{}, error) {
			return r.handler.HandleCreate(ctx, r)
		},
		check: func(ctx context.Context, opData interface{}) (bool, error) {
			return r.handler.CheckCreateComplete(ctx, r, opData)
		},
	})
}

// DeleteTask returns the task that deletes the physical resource. A
// resource that was never created, or whose provider object has
// already vanished, deletes successfully without a provider call.
func (r *Resource) DeleteTask() Task {
	name := fmt.Sprintf("%s %s", OpDelete, r.Name)

	if r.State() == StateNone || r.State() == StateDeleteComplete || r.PhysicalID() == "" {
		return NewTask(name, func(ctx context.Context) (bool, error) {
			if r.State() != StateDeleteComplete {
				r.completeDelete(ctx, "nothing to delete")
			}
			return true, nil
		})
	}

	inner := r.task(lifecycleOp{
		op: OpDelete,
		begin: func(ctx context.Context) (interface{}, error) {
			return r.handler.HandleDelete(ctx, r)
		},
		check: func(ctx context.Context, opData interface{}) (bool, error) {
			return r.handler.CheckDeleteComplete(ctx, r, opData)
		},
		onComplete: func() {
			r.mu.Lock()
			r.physicalID = ""
			r.mu.Unlock()
		},
	})
	return wrapAlreadyDone(inner)
}

// completeDelete records a delete that converged without provider
// work.
func (r *Resource) completeDelete(ctx context.Context, reason string) {
	r.mu.Lock()
	r.physicalID = ""
	r.mu.Unlock()
	r.setState(ctx, StateDeleteComplete, reason)
}

// wrapAlreadyDone converts the errAlreadyDone sentinel into ordinary
// completion so callers only ever see real errors.
func wrapAlreadyDone(inner Task) Task {
	return NewTask(inner.Name(), func(ctx context.Context) (bool, error) {
		done, err := inner.Step(ctx)
		if err == errAlreadyDone {
			return true, nil
		}
		return done, err
	})
}

// ErrUpdateReplace is returned by an update task when the handler
// cannot apply the property change in place. The orchestrator reacts
// by replacing the resource; the error never reaches callers of the
// stack API.
var ErrUpdateReplace = fmt.Errorf("resource requires replacement")

// UpdateTask returns the task that updates the resource in place
// toward newProps. If the handler signals replacement, the task fails
// with ErrUpdateReplace and the resource keeps its previous state. A
// resource already mid-update is assumed to be driven elsewhere, same
// as the other operations.
func (r *Resource) UpdateTask(newProps map[string]interface{}) Task {
	var opData interface{}
	begun := false
	noop := false
	prevState := r.State()
	prevReason := r.StatusReason()

	name := fmt.Sprintf("%s %s", OpUpdate, r.Name)
	return NewTask(name, func(ctx context.Context) (bool, error) {
		if noop {
			return true, nil
		}

		if !begun {
			if r.State() == StateUpdateInProgress {
				r.log.Warn().Str("operation", string(OpUpdate)).
					Msg("operation already in progress, skipping")
				noop = true
				return true, nil
			}

			r.setState(ctx, StateUpdateInProgress, "update started")

			res, err := r.handler.HandleUpdate(ctx, r, newProps)
			if err != nil {
				return false, r.fail(ctx, OpUpdate, err)
			}
			if res != nil && res.Replace {
				// Not a failure: restore the pre-update state and let
				// the orchestrator schedule the replacement.
				r.setState(ctx, prevState, prevReason)
				return false, ErrUpdateReplace
			}
			if res != nil {
				opData = res.OpData
			}
			begun = true
			return false, nil
		}

		done, err := r.handler.CheckUpdateComplete(ctx, r, opData)
		if err != nil {
			return false, r.fail(ctx, OpUpdate, err)
		}
		if !done {
			return false, nil
		}

		r.mu.Lock()
		r.Properties = newProps
		r.mu.Unlock()
		r.setState(ctx, StateUpdateComplete, "update completed")
		return true, nil
	})
}

// SuspendTask returns the task that suspends the physical resource.
// An already suspended resource completes immediately.
func (r *Resource) SuspendTask() Task {
	if r.State() == StateSuspendComplete {
		return NewTask(fmt.Sprintf("%s %s", OpSuspend, r.Name), func(ctx context.Context) (bool, error) {
			return true, nil
		})
	}
	return r.task(lifecycleOp{
		op: OpSuspend,
		begin: func(ctx context.Context) (interface{}, error) {
			return r.handler.HandleSuspend(ctx, r)
		},
		check: func(ctx context.Context, opData interface{}) (bool, error) {
			return r.handler.CheckSuspendComplete(ctx, r, opData)
		},
	})
}

// ResumeTask returns the task that resumes a suspended resource. Only
// suspended resources need provider work; anything else completes
// immediately.
func (r *Resource) ResumeTask() Task {
	if r.State() != StateSuspendComplete && r.State() != StateResumeFailed {
		return NewTask(fmt.Sprintf("%s %s", OpResume, r.Name), func(ctx context.Context) (bool, error) {
			return true, nil
		})
	}
	return r.task(lifecycleOp{
		op: OpResume,
		begin: func(ctx context.Context) (interface{}, error) {
			return r.handler.HandleResume(ctx, r)
		},
		check: func(ctx context.Context, opData interface{}) (bool, error) {
			return r.handler.CheckResumeComplete(ctx, r, opData)
		},
	})
}

// Attribute resolves a runtime attribute through the handler.
func (r *Resource) Attribute(ctx context.Context, key string) (string, error) {
	return r.handler.Attribute(ctx, r, key)
}

// Record returns the persistable snapshot of the resource.
func (r *Resource) Record() *ResourceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &ResourceRecord{
		Stack:      r.Stack,
		Name:       r.Name,
		Type:       r.Type,
		State:      r.state,
		Reason:     r.reason,
		PhysicalID: r.physicalID,
		UpdatedAt:  time.Now(),
	}
}
