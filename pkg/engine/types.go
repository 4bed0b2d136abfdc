package engine

import "time"

// ResourceRecord is the persisted snapshot of a resource, written on
// every state transition.
type ResourceRecord struct {
	// Stack is the owning stack's name.
	Stack string `json:"stack"`

	// Name is the resource's logical name, unique within the stack.
	Name string `json:"name"`

	// Type is the resource type name, e.g. "sim.instance".
	Type string `json:"type"`

	// State is the lifecycle state at the time of the snapshot.
	State ResourceState `json:"state"`

	// Reason is the human-readable transition reason. For failures it
	// carries the provider error text.
	Reason string `json:"reason,omitempty"`

	// PhysicalID identifies the provider-side object, empty until the
	// first successful create and after a completed delete.
	PhysicalID string `json:"physical_id,omitempty"`

	// UpdatedAt is when the snapshot was taken.
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is one entry in the append-only state-transition log.
type Event struct {
	// ID is a unique event identifier.
	ID string `json:"id"`

	// Stack is the owning stack's name.
	Stack string `json:"stack"`

	// Resource is the logical name of the resource that transitioned.
	Resource string `json:"resource"`

	// OldState is the state before the transition.
	OldState ResourceState `json:"old_state"`

	// NewState is the state after the transition.
	NewState ResourceState `json:"new_state"`

	// Reason describes why the transition happened.
	Reason string `json:"reason,omitempty"`

	// PhysicalID is the provider-side identifier at transition time.
	PhysicalID string `json:"physical_id,omitempty"`

	// Timestamp is when the transition happened.
	Timestamp time.Time `json:"timestamp"`
}

// StackOptions controls how a stack operation runs.
type StackOptions struct {
	// Timeout bounds the whole stack operation. Zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty"`

	// PollInterval is the delay between scheduler polls. Zero polls as
	// fast as possible, which tests rely on.
	PollInterval time.Duration `json:"poll_interval,omitempty"`

	// RollbackOnFailure deletes the resources created by a failed
	// create or update, in reverse dependency order. Off by default:
	// partial state is kept for inspection.
	RollbackOnFailure bool `json:"rollback_on_failure,omitempty"`
}

// OutcomeStatus classifies what happened to one resource during a
// stack operation.
type OutcomeStatus string

const (
	// OutcomeSucceeded means the resource reached its target state.
	OutcomeSucceeded OutcomeStatus = "succeeded"

	// OutcomeFailed means the provider operation failed.
	OutcomeFailed OutcomeStatus = "failed"

	// OutcomeSkipped means the resource never started because a
	// dependency failed or was skipped.
	OutcomeSkipped OutcomeStatus = "skipped"

	// OutcomeCancelled means the operation was cancelled before the
	// resource finished.
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// ResourceOutcome reports one resource's result within a stack
// operation.
type ResourceOutcome struct {
	// Name is the resource's logical name.
	Name string `json:"name"`

	// Type is the resource type name.
	Type string `json:"type"`

	// Status classifies the result.
	Status OutcomeStatus `json:"status"`

	// State is the resource's lifecycle state after the operation.
	State ResourceState `json:"state"`

	// Reason carries failure or skip detail.
	Reason string `json:"reason,omitempty"`

	// PhysicalID is the provider-side identifier, if any.
	PhysicalID string `json:"physical_id,omitempty"`

	// Replaced is true when an update replaced the physical resource.
	Replaced bool `json:"replaced,omitempty"`
}

// StackResult is the aggregate report of one stack operation.
type StackResult struct {
	// RunID uniquely identifies this operation run.
	RunID string `json:"run_id"`

	// Stack is the stack's name.
	Stack string `json:"stack"`

	// Operation is the stack operation that ran.
	Operation StackOperation `json:"operation"`

	// Status is the aggregate status.
	Status StackStatus `json:"status"`

	// Outcomes reports every resource the operation considered, in
	// execution order.
	Outcomes []ResourceOutcome `json:"outcomes"`

	// StartedAt is when the operation began.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the operation took.
	Duration time.Duration `json:"duration"`
}

// Outcome returns the outcome for a named resource, or nil.
func (r *StackResult) Outcome(name string) *ResourceOutcome {
	for i := range r.Outcomes {
		if r.Outcomes[i].Name == name {
			return &r.Outcomes[i]
		}
	}
	return nil
}

// Failed returns the outcomes that ended in failure.
func (r *StackResult) Failed() []ResourceOutcome {
	var failed []ResourceOutcome
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			failed = append(failed, o)
		}
	}
	return failed
}
