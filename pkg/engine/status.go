package engine

import (
	"encoding/json"
	"fmt"
)

// ResourceState represents the lifecycle state of a resource.
// The zero value means the resource has never been operated on.
type ResourceState string

const (
	// StateNone indicates the resource has no recorded state.
	StateNone ResourceState = ""

	StateCreateInProgress ResourceState = "CREATE_IN_PROGRESS"
	StateCreateComplete   ResourceState = "CREATE_COMPLETE"
	StateCreateFailed     ResourceState = "CREATE_FAILED"

	StateUpdateInProgress ResourceState = "UPDATE_IN_PROGRESS"
	StateUpdateComplete   ResourceState = "UPDATE_COMPLETE"
	StateUpdateFailed     ResourceState = "UPDATE_FAILED"

	StateDeleteInProgress ResourceState = "DELETE_IN_PROGRESS"
	StateDeleteComplete   ResourceState = "DELETE_COMPLETE"
	StateDeleteFailed     ResourceState = "DELETE_FAILED"

	StateSuspendInProgress ResourceState = "SUSPEND_IN_PROGRESS"
	StateSuspendComplete   ResourceState = "SUSPEND_COMPLETE"
	StateSuspendFailed     ResourceState = "SUSPEND_FAILED"

	StateResumeInProgress ResourceState = "RESUME_IN_PROGRESS"
	StateResumeComplete   ResourceState = "RESUME_COMPLETE"
	StateResumeFailed     ResourceState = "RESUME_FAILED"

	// StateRollbackInProgress marks a resource being deleted as part of
	// a caller-requested rollback of the current run.
	StateRollbackInProgress ResourceState = "ROLLBACK_IN_PROGRESS"
)

// IsInProgress returns true while an operation attempt is active.
func (s ResourceState) IsInProgress() bool {
	switch s {
	case StateCreateInProgress, StateUpdateInProgress, StateDeleteInProgress,
		StateSuspendInProgress, StateResumeInProgress, StateRollbackInProgress:
		return true
	}
	return false
}

// IsComplete returns true for any *_COMPLETE state.
func (s ResourceState) IsComplete() bool {
	switch s {
	case StateCreateComplete, StateUpdateComplete, StateDeleteComplete,
		StateSuspendComplete, StateResumeComplete:
		return true
	}
	return false
}

// IsFailed returns true for any *_FAILED state.
func (s ResourceState) IsFailed() bool {
	switch s {
	case StateCreateFailed, StateUpdateFailed, StateDeleteFailed,
		StateSuspendFailed, StateResumeFailed:
		return true
	}
	return false
}

// IsTerminal returns true once no further transition is possible for
// the current attempt. DELETE_COMPLETE is terminal for the resource's
// whole lifetime.
func (s ResourceState) IsTerminal() bool {
	return s.IsComplete() || s.IsFailed()
}

// IsDeleted returns true once the resource left the provider for good.
func (s ResourceState) IsDeleted() bool {
	return s == StateDeleteComplete
}

// Validate checks if the resource state is a known value.
func (s ResourceState) Validate() error {
	switch s {
	case StateNone,
		StateCreateInProgress, StateCreateComplete, StateCreateFailed,
		StateUpdateInProgress, StateUpdateComplete, StateUpdateFailed,
		StateDeleteInProgress, StateDeleteComplete, StateDeleteFailed,
		StateSuspendInProgress, StateSuspendComplete, StateSuspendFailed,
		StateResumeInProgress, StateResumeComplete, StateResumeFailed,
		StateRollbackInProgress:
		return nil
	default:
		return fmt.Errorf("invalid resource state: %s", string(s))
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s ResourceState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *ResourceState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ResourceState(str)
	return s.Validate()
}

// StackOperation identifies the whole-stack operation being orchestrated.
type StackOperation string

const (
	OpCreate  StackOperation = "create"
	OpUpdate  StackOperation = "update"
	OpDelete  StackOperation = "delete"
	OpSuspend StackOperation = "suspend"
	OpResume  StackOperation = "resume"
)

// Validate checks if the stack operation is a known value.
func (o StackOperation) Validate() error {
	switch o {
	case OpCreate, OpUpdate, OpDelete, OpSuspend, OpResume:
		return nil
	default:
		return fmt.Errorf("invalid stack operation: %s", string(o))
	}
}

// completeState returns the *_COMPLETE state a resource must reach for
// this operation to count as succeeded.
func (o StackOperation) completeState() ResourceState {
	switch o {
	case OpCreate:
		return StateCreateComplete
	case OpUpdate:
		return StateUpdateComplete
	case OpDelete:
		return StateDeleteComplete
	case OpSuspend:
		return StateSuspendComplete
	case OpResume:
		return StateResumeComplete
	}
	return StateNone
}

// inProgressState returns the *_IN_PROGRESS state for this operation.
func (o StackOperation) inProgressState() ResourceState {
	switch o {
	case OpCreate:
		return StateCreateInProgress
	case OpUpdate:
		return StateUpdateInProgress
	case OpDelete:
		return StateDeleteInProgress
	case OpSuspend:
		return StateSuspendInProgress
	case OpResume:
		return StateResumeInProgress
	}
	return StateNone
}

// failedState returns the *_FAILED state for this operation.
func (o StackOperation) failedState() ResourceState {
	switch o {
	case OpCreate:
		return StateCreateFailed
	case OpUpdate:
		return StateUpdateFailed
	case OpDelete:
		return StateDeleteFailed
	case OpSuspend:
		return StateSuspendFailed
	case OpResume:
		return StateResumeFailed
	}
	return StateNone
}

// StackStatus is the aggregate outcome of a stack operation.
type StackStatus string

const (
	// StackStatusComplete means every resource reached its *_COMPLETE
	// state for the requested operation.
	StackStatusComplete StackStatus = "COMPLETE"

	// StackStatusFailed means at least one resource's operation failed
	// or was skipped because of an upstream failure.
	StackStatusFailed StackStatus = "FAILED"

	// StackStatusRolledBack means the operation failed and the
	// requested rollback completed.
	StackStatusRolledBack StackStatus = "ROLLED_BACK"

	// StackStatusCancelled means the run stopped on request before all
	// resources reached a terminal state.
	StackStatusCancelled StackStatus = "CANCELLED"
)
