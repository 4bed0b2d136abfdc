package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an orchestration error for propagation and
// reporting decisions.
type ErrorClass string

const (
	// ErrorClassValidation indicates a bad or missing property detected
	// before any provider call was made. Never retried.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassCycle indicates a circular hard dependency in the
	// resource graph. Fatal to the whole operation, nothing executes.
	ErrorClassCycle ErrorClass = "cycle"

	// ErrorClassProvider indicates a failure surfaced by a resource
	// handler while talking to the provider. Terminates that resource's
	// current operation.
	ErrorClassProvider ErrorClass = "provider"

	// ErrorClassTimeout indicates the operation exceeded its deadline.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassCancelled indicates the orchestration was asked to stop
	// and the task observed the request at a step boundary.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// KernelError is a classified orchestration error with resource and
// operation context.
type KernelError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the logical name of the resource involved, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the lifecycle operation in flight, if any.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *KernelError) Error() string {
	switch {
	case e.Resource != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)%s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapSuffix())
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s)%s",
			e.Class, e.Message, e.Resource, e.unwrapSuffix())
	default:
		return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *KernelError) Unwrap() error {
	return e.Err
}

func (e *KernelError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality for errors.Is.
func (e *KernelError) Is(target error) bool {
	t, ok := target.(*KernelError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithResource attaches resource context to the error.
func (e *KernelError) WithResource(name string) *KernelError {
	e.Resource = name
	return e
}

// WithOperation attaches operation context to the error.
func (e *KernelError) WithOperation(op string) *KernelError {
	e.Operation = op
	return e
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *KernelError {
	return &KernelError{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewCycleError creates a cycle error naming one offending cycle.
func NewCycleError(message string, err error) *KernelError {
	return &KernelError{Class: ErrorClassCycle, Message: message, Err: err}
}

// NewProviderError creates a provider error.
func NewProviderError(message string, err error) *KernelError {
	return &KernelError{Class: ErrorClassProvider, Message: message, Err: err}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string, err error) *KernelError {
	return &KernelError{Class: ErrorClassTimeout, Message: message, Err: err}
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(message string, err error) *KernelError {
	return &KernelError{Class: ErrorClassCancelled, Message: message, Err: err}
}

func isClass(err error, class ErrorClass) bool {
	var e *KernelError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool { return isClass(err, ErrorClassValidation) }

// IsCycle returns true if the error is a cycle error.
func IsCycle(err error) bool { return isClass(err, ErrorClassCycle) }

// IsProvider returns true if the error is a provider error.
func IsProvider(err error) bool { return isClass(err, ErrorClassProvider) }

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool { return isClass(err, ErrorClassTimeout) }

// IsCancelled returns true if the error is a cancelled error.
func IsCancelled(err error) bool { return isClass(err, ErrorClassCancelled) }

// ErrResourceNotFound is returned by handlers when the underlying
// provider object does not exist. Delete treats it as success.
var ErrResourceNotFound = errors.New("resource not found")

// IsNotFound reports whether err indicates a missing provider object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrResourceNotFound)
}
