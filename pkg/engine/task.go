package engine

import (
	"context"
	"errors"
	"sync"
	"time"
)

// StepFunc is one resumable unit of work. Each invocation performs a
// bounded amount of work and reports whether the operation finished.
// Suspension is explicit: returning (false, nil) yields control back to
// the scheduler until the next poll tick. State that a generator would
// keep in local variables lives in the closure or a context struct
// owned by the caller, so the suspension point is a plain value.
type StepFunc func(ctx context.Context) (done bool, err error)

// Task is anything the scheduler can drive to completion. TaskRunner
// and the task groups all satisfy it, so compositions nest.
type Task interface {
	// Name identifies the task in logs and error messages.
	Name() string

	// Step advances the task by one unit of work.
	Step(ctx context.Context) (done bool, err error)
}

// funcTask adapts a bare StepFunc to the Task interface.
type funcTask struct {
	name string
	step StepFunc
}

func (t *funcTask) Name() string { return t.name }

func (t *funcTask) Step(ctx context.Context) (bool, error) { return t.step(ctx) }

// NewTask wraps a step function as a named Task.
func NewTask(name string, step StepFunc) Task {
	return &funcTask{name: name, step: step}
}

// TaskRunner drives a single Task to completion with cooperative
// polling. A runner owns its task exclusively and is not restartable:
// once the task is done or failed it never steps again.
type TaskRunner struct {
	mu        sync.Mutex
	task      Task
	started   bool
	done      bool
	err       error
	cancelled bool
}

// NewTaskRunner creates a runner for the given task.
func NewTaskRunner(task Task) *TaskRunner {
	return &TaskRunner{task: task}
}

// Name returns the wrapped task's name.
func (r *TaskRunner) Name() string {
	return r.task.Name()
}

// Started reports whether Start has been called.
func (r *TaskRunner) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Done reports whether the task reached a terminal state, successful
// or not. Use Err to distinguish.
func (r *TaskRunner) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err returns the failure attached to the task, or nil.
func (r *TaskRunner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Cancel asks the runner to stop. The request is observed at the next
// step boundary; a step already in flight is not interrupted.
func (r *TaskRunner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
}

// Start invokes the step function for the first time. It is an error
// to start a runner twice.
func (r *TaskRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("task already started: " + r.task.Name())
	}
	r.started = true
	r.mu.Unlock()

	return r.advance(ctx)
}

// Step invokes the step function once more. Stepping a finished runner
// is a no-op; stepping an unstarted runner starts it.
func (r *TaskRunner) Step(ctx context.Context) (bool, error) {
	r.mu.Lock()
	if r.done {
		err := r.err
		r.mu.Unlock()
		return true, err
	}
	if !r.started {
		r.started = true
	}
	r.mu.Unlock()

	if err := r.advance(ctx); err != nil {
		return true, err
	}
	return r.Done(), nil
}

// advance runs exactly one step, honouring a pending cancellation
// before the step function is entered.
func (r *TaskRunner) advance(ctx context.Context) error {
	r.mu.Lock()
	if r.cancelled && !r.done {
		r.done = true
		r.err = NewCancelledError("task cancelled", nil).WithOperation(r.task.Name())
		err := r.err
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	done, err := r.task.Step(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.done = true
		r.err = err
		return err
	}
	if done {
		r.done = true
	}
	return nil
}

// Run drives the task to completion as a blocking call, sleeping
// waitTime between polls. A waitTime of zero polls as fast as possible,
// which keeps tests with injected step functions deterministic. The
// context bounds the whole run: a deadline maps to a timeout error, a
// cancellation to a cancelled error, both distinct from any failure the
// task itself reports.
func (r *TaskRunner) Run(ctx context.Context, waitTime time.Duration) error {
	if !r.Started() {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}

	for !r.Done() {
		if err := sleepOrDone(ctx, waitTime); err != nil {
			r.Cancel()
			return contextError(ctx, err, r.task.Name())
		}
		if _, err := r.Step(ctx); err != nil {
			return err
		}
	}
	return r.Err()
}

// RunTimeout is Run with an overall deadline layered on top of ctx.
func (r *TaskRunner) RunTimeout(ctx context.Context, waitTime, timeout time.Duration) error {
	if timeout <= 0 {
		return r.Run(ctx, waitTime)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.Run(ctx, waitTime)
}

// sleepOrDone waits for one poll interval unless the context ends
// first. A zero interval only checks the context.
func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// contextError maps a context termination to the kernel taxonomy.
func contextError(ctx context.Context, err error, operation string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewTimeoutError("operation deadline exceeded", err).WithOperation(operation)
	}
	return NewCancelledError("operation cancelled", err).WithOperation(operation)
}
