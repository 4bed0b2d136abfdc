// Package engine implements the OpenKiln orchestration kernel.
//
// # Overview
//
// OpenKiln converges declarative stacks of resources against
// asynchronous providers. The kernel has four cooperating parts:
//
//  1. Graph - dependency graph over a stack's resources, executed as
//     batches of mutually independent resources (Graph)
//  2. Scheduler - cooperative, poll-driven task execution with explicit
//     suspension points (Task, TaskRunner, PollingTaskGroup)
//  3. Lifecycle - the per-resource state machine that drives a type
//     handler's begin/check pairs (Resource, ResourceState)
//  4. Orchestrator - whole-stack operations composed from the above
//     (Stack: create, update, delete, suspend, resume)
//
// # Execution model
//
// Provider operations are long-running and asynchronous: an operation
// is begun once and then polled for completion. The kernel never
// blocks a thread per resource. Instead every operation is a Task
// whose Step method performs one bounded unit of work, and a whole
// stack operation runs on a single TaskRunner that interleaves all
// in-flight resources, batch by batch.
//
// Within a batch every resource's dependencies have already reached a
// terminal success state, so batch members poll concurrently. A failed
// resource lets its in-flight siblings finish but marks every
// transitive dependent skipped before it starts.
//
// # Error taxonomy
//
// Failures carry a KernelError with a class (validation, cycle,
// provider, timeout, cancelled) plus the resource and operation they
// belong to. Timeouts and cancellations are always distinguishable
// from provider failures.
//
// The collaborators the kernel drives - type handlers, the state
// store - are consumed through interfaces and implemented in the
// handlers and stores packages.
package engine
