// Package handlers provides the resource type handlers OpenKiln ships
// with and the registry that resolves type names to them.
//
// Handlers implement engine.Handler: every lifecycle operation is a
// begin call plus a poll call, so the scheduler can interleave many
// slow provider operations on one goroutine. The registry is static;
// unknown type names resolve to the generic no-op handler so a single
// unregistered type never wedges a whole graph walk.
//
// The sim.* handlers operate on an in-process Cloud, a small
// simulation of an asynchronous provider used by the demo CLI and the
// test suites.
package handlers
