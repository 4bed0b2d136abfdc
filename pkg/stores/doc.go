// Package stores persists resource state and the state-transition
// event log.
//
// The engine treats persistence as best-effort: stack operations keep
// going when a write fails. The SQLite store is the durable
// implementation, running in WAL mode with embedded migrations; the
// memory store backs tests and throwaway runs.
package stores
