package emit

// Emitter receives observability events from graph execution.
//
// Implementations should be:
//   - Non-blocking: never slow the executor down
//   - Thread-safe: a store may be shared by several graphs
//   - Resilient: a failing backend must not crash the run
//
// Emit must not panic; backend errors are handled internally.
type Emitter interface {
	Emit(event Event)
}
