// Package emit provides observability events for graph execution.
//
// The engine emits one event per interesting transition; emitters route
// them to logs, memory buffers, or OpenTelemetry spans. Emitters are
// pluggable so a pipeline can run silent in tests and fully traced in
// production without touching graph code.
package emit

// Event is one observability record emitted during graph execution.
//
// The engine emits events with these Msg values:
//   - node_start, node_cache_hit, node_complete, node_error
//   - node_init, node_release
//   - batch_start, batch_item_error, batch_release, batch_complete
type Event struct {
	// RunID identifies the run (or batch) that emitted this event.
	RunID string

	// Location is the persistence location bound when the event fired.
	// Empty when no store location is bound.
	Location string

	// Step is the 1-indexed position in the topological order, or the
	// 1-indexed item number for batch item events. Zero for run-level
	// events.
	Step int

	// NodeID is the graph id of the node this event concerns.
	// Negative one for run-level events.
	NodeID int

	// Node is the node's human-readable name. Empty for run-level events.
	Node string

	// Msg names the event kind.
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "duration_ms": processing duration in milliseconds
	//   - "fingerprint": the node's cache fingerprint
	//   - "error": error details
	//   - "items", "levels": batch dimensions
	Meta map[string]interface{}
}
