package flow

import (
	"errors"
	"strconv"
)

// ErrPrepareMustPersist is returned by ProcessBatch when an item's prepare
// hook returns without calling Graph.Persist. Every item needs its own
// persistence location; a prepare hook that forgets to bind one would
// silently mix items into the previous item's document.
var ErrPrepareMustPersist = errors.New("prepare hook did not call Persist")

// Construction error codes.
const (
	// CodeNilStore: New was called without a value store.
	CodeNilStore = "NIL_STORE"
	// CodeNilKind: AddNode was called with a nil processor kind.
	CodeNilKind = "NIL_KIND"
	// CodeInvalidName: AddConstant was called with an empty name.
	CodeInvalidName = "INVALID_NAME"
	// CodeDuplicateNode: the node id is already in use.
	CodeDuplicateNode = "DUPLICATE_NODE"
	// CodeUnknownNode: a binding or target references a node that is not
	// part of this graph.
	CodeUnknownNode = "UNKNOWN_NODE"
	// CodeCycle: the binding would make the graph cyclic.
	CodeCycle = "CYCLE"
	// CodeUnknownParam: a binding or init argument names a parameter the
	// kind does not declare.
	CodeUnknownParam = "UNKNOWN_PARAM"
	// CodeMissingParam: a declared parameter has no binding or init
	// argument.
	CodeMissingParam = "MISSING_PARAM"
	// CodeTypeMismatch: a literal value does not match the parameter's
	// declared type.
	CodeTypeMismatch = "TYPE_MISMATCH"
	// CodeNoTargets: ProcessBatch was called without target nodes or
	// without a prepare hook.
	CodeNoTargets = "NO_TARGETS"
)

// ConstructionError reports malformed graph wiring: duplicate ids, cycles,
// binding mismatches, unknown parameters, type mismatches. It is raised
// during AddNode, AddConstant, Rebind, or the validation pass of a run, and
// is not recoverable by retry. The failed mutation leaves the graph
// unchanged.
type ConstructionError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies the node the error concerns, when the code
	// relates to one.
	NodeID int
}

// Error implements the error interface.
func (e *ConstructionError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// NodeError reports a failed process call. It aborts the run that triggered
// it; in batch mode it is recorded in the report and the batch continues
// with the next item. Outputs of nodes that completed before the failure
// stay cached, so re-running after a transient failure resumes at the
// failing node.
type NodeError struct {
	// NodeID is the graph id of the failing node.
	NodeID int

	// Node is the failing node's name.
	Node string

	// Fingerprint is the cache fingerprint the output would have been
	// stored under.
	Fingerprint string

	// Cause is the underlying error from the processor.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return "node " + strconv.Itoa(e.NodeID) + " (" + e.Node + "): " + e.Cause.Error()
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// ResourceError reports a failed init or release. It propagates like a
// NodeError but is flagged separately so callers can treat resource
// exhaustion differently from a per-item compute failure (see
// WithAbortOnResourceError).
type ResourceError struct {
	// NodeID is the graph id of the node whose resources failed.
	NodeID int

	// Node is the node's name.
	Node string

	// Op is the lifecycle step that failed: "init" or "release".
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ResourceError) Error() string {
	return e.Op + " node " + strconv.Itoa(e.NodeID) + " (" + e.Node + "): " + e.Cause.Error()
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *ResourceError) Unwrap() error {
	return e.Cause
}
