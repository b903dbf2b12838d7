package flow

import (
	"context"
	"fmt"
)

// ProcessorKind is the declarative template a node is instantiated from:
// a name, a version, a typed input signature, and an init step producing
// the processor that does the work.
//
// Version must be bumped whenever the computation's meaning changes; it
// participates in the cache fingerprint, so a bump invalidates previously
// stored outputs without touching them.
//
// Kinds may additionally implement:
//   - InitSigner, when Init takes arguments
//   - Codec, when outputs need custom encoding for storage
//   - ResourceOwner, to classify the kind for batch release policies
type ProcessorKind interface {
	// Name identifies the kind; it participates in the fingerprint and
	// appears in persisted entries and events.
	Name() string

	// Version is the computation's version string.
	Version() string

	// Signature declares the named, typed inputs of Process.
	Signature() Signature

	// Init builds the processor. It runs lazily: only when the executor
	// is about to call Process and no cached output satisfies the current
	// fingerprint. It may acquire heavy resources (models, GPU contexts,
	// subprocess servers). args are the node's init arguments (see
	// WithInitArgs), validated against InitSignature when declared.
	Init(ctx context.Context, args Inputs) (Processor, error)
}

// Processor computes one node's output from resolved inputs.
//
// Process must be pure with respect to its declared inputs: the same inputs
// must produce an equivalent output (equivalence at the normalized-value
// level). It must not partially mutate durable state on failure.
//
// Processors holding external resources should also implement Releaser.
type Processor interface {
	Process(ctx context.Context, inputs Inputs) (any, error)
}

// Releaser is implemented by processors that hold heavy resources. Release
// must be idempotent and safe to call at any point after Init.
type Releaser interface {
	Release(ctx context.Context) error
}

// InitSigner is implemented by processor kinds whose Init step takes
// arguments. The declared signature is validated at AddNode time against
// the arguments supplied with WithInitArgs, exactly like process bindings.
type InitSigner interface {
	InitSignature() Signature
}

// Codec is implemented by processor kinds whose outputs are not naturally
// storable. Encode converts a process output into a normalizable value
// before persistence; Decode reverses it when an output is adopted, whether
// freshly computed or reloaded from the store. The engine never fabricates
// representations: a kind that returns unstorable values and declares no
// Codec fails the run.
type Codec interface {
	Encode(v any) (any, error)
	Decode(v any) (any, error)
}

// ResourceOwner is implemented by processor kinds that want the batch
// runner's default release policy to group them. Nodes whose kinds share a
// resource family stay resident across consecutive batch levels; a family
// change releases the graph's resources before the next level starts. An
// empty family never triggers a release.
type ResourceOwner interface {
	ResourceFamily() string
}

// OverrideFunc rewrites a node's output on the read path: whenever the
// output is resolved as a downstream input or returned as a run's result.
// The stored value stays the raw process output. original is the adopted
// output; inputs are the node's resolved inputs from the current run.
type OverrideFunc func(original any, inputs Inputs) (any, error)

// NodeRef is any node handle accepted by Ref: *Node or *ConstantNode.
type NodeRef interface {
	flowNode() *Node
}

// Binding connects one declared parameter of a node to either a literal
// value or another node's output. The zero Binding is Literal(nil).
type Binding struct {
	ref     *Node
	literal any
	isRef   bool
}

// Literal binds a parameter to a fixed value. The value is normalized and
// checked against the parameter's declared type when the binding is added.
func Literal(v any) Binding {
	return Binding{literal: v}
}

// Ref binds a parameter to another node's output. At execution time the
// reference resolves to the referent's current output, and the referent's
// fingerprint (not its value) enters the dependent's fingerprint.
func Ref(n NodeRef) Binding {
	if n == nil {
		return Binding{isRef: true}
	}
	return Binding{ref: n.flowNode(), isRef: true}
}

// IsRef reports whether the binding references another node.
func (b Binding) IsRef() bool { return b.isRef }

// Node is one vertex of a Graph: a processor kind plus the bindings that
// feed it. Nodes are created by Graph.AddNode or Graph.AddConstant and live
// for the lifetime of the graph.
//
// A node is in one of three lifecycle phases: uninitialized, initialized
// (processor live, possibly holding heavy resources), and released
// (processor discarded; may be re-initialized later). The executor moves
// nodes between phases; Release and Graph.ReleaseResources discard state
// explicitly.
type Node struct {
	id    int
	kind  ProcessorKind
	graph *Graph

	// All fields below are guarded by graph.mu.

	bindings map[string]Binding
	initArgs Inputs
	override OverrideFunc

	// processor is the live instance, nil while uninitialized or after
	// release.
	processor Processor

	// output is the adopted output of the most recent run, valid only for
	// the fingerprint and store location it was adopted under.
	output    any
	outputFP  string
	outputLoc string
	hasOutput bool

	// lastInputs are the resolved inputs from the most recent run, kept
	// for the override hook.
	lastInputs Inputs
}

func (n *Node) flowNode() *Node { return n }

// ID returns the node's graph id.
func (n *Node) ID() int { return n.id }

// Name returns the node's human-readable name, derived from its kind.
func (n *Node) Name() string { return n.kind.Name() }

// Kind returns the processor kind the node was built from.
func (n *Node) Kind() ProcessorKind { return n.kind }

// Set rebinds the named parameter to a literal value. The value is
// validated against the parameter's declared type; on failure the binding
// is unchanged.
//
// Setting a value changes the node's fingerprint and therefore logically
// invalidates the cached outputs of the node and all its descendants; no
// stored entries are touched.
func (n *Node) Set(param string, v any) error {
	return n.graph.rebind(n, param, Literal(v))
}

// Rebind replaces the named parameter's binding. Reference bindings are
// checked against the graph's acyclicity; a binding that would introduce a
// cycle fails with a ConstructionError and leaves the graph unchanged.
func (n *Node) Rebind(param string, b Binding) error {
	return n.graph.rebind(n, param, b)
}

// Output returns the node's adopted output from the most recent run and
// whether one is present. The value is the raw adopted output; override
// hooks apply only on the executor's read path.
func (n *Node) Output() (any, bool) {
	n.graph.mu.RLock()
	defer n.graph.mu.RUnlock()
	if !n.hasOutput {
		return nil, false
	}
	return n.output, true
}

// Initialized reports whether the node's processor is live.
func (n *Node) Initialized() bool {
	n.graph.mu.RLock()
	defer n.graph.mu.RUnlock()
	return n.processor != nil
}

// Release discards the node's processor and adopted output. Cached entries
// in the value store are untouched, so a later run re-adopts them without
// re-initializing. Releasing an uninitialized node is a no-op.
func (n *Node) Release(ctx context.Context) error {
	return n.graph.releaseNode(ctx, n, "")
}

// Reset drops the node's adopted in-memory output. The processor stays
// live and persisted entries are untouched; the next run re-adopts from the
// store.
func (n *Node) Reset() {
	n.graph.mu.Lock()
	defer n.graph.mu.Unlock()
	n.clearOutputLocked()
}

// Forget removes the node's entry from the bound store location and drops
// the adopted output. This is the explicit cache invalidation: the next run
// re-executes the node even though its fingerprint is unchanged.
func (n *Node) Forget(ctx context.Context) error {
	if err := n.graph.store.Forget(ctx, n.id); err != nil {
		return fmt.Errorf("forget node %d: %w", n.id, err)
	}
	n.Reset()
	return nil
}

// binding returns the current binding for param.
func (n *Node) binding(param string) (Binding, bool) {
	n.graph.mu.RLock()
	defer n.graph.mu.RUnlock()
	b, ok := n.bindings[param]
	return b, ok
}

// clearOutputLocked drops the adopted output. Callers hold graph.mu.
func (n *Node) clearOutputLocked() {
	n.output = nil
	n.outputFP = ""
	n.outputLoc = ""
	n.hasOutput = false
	n.lastInputs = nil
}

// constantParam is the single input parameter of a constant node.
const constantParam = "value"

// ConstantNode is a node holding a directly-set value. Its process is
// identity over the stored value, so the value itself is what descends the
// fingerprint chain: setting a new value transitively invalidates every
// descendant's cache through the fingerprint check alone.
//
// Constant nodes are the mechanism for driving different items through the
// same graph: a batch prepare hook sets them from the current item.
type ConstantNode struct {
	*Node
}

// Set replaces the constant's value.
func (c *ConstantNode) Set(v any) error {
	return c.Node.Set(constantParam, v)
}

// Value returns the currently bound value.
func (c *ConstantNode) Value() any {
	b, _ := c.binding(constantParam)
	return b.literal
}

// constantKind backs ConstantNode: a versionless identity over the single
// "value" input.
type constantKind struct {
	name string
}

func (k constantKind) Name() string    { return k.name }
func (k constantKind) Version() string { return "" }

func (k constantKind) Signature() Signature {
	return Signature{{Name: constantParam}}
}

func (k constantKind) Init(ctx context.Context, args Inputs) (Processor, error) {
	return constantProcessor{}, nil
}

type constantProcessor struct{}

func (constantProcessor) Process(ctx context.Context, inputs Inputs) (any, error) {
	return inputs[constantParam], nil
}
