// Package flow implements a cache-aware workflow engine for offline
// pipelines expressed as a directed acyclic graph of processing nodes.
//
// Flow targets graphs whose nodes are expensive to initialize and expensive
// to run (local LLM servers, GPU models, large media decoders): every node
// output is persisted under a deterministic fingerprint of (name, version,
// resolved inputs), so re-running a graph only executes nodes whose inputs
// actually changed, and crashed runs resume at the node that failed.
//
// A graph is built from constant nodes (per-item values) and processor
// nodes (instances of a ProcessorKind wired to literals or other nodes):
//
//	st := store.NewFileStore()
//	g, _ := flow.New(st)
//
//	c0, _ := g.AddConstant(0, "c0")
//	n1, _ := g.AddNode(1, sumKind{}, map[string]flow.Binding{
//	    "a": flow.Ref(c0),
//	    "b": flow.Literal(200),
//	})
//
//	_ = c0.Set(100)
//	_ = g.Persist(ctx, "out/item-0.json")
//	out, err := g.RunUpTo(ctx, n1)
//
// Execution is serial: within one run, nodes execute in deterministic
// topological order and no two Process calls overlap. Heavy per-node state
// is acquired lazily by Init and discarded by ReleaseResources; cached
// outputs survive release, so a released graph re-runs for free.
//
// ProcessBatch amortizes initialization across many items by sweeping the
// graph breadth-first: one node across the whole batch, then the next, with
// a release policy evicting resources between levels.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/flow-go/flow/emit"
	"github.com/dshills/flow-go/flow/store"
	"github.com/dshills/flow-go/flow/value"
)

// Graph is a DAG of processing nodes plus the value store their outputs
// persist to.
//
// A graph is not meant to be shared across concurrent runs; higher-level
// parallelism runs independent graphs against distinct persistence
// locations. Mutating methods are still mutex-guarded so misuse corrupts
// nothing.
type Graph struct {
	mu sync.RWMutex

	// store persists node outputs per location.
	store store.ValueStore

	// emitter receives observability events.
	emitter emit.Emitter

	// metrics is optional Prometheus instrumentation.
	metrics *FlowMetrics

	// nodes maps node ids to nodes.
	nodes map[int]*Node

	// persistCount increments on every successful Persist; the batch
	// runner uses it to verify that prepare hooks rebind the store.
	persistCount int
}

// New creates an empty graph backed by the given value store.
//
// The store decides durability: store.NewMemoryStore for throwaway runs,
// store.NewFileStore (or the SQLite, Bolt, and MySQL backends) for
// resumable pipelines. File-backed stores must be pointed at a location
// with Persist before the first run.
func New(st store.ValueStore, opts ...Option) (*Graph, error) {
	if st == nil {
		return nil, &ConstructionError{Message: "value store is required", Code: CodeNilStore}
	}
	cfg := graphConfig{emitter: emit.NewNullEmitter()}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &Graph{
		store:   st,
		emitter: cfg.emitter,
		metrics: cfg.metrics,
		nodes:   make(map[int]*Node),
	}, nil
}

// AddConstant adds a constant node holding a directly-set value, initially
// nil. The name appears in persisted entries and events. The id must be
// unique within the graph.
func (g *Graph) AddConstant(id int, name string) (*ConstantNode, error) {
	if name == "" {
		return nil, &ConstructionError{
			Message: "constant node needs a name",
			Code:    CodeInvalidName,
			NodeID:  id,
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[id]; exists {
		return nil, duplicateNodeError(id)
	}
	n := &Node{
		id:       id,
		kind:     constantKind{name: name},
		graph:    g,
		bindings: map[string]Binding{constantParam: {}},
	}
	g.nodes[id] = n
	return &ConstantNode{Node: n}, nil
}

// AddNode adds a processor node. bindings must cover exactly the parameter
// names declared by the kind's Signature; literal values are normalized and
// checked against their declared types immediately, reference values when
// they resolve. Init arguments supplied with WithInitArgs are validated
// against the kind's InitSignature the same way.
//
// Adding a node never creates a cycle (nothing can reference a node before
// it exists); rewiring with Rebind is where cycles are rejected. On any
// validation failure the graph is unchanged.
func (g *Graph) AddNode(id int, kind ProcessorKind, bindings map[string]Binding, opts ...NodeOption) (*Node, error) {
	if kind == nil {
		return nil, &ConstructionError{
			Message: "processor kind is required",
			Code:    CodeNilKind,
			NodeID:  id,
		}
	}
	var cfg nodeConfig
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[id]; exists {
		return nil, duplicateNodeError(id)
	}

	validated, err := g.validateBindingsLocked(id, kind, bindings)
	if err != nil {
		return nil, err
	}
	initArgs, err := g.validateInitArgsLocked(id, kind, cfg.initArgs)
	if err != nil {
		return nil, err
	}

	n := &Node{
		id:       id,
		kind:     kind,
		graph:    g,
		bindings: validated,
		initArgs: initArgs,
		override: cfg.override,
	}
	g.nodes[id] = n
	return n, nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id int) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Persist binds the value store to a persistence location: one document per
// batch item, holding that item's node outputs. Switching locations is
// cheap and never flushes documents written earlier.
func (g *Graph) Persist(ctx context.Context, location string) error {
	if err := g.store.Bind(ctx, location); err != nil {
		return fmt.Errorf("persist to %q: %w", location, err)
	}
	g.mu.Lock()
	g.persistCount++
	g.mu.Unlock()
	return nil
}

// ReleaseResources releases every initialized node: processors implementing
// Releaser get their Release called, all processor references and adopted
// outputs are dropped. The graph remains usable; persisted entries are
// untouched, so the next run re-adopts cached outputs without
// re-initializing anything.
//
// Release failures do not stop the sweep; the returned error joins every
// per-node ResourceError. ReleaseResources is idempotent.
func (g *Graph) ReleaseResources(ctx context.Context) error {
	return g.releaseResources(ctx, "")
}

func (g *Graph) releaseResources(ctx context.Context, runID string) error {
	g.mu.RLock()
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	g.mu.RUnlock()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].id < nodes[j].id })

	var errs []error
	for _, n := range nodes {
		if err := g.releaseNode(ctx, n, runID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// releaseNode drops n's processor and adopted output. The reference is
// dropped even when the processor's Release fails, so a failed release
// never leaves the node half-live.
func (g *Graph) releaseNode(ctx context.Context, n *Node, runID string) error {
	g.mu.Lock()
	proc := n.processor
	n.processor = nil
	n.clearOutputLocked()
	g.mu.Unlock()
	if proc == nil {
		return nil
	}

	g.emitter.Emit(emit.Event{
		RunID:    runID,
		Location: g.store.Location(),
		NodeID:   n.id,
		Node:     n.Name(),
		Msg:      "node_release",
	})
	if g.metrics != nil {
		g.metrics.IncrementRelease(n.Name())
	}

	r, ok := proc.(Releaser)
	if !ok {
		return nil
	}
	if err := r.Release(ctx); err != nil {
		return &ResourceError{NodeID: n.id, Node: n.Name(), Op: "release", Cause: err}
	}
	return nil
}

// Reset drops every node's adopted in-memory output. Processors stay live
// and persisted documents are untouched; the next run re-adopts from the
// store.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		n.clearOutputLocked()
	}
}

// TopologicalSort returns the given targets and all of their ancestors in
// dependency order: every node appears exactly once, after all nodes it
// references. Ties break by ascending node id, so the order is
// deterministic. Without targets it orders the whole graph.
func (g *Graph) TopologicalSort(targets ...*Node) ([]*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.topologicalSortLocked(targets)
}

func (g *Graph) topologicalSortLocked(targets []*Node) ([]*Node, error) {
	roots := make([]*Node, 0, len(targets))
	if len(targets) == 0 {
		for _, n := range g.nodes {
			roots = append(roots, n)
		}
	} else {
		for _, t := range targets {
			if t == nil || t.graph != g {
				return nil, &ConstructionError{
					Message: "target is not part of this graph",
					Code:    CodeUnknownNode,
				}
			}
			roots = append(roots, t)
		}
	}

	// Ancestor closure of the targets.
	closure := make(map[int]*Node)
	var collect func(n *Node)
	collect = func(n *Node) {
		if _, seen := closure[n.id]; seen {
			return
		}
		closure[n.id] = n
		for _, b := range n.bindings {
			if b.isRef {
				collect(b.ref)
			}
		}
	}
	for _, r := range roots {
		collect(r)
	}

	// Kahn's algorithm over the closure, frontier kept in ascending id
	// order for the deterministic tie-break.
	indegree := make(map[int]int, len(closure))
	dependents := make(map[int][]int, len(closure))
	for id, n := range closure {
		deps := make(map[int]bool)
		for _, b := range n.bindings {
			if b.isRef && !deps[b.ref.id] {
				deps[b.ref.id] = true
				dependents[b.ref.id] = append(dependents[b.ref.id], id)
			}
		}
		indegree[id] = len(deps)
	}
	frontier := make([]int, 0, len(closure))
	for id, d := range indegree {
		if d == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Ints(frontier)

	order := make([]*Node, 0, len(closure))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, closure[id])
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				frontier = insertSorted(frontier, dep)
			}
		}
	}
	if len(order) != len(closure) {
		// Unreachable as long as construction rejects cycles.
		return nil, &ConstructionError{Message: "graph contains a cycle", Code: CodeCycle}
	}
	return order, nil
}

// insertSorted inserts id into an ascending id slice, keeping it sorted.
func insertSorted(ids []int, id int) []int {
	i := sort.SearchInts(ids, id)
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

// rebind validates and applies a new binding for one parameter of n. The
// binding is checked exactly like at AddNode time, plus the cycle check for
// references; on failure the graph is unchanged.
func (g *Graph) rebind(n *Node, param string, b Binding) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := n.kind.Signature().Param(param)
	if !ok {
		return unknownParamError(n.id, n.kind.Name(), param)
	}
	if b.isRef {
		if b.ref == nil || b.ref.graph != g {
			return &ConstructionError{
				Message: fmt.Sprintf("node %d: binding %q references a node outside this graph", n.id, param),
				Code:    CodeUnknownNode,
				NodeID:  n.id,
			}
		}
		if n == b.ref || g.reachableLocked(b.ref, n, make(map[int]bool)) {
			return &ConstructionError{
				Message: fmt.Sprintf("binding %q of node %d to node %d would create a cycle", param, n.id, b.ref.id),
				Code:    CodeCycle,
				NodeID:  n.id,
			}
		}
		n.bindings[param] = b
		return nil
	}

	norm, err := normalizeLiteral(n.id, param, p.Type, b.literal)
	if err != nil {
		return err
	}
	n.bindings[param] = Binding{literal: norm}
	return nil
}

// reachableLocked reports whether target is reachable from start following
// reference bindings. Callers hold g.mu.
func (g *Graph) reachableLocked(start, target *Node, seen map[int]bool) bool {
	if start == target {
		return true
	}
	if seen[start.id] {
		return false
	}
	seen[start.id] = true
	for _, b := range start.bindings {
		if b.isRef && g.reachableLocked(b.ref, target, seen) {
			return true
		}
	}
	return false
}

// validateBindingsLocked checks bindings against the kind's signature and
// returns the validated map with literals normalized. Callers hold g.mu.
func (g *Graph) validateBindingsLocked(id int, kind ProcessorKind, bindings map[string]Binding) (map[string]Binding, error) {
	sig := kind.Signature()
	for param := range bindings {
		if _, ok := sig.Param(param); !ok {
			return nil, unknownParamError(id, kind.Name(), param)
		}
	}
	validated := make(map[string]Binding, len(sig))
	for _, p := range sig {
		b, bound := bindings[p.Name]
		if !bound {
			return nil, &ConstructionError{
				Message: fmt.Sprintf("node %d: parameter %q of %s has no binding", id, p.Name, kind.Name()),
				Code:    CodeMissingParam,
				NodeID:  id,
			}
		}
		if b.isRef {
			if b.ref == nil || b.ref.graph != g {
				return nil, &ConstructionError{
					Message: fmt.Sprintf("node %d: binding %q references a node outside this graph", id, p.Name),
					Code:    CodeUnknownNode,
					NodeID:  id,
				}
			}
			validated[p.Name] = b
			continue
		}
		norm, err := normalizeLiteral(id, p.Name, p.Type, b.literal)
		if err != nil {
			return nil, err
		}
		validated[p.Name] = Binding{literal: norm}
	}
	return validated, nil
}

// validateInitArgsLocked checks init arguments against the kind's
// InitSignature. Kinds without one accept no arguments. Arguments declared
// Any pass through unchanged so non-storable handles can be injected;
// everything else is normalized and type-checked. Callers hold g.mu.
func (g *Graph) validateInitArgsLocked(id int, kind ProcessorKind, args map[string]any) (Inputs, error) {
	signer, ok := kind.(InitSigner)
	if !ok {
		if len(args) > 0 {
			return nil, &ConstructionError{
				Message: fmt.Sprintf("node %d: kind %s declares no init parameters", id, kind.Name()),
				Code:    CodeUnknownParam,
				NodeID:  id,
			}
		}
		return nil, nil
	}
	sig := signer.InitSignature()
	for name := range args {
		if _, ok := sig.Param(name); !ok {
			return nil, unknownParamError(id, kind.Name(), name)
		}
	}
	validated := make(Inputs, len(sig))
	for _, p := range sig {
		v, given := args[p.Name]
		if !given {
			return nil, &ConstructionError{
				Message: fmt.Sprintf("node %d: init parameter %q of %s has no argument", id, p.Name, kind.Name()),
				Code:    CodeMissingParam,
				NodeID:  id,
			}
		}
		if p.Type.Kind() == value.KindAny {
			validated[p.Name] = v
			continue
		}
		norm, err := normalizeLiteral(id, p.Name, p.Type, v)
		if err != nil {
			return nil, err
		}
		validated[p.Name] = norm
	}
	return validated, nil
}

// normalizeLiteral normalizes a literal value and checks it against the
// declared type.
func normalizeLiteral(id int, param string, t value.Type, v any) (any, error) {
	norm, err := value.Normalize(v)
	if err != nil {
		return nil, &ConstructionError{
			Message: fmt.Sprintf("node %d: literal for %q is not storable: %v", id, param, err),
			Code:    CodeTypeMismatch,
			NodeID:  id,
		}
	}
	if !value.Matches(norm, t) {
		return nil, &ConstructionError{
			Message: fmt.Sprintf("node %d: literal for %q does not match declared type %s", id, param, t),
			Code:    CodeTypeMismatch,
			NodeID:  id,
		}
	}
	return norm, nil
}

func duplicateNodeError(id int) *ConstructionError {
	return &ConstructionError{
		Message: fmt.Sprintf("node id %d is already in use", id),
		Code:    CodeDuplicateNode,
		NodeID:  id,
	}
}

func unknownParamError(id int, kind, param string) *ConstructionError {
	return &ConstructionError{
		Message: fmt.Sprintf("node %d: parameter %q is not declared by %s", id, param, kind),
		Code:    CodeUnknownParam,
		NodeID:  id,
	}
}
