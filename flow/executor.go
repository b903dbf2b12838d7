package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/flow-go/flow/emit"
	"github.com/dshills/flow-go/flow/store"
	"github.com/dshills/flow-go/flow/value"
)

// RunUpTo executes the target and every node it depends on, in topological
// order, and returns the target's output.
//
// For each node the executor resolves the bindings, computes the cache
// fingerprint, and asks the value store for a match. On a hit the stored
// value is adopted without initializing the node; on a miss the node is
// lazily initialized, Process runs, and the output is persisted before the
// node counts as complete. A Process failure aborts the run with a
// NodeError; outputs persisted before the failure are retained, so a re-run
// resumes at the failing node.
//
// Cancellation is observed between nodes; a long Process honors ctx at its
// own discretion.
func (g *Graph) RunUpTo(ctx context.Context, target *Node) (any, error) {
	return g.runUpTo(ctx, uuid.NewString(), target)
}

// runUpTo walks the target's ancestor chain under an existing run id, so
// batch sweeps share one id across their cells.
func (g *Graph) runUpTo(ctx context.Context, runID string, target *Node) (any, error) {
	order, err := g.TopologicalSort(target)
	if err != nil {
		return nil, err
	}
	fps := make(map[int]string, len(order))
	for step, n := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := g.runNode(ctx, runID, step+1, n, fps); err != nil {
			return nil, err
		}
	}
	return g.readOutput(target)
}

// runNode evaluates one node: resolve, fingerprint, lookup, and on a miss
// init-process-store. fps accumulates fingerprints along the walk so
// references resolve to their referent's fingerprint.
func (g *Graph) runNode(ctx context.Context, runID string, step int, n *Node, fps map[int]string) error {
	location := g.store.Location()
	g.emitNode(runID, location, step, n, "node_start", nil)

	fp, err := g.fingerprintNode(n, fps)
	if err != nil {
		return err
	}
	fps[n.id] = fp

	inputs, err := g.resolveInputs(n)
	if err != nil {
		return err
	}

	// The in-memory output short-circuits the store when it was adopted
	// under the same fingerprint at the same location.
	if g.adoptedValid(n, fp, location) {
		g.setLastInputs(n, inputs)
		g.emitNode(runID, location, step, n, "node_cache_hit", map[string]interface{}{
			"fingerprint": fp,
			"source":      "memory",
		})
		if g.metrics != nil {
			g.metrics.IncrementCacheHit(n.Name())
		}
		return nil
	}

	cached, hit, err := g.store.Lookup(ctx, n.id, fp)
	if err != nil {
		return fmt.Errorf("lookup node %d: %w", n.id, err)
	}
	if hit {
		adopted, err := g.decodeOutput(n, fp, cached)
		if err != nil {
			return err
		}
		g.adopt(n, fp, location, adopted, inputs)
		g.emitNode(runID, location, step, n, "node_cache_hit", map[string]interface{}{
			"fingerprint": fp,
			"source":      "store",
		})
		if g.metrics != nil {
			g.metrics.IncrementCacheHit(n.Name())
		}
		return nil
	}
	if g.metrics != nil {
		g.metrics.IncrementCacheMiss(n.Name())
	}

	// Miss: reference-bound inputs get their type check here, the first
	// time their resolved values exist.
	if err := validateInputs(n, fp, inputs); err != nil {
		return err
	}
	if err := g.initNode(ctx, runID, location, step, n); err != nil {
		return err
	}
	proc := g.liveProcessor(n)

	start := time.Now()
	out, err := proc.Process(ctx, inputs)
	elapsed := time.Since(start)
	if err != nil {
		nerr := &NodeError{NodeID: n.id, Node: n.Name(), Fingerprint: fp, Cause: err}
		g.emitNode(runID, location, step, n, "node_error", map[string]interface{}{
			"error": nerr.Error(),
		})
		if g.metrics != nil {
			g.metrics.RecordProcessLatency(n.Name(), elapsed, "error")
		}
		return nerr
	}
	if g.metrics != nil {
		g.metrics.RecordProcessLatency(n.Name(), elapsed, "success")
	}

	stored, adopted, err := g.encodeOutput(n, fp, out)
	if err != nil {
		return err
	}

	storeStart := time.Now()
	err = g.store.Store(ctx, n.id, store.Record{
		Name:        n.Name(),
		Fingerprint: fp,
		Value:       stored,
		StoredAt:    time.Now(),
		Elapsed:     elapsed,
	})
	if err != nil {
		return fmt.Errorf("store node %d: %w", n.id, err)
	}
	if g.metrics != nil {
		g.metrics.RecordStoreLatency(time.Since(storeStart))
	}

	g.adopt(n, fp, location, adopted, inputs)
	g.emitNode(runID, location, step, n, "node_complete", map[string]interface{}{
		"fingerprint": fp,
		"duration_ms": elapsed.Milliseconds(),
	})
	return nil
}

// resolveInputs materializes n's bindings: literals pass through,
// references resolve to the referent's current output, which the
// topological order guarantees is available.
func (g *Graph) resolveInputs(n *Node) (Inputs, error) {
	g.mu.RLock()
	bindings := make(map[string]Binding, len(n.bindings))
	for param, b := range n.bindings {
		bindings[param] = b
	}
	g.mu.RUnlock()

	inputs := make(Inputs, len(bindings))
	for param, b := range bindings {
		if !b.isRef {
			inputs[param] = b.literal
			continue
		}
		v, err := g.readOutput(b.ref)
		if err != nil {
			return nil, fmt.Errorf("node %d: input %q: %w", n.id, param, err)
		}
		inputs[param] = v
	}
	return inputs, nil
}

// readOutput returns n's output as consumers see it: the override hook,
// when configured, rewrites the value on this read path while the stored
// value stays the raw process output.
func (g *Graph) readOutput(n *Node) (any, error) {
	g.mu.RLock()
	if !n.hasOutput {
		g.mu.RUnlock()
		return nil, fmt.Errorf("node %d (%s) has no output", n.id, n.Name())
	}
	out := n.output
	fp := n.outputFP
	override := n.override
	inputs := n.lastInputs
	g.mu.RUnlock()

	if override == nil {
		return out, nil
	}
	v, err := override(out, inputs)
	if err != nil {
		return nil, &NodeError{
			NodeID:      n.id,
			Node:        n.Name(),
			Fingerprint: fp,
			Cause:       fmt.Errorf("override: %w", err),
		}
	}
	return v, nil
}

// validateInputs checks resolved values against the declared signature.
// Literal bindings were validated at construction time; this covers
// reference bindings, whose values exist only now.
func validateInputs(n *Node, fp string, inputs Inputs) error {
	for _, p := range n.kind.Signature() {
		if !value.Matches(inputs[p.Name], p.Type) {
			return &NodeError{
				NodeID:      n.id,
				Node:        n.Name(),
				Fingerprint: fp,
				Cause:       fmt.Errorf("input %q does not match declared type %s", p.Name, p.Type),
			}
		}
	}
	return nil
}

// initNode lazily initializes n's processor. It runs only on a cache miss;
// hits adopt the stored output with the node left uninitialized.
func (g *Graph) initNode(ctx context.Context, runID, location string, step int, n *Node) error {
	g.mu.RLock()
	proc := n.processor
	initArgs := n.initArgs
	g.mu.RUnlock()
	if proc != nil {
		return nil
	}

	g.emitNode(runID, location, step, n, "node_init", nil)
	if g.metrics != nil {
		g.metrics.IncrementInit(n.Name())
	}

	p, err := n.kind.Init(ctx, initArgs)
	if err != nil {
		return &ResourceError{NodeID: n.id, Node: n.Name(), Op: "init", Cause: err}
	}
	if p == nil {
		return &ResourceError{
			NodeID: n.id,
			Node:   n.Name(),
			Op:     "init",
			Cause:  errors.New("kind returned a nil processor"),
		}
	}
	g.mu.Lock()
	n.processor = p
	g.mu.Unlock()
	return nil
}

// encodeOutput converts a fresh process output into its stored form and its
// adopted runtime form. Both paths round-trip through the kind's codec and
// normalization, so a freshly computed output and one reloaded from the
// store are indistinguishable downstream.
func (g *Graph) encodeOutput(n *Node, fp string, out any) (stored, adopted any, err error) {
	v := out
	codec, hasCodec := n.kind.(Codec)
	if hasCodec {
		v, err = codec.Encode(out)
		if err != nil {
			return nil, nil, &NodeError{
				NodeID:      n.id,
				Node:        n.Name(),
				Fingerprint: fp,
				Cause:       fmt.Errorf("encode: %w", err),
			}
		}
	}
	stored, err = value.Normalize(v)
	if err != nil {
		return nil, nil, &NodeError{
			NodeID:      n.id,
			Node:        n.Name(),
			Fingerprint: fp,
			Cause:       fmt.Errorf("output is not storable: %w", err),
		}
	}
	adopted = stored
	if hasCodec {
		adopted, err = g.decodeOutput(n, fp, stored)
		if err != nil {
			return nil, nil, err
		}
	}
	return stored, adopted, nil
}

// decodeOutput converts a stored value into the adopted runtime form.
func (g *Graph) decodeOutput(n *Node, fp string, stored any) (any, error) {
	codec, ok := n.kind.(Codec)
	if !ok {
		return stored, nil
	}
	v, err := codec.Decode(stored)
	if err != nil {
		return nil, &NodeError{
			NodeID:      n.id,
			Node:        n.Name(),
			Fingerprint: fp,
			Cause:       fmt.Errorf("decode: %w", err),
		}
	}
	return v, nil
}

// adoptedValid reports whether n's in-memory output was adopted under the
// same fingerprint at the same store location.
func (g *Graph) adoptedValid(n *Node, fp, location string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return n.hasOutput && n.outputFP == fp && n.outputLoc == location
}

// adopt records out as n's current output.
func (g *Graph) adopt(n *Node, fp, location string, out any, inputs Inputs) {
	g.mu.Lock()
	n.output = out
	n.outputFP = fp
	n.outputLoc = location
	n.hasOutput = true
	n.lastInputs = inputs
	g.mu.Unlock()
}

func (g *Graph) setLastInputs(n *Node, inputs Inputs) {
	g.mu.Lock()
	n.lastInputs = inputs
	g.mu.Unlock()
}

func (g *Graph) liveProcessor(n *Node) Processor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return n.processor
}

func (g *Graph) emitNode(runID, location string, step int, n *Node, msg string, meta map[string]interface{}) {
	g.emitter.Emit(emit.Event{
		RunID:    runID,
		Location: location,
		Step:     step,
		NodeID:   n.id,
		Node:     n.Name(),
		Msg:      msg,
		Meta:     meta,
	})
}
