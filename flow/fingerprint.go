package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dshills/flow-go/flow/value"
)

// fingerprintPrefix tags the hash algorithm so persisted fingerprints stay
// self-describing if the algorithm ever changes.
const fingerprintPrefix = "sha256:"

// nodeFingerprint computes the cache key for a node. refFPs must hold the
// fingerprints of every node referenced by the bindings, which the caller
// guarantees by walking in topological order.
//
// The hash covers the canonical JSON of
//
//	{"inputs": {param: {"lit": value} | {"ref": fingerprint}}, "name": ..., "version": ...}
//
// Canonical rendering sorts mapping keys, so binding order and map-valued
// literal key order never matter, while sequence-valued literals keep their
// element order. References contribute the referent's fingerprint, not its
// value, which yields structural hashing without re-reading large outputs.
func nodeFingerprint(name, version string, bindings map[string]Binding, refFPs map[int]string) (string, error) {
	inputs := make(map[string]any, len(bindings))
	for param, b := range bindings {
		if b.isRef {
			fp, ok := refFPs[b.ref.id]
			if !ok {
				return "", fmt.Errorf("fingerprint %s: no fingerprint for referenced node %d", name, b.ref.id)
			}
			inputs[param] = map[string]any{"ref": fp}
		} else {
			inputs[param] = map[string]any{"lit": b.literal}
		}
	}
	canon, err := value.Canonical(map[string]any{
		"name":    name,
		"version": version,
		"inputs":  inputs,
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", name, err)
	}
	sum := sha256.Sum256(canon)
	return fingerprintPrefix + hex.EncodeToString(sum[:]), nil
}

// Fingerprint returns the target's current cache fingerprint, resolving the
// upstream fingerprint chain. It is what the next run would use for the
// store lookup; no node executes.
func (g *Graph) Fingerprint(target *Node) (string, error) {
	order, err := g.TopologicalSort(target)
	if err != nil {
		return "", err
	}
	fps := make(map[int]string, len(order))
	for _, n := range order {
		fp, err := g.fingerprintNode(n, fps)
		if err != nil {
			return "", err
		}
		fps[n.id] = fp
	}
	return fps[target.id], nil
}

// fingerprintNode computes one node's fingerprint from a snapshot of its
// bindings and the already-computed upstream fingerprints.
func (g *Graph) fingerprintNode(n *Node, fps map[int]string) (string, error) {
	g.mu.RLock()
	bindings := make(map[string]Binding, len(n.bindings))
	for param, b := range n.bindings {
		bindings[param] = b
	}
	g.mu.RUnlock()
	return nodeFingerprint(n.kind.Name(), n.kind.Version(), bindings, fps)
}
