package flow

import (
	"errors"

	"github.com/dshills/flow-go/flow/emit"
)

// Option is a functional option for configuring a Graph.
type Option func(*graphConfig) error

// graphConfig collects options before they apply to a Graph.
type graphConfig struct {
	emitter emit.Emitter
	metrics *FlowMetrics
}

// WithEmitter routes the graph's observability events to the given emitter.
//
// Default: events are discarded.
//
// Example:
//
//	g, err := flow.New(st, flow.WithEmitter(emit.NewLogEmitter(os.Stderr, false)))
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *graphConfig) error {
		if e == nil {
			return errors.New("WithEmitter: emitter cannot be nil")
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection for the graph: process
// latency, cache hits and misses, init and release counts, batch item
// outcomes, and store write latency.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewFlowMetrics(registry)
//	g, err := flow.New(st, flow.WithMetrics(metrics))
func WithMetrics(m *FlowMetrics) Option {
	return func(cfg *graphConfig) error {
		if m == nil {
			return errors.New("WithMetrics: metrics cannot be nil")
		}
		cfg.metrics = m
		return nil
	}
}

// NodeOption configures one node at AddNode time.
type NodeOption func(*nodeConfig) error

// nodeConfig collects node options before they apply to a Node.
type nodeConfig struct {
	initArgs map[string]any
	override OverrideFunc
}

// WithInitArgs supplies arguments for the kind's Init step: model paths,
// device ids, server endpoints. When the kind implements InitSigner the
// arguments are validated against its InitSignature at AddNode time,
// exactly like process bindings; parameters declared Any pass through
// unchanged so live handles can be injected.
//
// Init arguments configure the processor instance; they are not part of the
// cache fingerprint. A kind whose init arguments change what Process
// computes must reflect that in its Version.
func WithInitArgs(args map[string]any) NodeOption {
	return func(cfg *nodeConfig) error {
		cfg.initArgs = args
		return nil
	}
}

// WithOverride installs a hook that rewrites the node's output wherever it
// is read: as a downstream input and as a run's result. The stored value
// stays the raw process output, so removing the override restores the
// original behavior.
//
// Overrides do not change fingerprints: cached downstream results computed
// before the override was added still match and are reused. Call Forget on
// the downstream nodes to force their re-evaluation. The hook must be pure;
// it can run once per read.
func WithOverride(fn OverrideFunc) NodeOption {
	return func(cfg *nodeConfig) error {
		if fn == nil {
			return errors.New("WithOverride: override cannot be nil")
		}
		cfg.override = fn
		return nil
	}
}
