package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dshills/flow-go/flow/emit"
)

// PrepareFunc readies the graph for one batch item. It must bind the value
// store to the item's persistence location with Graph.Persist (ProcessBatch
// fails with ErrPrepareMustPersist when it does not), and it typically sets
// constant nodes from the item.
type PrepareFunc[T any] func(ctx context.Context, g *Graph, index int, item T) error

// ReleasePolicy decides whether the batch runner releases the graph's
// resources after completing one level (one node swept across every item)
// and before starting the next.
type ReleasePolicy func(completed, next *Node) bool

// ReleaseAfter returns a policy that releases after each of the listed
// nodes, for pipelines that know exactly where their memory cliffs are.
func ReleaseAfter(nodes ...*Node) ReleasePolicy {
	ids := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		if n != nil {
			ids[n.id] = true
		}
	}
	return func(completed, next *Node) bool {
		return ids[completed.id]
	}
}

// releaseBetweenFamilies is the default policy: release when the completed
// level's kind declares a non-empty resource family that differs from the
// next level's. Nodes of the same family stay resident across consecutive
// levels; kinds that declare no family never trigger a release.
func releaseBetweenFamilies(completed, next *Node) bool {
	family := resourceFamily(completed.kind)
	if family == "" {
		return false
	}
	return family != resourceFamily(next.kind)
}

func resourceFamily(kind ProcessorKind) string {
	if owner, ok := kind.(ResourceOwner); ok {
		return owner.ResourceFamily()
	}
	return ""
}

// BatchFailure records one item's failure.
type BatchFailure[T any] struct {
	// Index is the item's position in the input sequence.
	Index int

	// Item is the original item.
	Item T

	// NodeID and Node identify the failing node.
	NodeID int
	Node   string

	// Err is the underlying error: a NodeError or ResourceError from the
	// executor, or a failure of the prepare or after-item hook.
	Err error
}

// BatchReport summarizes a batch run.
type BatchReport[T any] struct {
	// RunID identifies the batch in emitted events.
	RunID string

	// Completed counts items whose every target completed.
	Completed int

	// Failures lists failed items in the order the failures occurred.
	// A cancelled batch reports only the failures seen so far.
	Failures []BatchFailure[T]
}

// BatchOption configures one ProcessBatch call.
type BatchOption func(*batchConfig) error

type batchConfig struct {
	policy               ReleasePolicy
	afterItem            func(ctx context.Context, index int, item any) error
	failFast             bool
	abortOnResourceError bool
}

// WithReleasePolicy replaces the default family-based release policy.
func WithReleasePolicy(policy ReleasePolicy) BatchOption {
	return func(cfg *batchConfig) error {
		if policy == nil {
			return errors.New("WithReleasePolicy: policy cannot be nil")
		}
		cfg.policy = policy
		return nil
	}
}

// WithAfterItem registers a hook invoked after each successfully processed
// (node, item) cell, e.g. to upload or post-process per-item results as the
// sweep advances. A hook failure counts as that item's failure.
func WithAfterItem(fn func(ctx context.Context, index int, item any) error) BatchOption {
	return func(cfg *batchConfig) error {
		if fn == nil {
			return errors.New("WithAfterItem: hook cannot be nil")
		}
		cfg.afterItem = fn
		return nil
	}
}

// WithFailFast aborts the batch at the first item failure instead of
// isolating it. The returned report carries the one failure, and
// ProcessBatch returns its error.
func WithFailFast() BatchOption {
	return func(cfg *batchConfig) error {
		cfg.failFast = true
		return nil
	}
}

// WithAbortOnResourceError aborts the batch when a node's init or release
// fails, instead of recording it as an item failure and continuing. Useful
// when a ResourceError means the hardware is gone and every later item
// would fail the same way.
func WithAbortOnResourceError() BatchOption {
	return func(cfg *batchConfig) error {
		cfg.abortOnResourceError = true
		return nil
	}
}

// ProcessBatch runs the graph for a sequence of items, breadth-first: the
// outer loop walks the topological order of the targets' ancestors, the
// inner loop walks the items. When a node runs for any item, all of its
// ancestors are already cached for every item, so one node at a time needs
// resident resources: each node initializes at most once per batch between
// releases, regardless of the item count.
//
// Before each (node, item) cell the prepare hook rebinds persistence and
// constants for the item; the executor then re-adopts the item's cached
// ancestors and runs the node. A failing item is recorded in the report and
// skipped at later levels; items at other indices are unaffected because
// per-item locations isolate their caches. Between levels the release
// policy decides whether resources are evicted; all resources are released
// when the batch ends, however it ends.
//
// Cancellation is observed between cells. On cancellation the graph's
// resources are released and the partial report returns alongside ctx's
// error.
func ProcessBatch[T any](ctx context.Context, g *Graph, items []T, targets []*Node, prepare PrepareFunc[T], opts ...BatchOption) (BatchReport[T], error) {
	report := BatchReport[T]{RunID: uuid.NewString()}
	if len(targets) == 0 {
		return report, &ConstructionError{
			Message: "at least one target node is required",
			Code:    CodeNoTargets,
		}
	}
	if prepare == nil {
		return report, &ConstructionError{
			Message: "a prepare hook is required",
			Code:    CodeNoTargets,
		}
	}
	cfg := batchConfig{policy: releaseBetweenFamilies}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return report, err
		}
	}

	order, err := g.TopologicalSort(targets...)
	if err != nil {
		return report, err
	}

	g.emitBatch(report.RunID, 0, -1, "", "batch_start", map[string]interface{}{
		"items":  len(items),
		"levels": len(order),
	})

	failed := make([]error, len(items))
	levelsDone := make([]int, len(items))

	fail := func(index int, item T, levelNode *Node, err error) {
		nodeID, nodeName := levelNode.id, levelNode.Name()
		var nerr *NodeError
		var rerr *ResourceError
		switch {
		case errors.As(err, &nerr):
			nodeID, nodeName = nerr.NodeID, nerr.Node
		case errors.As(err, &rerr):
			nodeID, nodeName = rerr.NodeID, rerr.Node
		}
		failed[index] = err
		report.Failures = append(report.Failures, BatchFailure[T]{
			Index:  index,
			Item:   item,
			NodeID: nodeID,
			Node:   nodeName,
			Err:    err,
		})
		g.emitBatch(report.RunID, index+1, nodeID, nodeName, "batch_item_error", map[string]interface{}{
			"index": index,
			"error": err.Error(),
		})
		if g.metrics != nil {
			g.metrics.IncrementBatchItem("failed")
		}
	}

	var abortErr error
	var releaseErrs []error

levels:
	for levelIdx, node := range order {
		for index, item := range items {
			if failed[index] != nil {
				continue
			}
			if err := ctx.Err(); err != nil {
				abortErr = err
				break levels
			}

			before := g.currentPersistCount()
			if err := prepare(ctx, g, index, item); err != nil {
				err = fmt.Errorf("prepare item %d: %w", index, err)
				fail(index, item, node, err)
				if cfg.failFast {
					abortErr = err
					break levels
				}
				continue
			}
			if g.currentPersistCount() == before {
				abortErr = fmt.Errorf("item %d: %w", index, ErrPrepareMustPersist)
				break levels
			}

			if _, err := g.runUpTo(ctx, report.RunID, node); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					abortErr = ctxErr
					break levels
				}
				fail(index, item, node, err)
				var rerr *ResourceError
				if cfg.abortOnResourceError && errors.As(err, &rerr) {
					abortErr = err
					break levels
				}
				if cfg.failFast {
					abortErr = err
					break levels
				}
				continue
			}
			levelsDone[index] = levelIdx + 1

			if cfg.afterItem != nil {
				if err := cfg.afterItem(ctx, index, item); err != nil {
					err = fmt.Errorf("after item %d: %w", index, err)
					fail(index, item, node, err)
					if cfg.failFast {
						abortErr = err
						break levels
					}
				}
			}
		}

		if levelIdx+1 < len(order) && cfg.policy(node, order[levelIdx+1]) {
			g.emitBatch(report.RunID, 0, -1, "", "batch_release", map[string]interface{}{
				"after": node.Name(),
			})
			if err := g.releaseResources(ctx, report.RunID); err != nil {
				if cfg.abortOnResourceError {
					abortErr = err
					break levels
				}
				releaseErrs = append(releaseErrs, err)
			}
		}
	}

	// Resources never outlive the batch, even a cancelled one.
	if err := g.releaseResources(context.WithoutCancel(ctx), report.RunID); err != nil {
		releaseErrs = append(releaseErrs, err)
	}

	for index := range items {
		if failed[index] == nil && levelsDone[index] == len(order) {
			report.Completed++
			if g.metrics != nil {
				g.metrics.IncrementBatchItem("completed")
			}
		}
	}

	g.emitBatch(report.RunID, 0, -1, "", "batch_complete", map[string]interface{}{
		"completed": report.Completed,
		"failed":    len(report.Failures),
	})

	if abortErr != nil {
		return report, abortErr
	}
	return report, errors.Join(releaseErrs...)
}

func (g *Graph) currentPersistCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.persistCount
}

func (g *Graph) emitBatch(runID string, step, nodeID int, node, msg string, meta map[string]interface{}) {
	g.emitter.Emit(emit.Event{
		RunID:    runID,
		Location: g.store.Location(),
		Step:     step,
		NodeID:   nodeID,
		Node:     node,
		Msg:      msg,
		Meta:     meta,
	})
}
