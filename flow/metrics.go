package flow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FlowMetrics provides Prometheus metrics for graph execution, namespaced
// with "flow_":
//
//   - process_latency_ms (histogram; node, status): Process call duration.
//     Use for P50/P95/P99 latency per node kind.
//   - cache_hits_total / cache_misses_total (counter; node): fingerprint
//     lookups served from the store versus executed. The hit ratio is the
//     pipeline's re-run cost.
//   - inits_total / releases_total (counter; node): resource lifecycle
//     churn. In a healthy batch, inits stay flat as items grow.
//   - batch_items_total (counter; status): per-item batch outcomes,
//     status is "completed" or "failed".
//   - store_write_latency_ms (histogram): durability cost per node output.
//
// The node label is the kind name, not the node id, to keep cardinality
// bounded.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewFlowMetrics(registry)
//	g, _ := flow.New(st, flow.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe.
type FlowMetrics struct {
	processLatency *prometheus.HistogramVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	inits          *prometheus.CounterVec
	releases       *prometheus.CounterVec
	batchItems     *prometheus.CounterVec
	storeLatency   prometheus.Histogram

	mu      sync.RWMutex
	enabled bool
}

// NewFlowMetrics creates and registers all graph execution metrics with the
// given registry. A nil registry falls back to the Prometheus default
// registerer.
func NewFlowMetrics(registry prometheus.Registerer) *FlowMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	m := &FlowMetrics{enabled: true}

	m.processLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flow",
		Name:      "process_latency_ms",
		Help:      "Process call duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000, 300000},
	}, []string{"node", "status"})

	m.cacheHits = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flow",
		Name:      "cache_hits_total",
		Help:      "Node evaluations served from the value store or memory",
	}, []string{"node"})

	m.cacheMisses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flow",
		Name:      "cache_misses_total",
		Help:      "Node evaluations that had to execute Process",
	}, []string{"node"})

	m.inits = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flow",
		Name:      "inits_total",
		Help:      "Processor initializations",
	}, []string{"node"})

	m.releases = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flow",
		Name:      "releases_total",
		Help:      "Processor releases",
	}, []string{"node"})

	m.batchItems = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flow",
		Name:      "batch_items_total",
		Help:      "Batch item outcomes",
	}, []string{"status"})

	m.storeLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flow",
		Name:      "store_write_latency_ms",
		Help:      "Value store write duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
	})

	return m
}

// RecordProcessLatency records one Process call's duration. status is
// "success" or "error".
func (m *FlowMetrics) RecordProcessLatency(node string, latency time.Duration, status string) {
	if !m.recording() {
		return
	}
	m.processLatency.WithLabelValues(node, status).Observe(float64(latency.Milliseconds()))
}

// IncrementCacheHit counts an evaluation served from cache.
func (m *FlowMetrics) IncrementCacheHit(node string) {
	if !m.recording() {
		return
	}
	m.cacheHits.WithLabelValues(node).Inc()
}

// IncrementCacheMiss counts an evaluation that executed Process.
func (m *FlowMetrics) IncrementCacheMiss(node string) {
	if !m.recording() {
		return
	}
	m.cacheMisses.WithLabelValues(node).Inc()
}

// IncrementInit counts a processor initialization.
func (m *FlowMetrics) IncrementInit(node string) {
	if !m.recording() {
		return
	}
	m.inits.WithLabelValues(node).Inc()
}

// IncrementRelease counts a processor release.
func (m *FlowMetrics) IncrementRelease(node string) {
	if !m.recording() {
		return
	}
	m.releases.WithLabelValues(node).Inc()
}

// IncrementBatchItem counts one batch item outcome: "completed" or
// "failed".
func (m *FlowMetrics) IncrementBatchItem(status string) {
	if !m.recording() {
		return
	}
	m.batchItems.WithLabelValues(status).Inc()
}

// RecordStoreLatency records one value store write duration.
func (m *FlowMetrics) RecordStoreLatency(latency time.Duration) {
	if !m.recording() {
		return
	}
	m.storeLatency.Observe(float64(latency.Milliseconds()))
}

// Disable temporarily stops metric recording.
func (m *FlowMetrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable resumes metric recording after Disable.
func (m *FlowMetrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

func (m *FlowMetrics) recording() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}
