package emit

import "sync"

// BufferedEmitter stores events in a bounded in-memory ring.
//
// When the buffer is full the oldest events are dropped and counted, so a
// long batch cannot grow memory without bound. Events can be queried by
// run id with optional filtering, which makes this the emitter of choice
// for tests and post-run analysis.
//
// Example:
//
//	emitter := emit.NewBufferedEmitter(4096)
//	g, _ := flow.New(st, flow.WithEmitter(emitter))
//	// ... run ...
//	hits := emitter.HistoryWithFilter(runID, emit.HistoryFilter{Msg: "node_cache_hit"})
type BufferedEmitter struct {
	mu      sync.RWMutex
	events  []Event
	start   int // ring read position
	count   int
	dropped int
}

// HistoryFilter selects events from a run's history. Zero-value fields do
// not filter; set fields combine with AND.
type HistoryFilter struct {
	// NodeID filters by node id when non-nil.
	NodeID *int

	// Msg filters by event kind when non-empty.
	Msg string

	// MinStep and MaxStep bound the step range when non-nil.
	MinStep *int
	MaxStep *int
}

// NewBufferedEmitter creates a buffer holding up to capacity events.
// Capacity values below one fall back to 1024.
func NewBufferedEmitter(capacity int) *BufferedEmitter {
	if capacity < 1 {
		capacity = 1024
	}
	return &BufferedEmitter{events: make([]Event, capacity)}
}

// Emit appends the event, evicting the oldest one when full.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == len(b.events) {
		b.start = (b.start + 1) % len(b.events)
		b.count--
		b.dropped++
	}
	b.events[(b.start+b.count)%len(b.events)] = event
	b.count++
}

// Dropped reports how many events were evicted since creation or the last
// Clear.
func (b *BufferedEmitter) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Len reports how many events are currently buffered.
func (b *BufferedEmitter) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// History returns the buffered events for a run, oldest first.
func (b *BufferedEmitter) History(runID string) []Event {
	return b.HistoryWithFilter(runID, HistoryFilter{})
}

// HistoryWithFilter returns the run's events matching the filter, oldest
// first. The result is a copy.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for i := 0; i < b.count; i++ {
		ev := b.events[(b.start+i)%len(b.events)]
		if ev.RunID != runID {
			continue
		}
		if !matchesFilter(ev, filter) {
			continue
		}
		result = append(result, ev)
	}
	return result
}

func matchesFilter(ev Event, filter HistoryFilter) bool {
	if filter.NodeID != nil && ev.NodeID != *filter.NodeID {
		return false
	}
	if filter.Msg != "" && ev.Msg != filter.Msg {
		return false
	}
	if filter.MinStep != nil && ev.Step < *filter.MinStep {
		return false
	}
	if filter.MaxStep != nil && ev.Step > *filter.MaxStep {
		return false
	}
	return true
}

// Clear discards all buffered events and resets the drop counter.
func (b *BufferedEmitter) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.start = 0
	b.count = 0
	b.dropped = 0
}
