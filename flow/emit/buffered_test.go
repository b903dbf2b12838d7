package emit

import (
	"fmt"
	"sync"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestBufferedEmitter_History(t *testing.T) {
	emitter := NewBufferedEmitter(16)

	emitter.Emit(Event{RunID: "run-a", Step: 1, NodeID: 1, Msg: "node_start"})
	emitter.Emit(Event{RunID: "run-a", Step: 1, NodeID: 1, Msg: "node_complete"})
	emitter.Emit(Event{RunID: "run-b", Step: 1, NodeID: 2, Msg: "node_start"})

	t.Run("filters by run id", func(t *testing.T) {
		events := emitter.History("run-a")
		if len(events) != 2 {
			t.Fatalf("expected 2 events for run-a, got %d", len(events))
		}
		if events[0].Msg != "node_start" || events[1].Msg != "node_complete" {
			t.Errorf("events out of order: %v, %v", events[0].Msg, events[1].Msg)
		}
	})

	t.Run("unknown run is empty, not nil", func(t *testing.T) {
		events := emitter.History("run-x")
		if events == nil {
			t.Error("expected empty slice, got nil")
		}
		if len(events) != 0 {
			t.Errorf("expected 0 events, got %d", len(events))
		}
	})

	t.Run("history returns a copy", func(t *testing.T) {
		events := emitter.History("run-a")
		events[0].Msg = "mutated"
		if emitter.History("run-a")[0].Msg != "node_start" {
			t.Error("mutating the returned slice changed the buffer")
		}
	})
}

func TestBufferedEmitter_Filter(t *testing.T) {
	emitter := NewBufferedEmitter(16)
	for step := 1; step <= 4; step++ {
		emitter.Emit(Event{RunID: "r", Step: step, NodeID: step, Msg: "node_start"})
		emitter.Emit(Event{RunID: "r", Step: step, NodeID: step, Msg: "node_complete"})
	}

	t.Run("by msg", func(t *testing.T) {
		events := emitter.HistoryWithFilter("r", HistoryFilter{Msg: "node_start"})
		if len(events) != 4 {
			t.Errorf("expected 4 node_start events, got %d", len(events))
		}
	})

	t.Run("by node id", func(t *testing.T) {
		events := emitter.HistoryWithFilter("r", HistoryFilter{NodeID: intPtr(2)})
		if len(events) != 2 {
			t.Errorf("expected 2 events for node 2, got %d", len(events))
		}
	})

	t.Run("by step range", func(t *testing.T) {
		events := emitter.HistoryWithFilter("r", HistoryFilter{MinStep: intPtr(2), MaxStep: intPtr(3)})
		if len(events) != 4 {
			t.Errorf("expected 4 events in steps 2-3, got %d", len(events))
		}
	})

	t.Run("combined filters", func(t *testing.T) {
		events := emitter.HistoryWithFilter("r", HistoryFilter{Msg: "node_complete", NodeID: intPtr(3)})
		if len(events) != 1 {
			t.Errorf("expected 1 event, got %d", len(events))
		}
	})
}

// TestBufferedEmitter_Bounded verifies the ring drops the oldest events and
// counts them once capacity is reached.
func TestBufferedEmitter_Bounded(t *testing.T) {
	emitter := NewBufferedEmitter(3)
	for i := 1; i <= 5; i++ {
		emitter.Emit(Event{RunID: "r", Step: i, NodeID: i, Msg: "node_start"})
	}

	if emitter.Len() != 3 {
		t.Errorf("Len = %d, want 3", emitter.Len())
	}
	if emitter.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", emitter.Dropped())
	}

	events := emitter.History("r")
	if len(events) != 3 {
		t.Fatalf("expected 3 buffered events, got %d", len(events))
	}
	if events[0].Step != 3 || events[2].Step != 5 {
		t.Errorf("expected steps 3..5 oldest-first, got %d..%d", events[0].Step, events[2].Step)
	}

	emitter.Clear()
	if emitter.Len() != 0 || emitter.Dropped() != 0 {
		t.Errorf("Clear did not reset: len=%d dropped=%d", emitter.Len(), emitter.Dropped())
	}
}

// TestBufferedEmitter_Concurrent verifies concurrent emits do not race or
// lose counts. Run with -race.
func TestBufferedEmitter_Concurrent(t *testing.T) {
	emitter := NewBufferedEmitter(1000)
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				emitter.Emit(Event{RunID: fmt.Sprintf("run-%d", g), Step: i, Msg: "node_start"})
			}
		}(g)
	}
	wg.Wait()

	if emitter.Len() != 1000 {
		t.Errorf("Len = %d, want 1000", emitter.Len())
	}
	if emitter.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", emitter.Dropped())
	}
}
