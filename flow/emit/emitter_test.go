package emit

import "testing"

// mockEmitter records every event it receives.
type mockEmitter struct {
	events []Event
}

func (m *mockEmitter) Emit(event Event) {
	m.events = append(m.events, event)
}

func TestEmitter_InterfaceContract(t *testing.T) {
	var _ Emitter = (*mockEmitter)(nil)
	var _ Emitter = (*NullEmitter)(nil)
	var _ Emitter = (*LogEmitter)(nil)
	var _ Emitter = (*BufferedEmitter)(nil)
	var _ Emitter = (*OTelEmitter)(nil)
}

func TestEmitter_Emit(t *testing.T) {
	t.Run("records events in order", func(t *testing.T) {
		emitter := &mockEmitter{}

		for step := 1; step <= 3; step++ {
			emitter.Emit(Event{RunID: "run-001", Step: step, NodeID: step, Msg: "node_start"})
		}

		if len(emitter.events) != 3 {
			t.Fatalf("expected 3 events, got %d", len(emitter.events))
		}
		for i, event := range emitter.events {
			if event.Step != i+1 {
				t.Errorf("event %d: Step = %d, want %d", i, event.Step, i+1)
			}
		}
	})

	t.Run("preserves metadata", func(t *testing.T) {
		emitter := &mockEmitter{}

		emitter.Emit(Event{
			RunID:  "run-001",
			NodeID: 2,
			Node:   "Transcriber",
			Msg:    "node_complete",
			Meta: map[string]interface{}{
				"duration_ms": int64(250),
				"cached":      true,
			},
		})

		if len(emitter.events) != 1 {
			t.Fatal("expected 1 event")
		}
		meta := emitter.events[0].Meta
		if meta["duration_ms"] != int64(250) {
			t.Errorf("duration_ms = %v, want 250", meta["duration_ms"])
		}
		if meta["cached"] != true {
			t.Errorf("cached = %v, want true", meta["cached"])
		}
	})

	t.Run("zero value event accepted", func(t *testing.T) {
		emitter := &mockEmitter{}
		emitter.Emit(Event{})
		if len(emitter.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(emitter.events))
		}
	})
}
