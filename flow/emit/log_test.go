package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitter_TextOutput(t *testing.T) {
	t.Run("emits event with all fields", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{
			RunID:    "run-001",
			Location: "out/item-0.json",
			Step:     2,
			NodeID:   4,
			Node:     "SumInt",
			Msg:      "node_complete",
			Meta:     map[string]interface{}{"duration_ms": 12},
		})

		output := buf.String()
		for _, want := range []string{"node_complete", "run-001", "node=4(SumInt)", "out/item-0.json", "duration_ms"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q, got: %s", want, output)
			}
		}
	})

	t.Run("run-level event omits node", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{RunID: "run-001", NodeID: -1, Msg: "batch_complete"})

		output := buf.String()
		if strings.Contains(output, "node=") {
			t.Errorf("expected no node field for run-level event, got: %s", output)
		}
		if strings.Contains(output, "step=") {
			t.Errorf("expected no step field for run-level event, got: %s", output)
		}
	})

	t.Run("one line per event", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{RunID: "r", NodeID: 1, Msg: "node_start"})
		emitter.Emit(Event{RunID: "r", NodeID: 1, Msg: "node_complete"})

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 {
			t.Errorf("expected 2 lines, got %d: %q", len(lines), buf.String())
		}
	})
}

func TestLogEmitter_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{
		RunID:    "run-json",
		Location: "loc",
		Step:     1,
		NodeID:   3,
		Node:     "Captioner",
		Msg:      "node_cache_hit",
		Meta:     map[string]interface{}{"fingerprint": "sha256:abc"},
	})

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	if decoded["msg"] != "node_cache_hit" {
		t.Errorf("msg = %v, want node_cache_hit", decoded["msg"])
	}
	if decoded["node_id"] != float64(3) {
		t.Errorf("node_id = %v, want 3", decoded["node_id"])
	}
	meta, ok := decoded["meta"].(map[string]any)
	if !ok || meta["fingerprint"] != "sha256:abc" {
		t.Errorf("meta = %v, want fingerprint sha256:abc", decoded["meta"])
	}
}

func TestLogEmitter_NilWriterDefaultsToStdout(t *testing.T) {
	emitter := NewLogEmitter(nil, false)
	if emitter.writer == nil {
		t.Error("expected non-nil writer")
	}
}
