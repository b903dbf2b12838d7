package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes structured event lines to a writer.
//
// Two output modes:
//   - Text mode (default): human-readable key=value lines
//   - JSON mode: one JSON object per line (JSONL)
//
// Example text output:
//
//	[node_complete] run=3f1c step=2 node=4(SumInt) loc=out/item-0.json meta={"duration_ms":12}
//
// Example JSON output:
//
//	{"run":"3f1c","location":"out/item-0.json","step":2,"node_id":4,"node":"SumInt","msg":"node_complete","meta":{"duration_ms":12}}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to writer (os.Stdout when
// nil). Set jsonMode for JSONL output.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes one line per event in the configured format.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID    string                 `json:"run"`
		Location string                 `json:"location,omitempty"`
		Step     int                    `json:"step"`
		NodeID   int                    `json:"node_id"`
		Node     string                 `json:"node,omitempty"`
		Msg      string                 `json:"msg"`
		Meta     map[string]interface{} `json:"meta,omitempty"`
	}{
		RunID:    event.RunID,
		Location: event.Location,
		Step:     event.Step,
		NodeID:   event.NodeID,
		Node:     event.Node,
		Msg:      event.Msg,
		Meta:     event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] run=%s", event.Msg, event.RunID)
	if event.Step > 0 {
		fmt.Fprintf(l.writer, " step=%d", event.Step)
	}
	if event.NodeID >= 0 {
		fmt.Fprintf(l.writer, " node=%d(%s)", event.NodeID, event.Node)
	}
	if event.Location != "" {
		fmt.Fprintf(l.writer, " loc=%s", event.Location)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
