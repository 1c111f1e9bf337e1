package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes one line per event to a writer.
//
// Supports two output modes:
//   - Text mode (default): human-readable, key=value pairs
//   - JSON mode: one JSON object per line (JSONL)
//
// Example text output:
//
//	[step_completed] exec=onboard-7 seq=2 label=provision_laptop meta={"attempt":1,"duration_ms":12}
//
// Example JSON output:
//
//	{"execution_id":"onboard-7","sequence":2,"label":"provision_laptop","msg":"step_completed","meta":{"attempt":1}}
//
// Writes are serialized, so lines from parallel branches never interleave.
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer means os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes event to the configured writer.
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
		ExecutionID string         `json:"execution_id"`
		Sequence    int            `json:"sequence"`
		Label       string         `json:"label,omitempty"`
		Msg         string         `json:"msg"`
		Meta        map[string]any `json:"meta,omitempty"`
	}{
		ExecutionID: event.ExecutionID,
		Sequence:    event.Sequence,
		Label:       event.Label,
		Msg:         event.Msg,
		Meta:        event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":%q}\n", "failed to marshal event: "+err.Error())
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] exec=%s", event.Msg, event.ExecutionID)
	if event.Sequence > 0 {
		fmt.Fprintf(l.writer, " seq=%d label=%s", event.Sequence, event.Label)
	}

	if len(event.Meta) > 0 {
		metaJSON, err := json.Marshal(event.Meta)
		if err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}

	fmt.Fprint(l.writer, "\n")
}
