package streamapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// maxFrameSize bounds a single SSE line.
const maxFrameSize = 1 << 20

// SSEWriter writes Server-Sent Events to an http.ResponseWriter.
// Call Init once before writing any events to set the required headers.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSEWriter wrapping the given ResponseWriter.
// The ResponseWriter must implement http.Flusher for streaming to work;
// if it does not, writes will still succeed but may be buffered.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: f}
}

// Init sets the SSE response headers and flushes them to the client.
func (sw *SSEWriter) Init() {
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	sw.w.WriteHeader(http.StatusOK)
	sw.flush()
}

// WriteEvent writes ev as one frame:
//
//	id: <seq>
//	event: <kind>
//	data: <json>
func (sw *SSEWriter) WriteEvent(ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sse: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(sw.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data); err != nil {
		return fmt.Errorf("sse: write event: %w", err)
	}
	sw.flush()
	return nil
}

// Comment writes a comment line, used as a keep-alive.
func (sw *SSEWriter) Comment(text string) error {
	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("sse: write comment: %w", err)
	}
	sw.flush()
	return nil
}

func (sw *SSEWriter) flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

// Frame is one parsed SSE event.
type Frame struct {
	ID    string
	Event string
	Data  string
}

// Seq returns the frame id as a sequence number, or 0 when absent.
func (f Frame) Seq() uint64 {
	n, _ := strconv.ParseUint(f.ID, 10, 64)
	return n
}

// ReadFrames parses SSE frames from r and calls fn for each until r is
// exhausted or fn returns an error.
//
// SSE format rules applied:
//   - Lines starting with ":" are comments and are ignored.
//   - An empty line dispatches the frame.
//   - Multiple "data:" lines are joined with newlines.
//   - A single space after the colon is stripped.
func ReadFrames(r io.Reader, fn func(Frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var (
		cur  Frame
		data strings.Builder
		seen bool
	)
	dispatch := func() error {
		if !seen {
			return nil
		}
		cur.Data = data.String()
		err := fn(cur)
		cur, seen = Frame{}, false
		data.Reset()
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := dispatch(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			cur.ID = value
			seen = true
		case "event":
			cur.Event = value
			seen = true
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			seen = true
		default:
			// Unknown field; ignored.
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("sse: read: %w", err)
	}
	return dispatch()
}
