package translator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"routecodex-go/internal/constants"
)

// sseEvent is one server-sent event as read from an upstream stream.
type sseEvent struct {
	name string // contents of the "event:" line, "" when absent
	data []byte // contents of the "data:" line(s), joined by \n
}

func (e sseEvent) done() bool {
	return bytes.Equal(e.data, []byte("[DONE]"))
}

// sseEventScanner yields complete SSE events (multi-line aware) from a
// raw byte stream.
type sseEventScanner struct {
	scanner *bufio.Scanner
	err     error
}

func newSSEEventScanner(r io.Reader) *sseEventScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, constants.SSEScannerInitialBufferSize), constants.SSEScannerMaxBufferSize)
	return &sseEventScanner{scanner: sc}
}

// next returns the following event, or ok=false at EOF/error.
func (s *sseEventScanner) next() (sseEvent, bool) {
	var ev sseEvent
	var dataLines [][]byte
	seen := false
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			if seen {
				ev.data = bytes.Join(dataLines, []byte("\n"))
				return ev, true
			}
			continue
		}
		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			ev.name = string(bytes.TrimSpace(line[len("event:"):]))
			seen = true
		case bytes.HasPrefix(line, []byte("data:")):
			dataLines = append(dataLines, append([]byte(nil), bytes.TrimSpace(line[len("data:"):])...))
			seen = true
		case bytes.HasPrefix(line, []byte(":")):
			// comment/heartbeat, ignore
		default:
			// Tolerate bare JSON lines from non-conforming upstreams.
			dataLines = append(dataLines, append([]byte(nil), bytes.TrimSpace(line)...))
			seen = true
		}
	}
	if seen {
		ev.data = bytes.Join(dataLines, []byte("\n"))
		return ev, true
	}
	s.err = s.scanner.Err()
	return sseEvent{}, false
}

// failed reports the reader error that ended the stream, nil on clean EOF.
func (s *sseEventScanner) failed() error { return s.err }

// abortChunk is the OpenAI-style in-band payload for a stream that died
// before its terminal sentinel. Emitting it keeps a transport failure
// from reading as a clean completion.
func abortChunk(err error) []byte {
	data, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"message": "upstream stream aborted: " + err.Error(),
			"type":    "upstream_error",
		},
	})
	return data
}

// sseWriter emits SSE events on the pipe feeding the translated stream.
type sseWriter struct {
	w io.Writer
}

// writeData emits an unnamed "data:" event (OpenAI style).
func (w sseWriter) writeData(data []byte) {
	w.w.Write([]byte("data: "))
	w.w.Write(data)
	w.w.Write([]byte("\n\n"))
}

// writeEvent emits a named event (Anthropic / Codex style).
func (w sseWriter) writeEvent(name string, data []byte) {
	w.w.Write([]byte("event: "))
	w.w.Write([]byte(name))
	w.w.Write([]byte("\n"))
	w.writeData(data)
}

// writeDone emits the OpenAI terminal sentinel.
func (w sseWriter) writeDone() {
	w.w.Write([]byte("data: [DONE]\n\n"))
}
