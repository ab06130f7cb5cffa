package common

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"

	"routecodex-go/internal/constants"
	"routecodex-go/internal/translator"
)

// PrepareSSE commits the response headers for a text/event-stream reply.
// After this point errors can only be signaled in-band.
func PrepareSSE(c *gin.Context, status int) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(status)
	c.Writer.Flush()
}

var dataPrefix = []byte("data:")

// PumpSSE copies a translated SSE stream to the client, flushing at each
// event boundary so chunks reach the client as they arrive. It returns
// the number of data lines written and a disconnect reason: "complete",
// "client_gone" or "upstream_error". A reader failure mid-stream is
// terminated in-band: an error event in the client's dialect followed by
// that dialect's terminal sentinel, never a silent stop.
func PumpSSE(c *gin.Context, dialect translator.Format, stream io.Reader) (int, string) {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, constants.SSEScannerInitialBufferSize), constants.SSEScannerMaxBufferSize)

	lines := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if _, err := c.Writer.Write(line); err != nil {
			return lines, "client_gone"
		}
		if _, err := c.Writer.Write([]byte("\n")); err != nil {
			return lines, "client_gone"
		}
		if len(line) == 0 {
			// 事件边界，立刻冲给客户端
			c.Writer.Flush()
			continue
		}
		if bytes.HasPrefix(line, dataPrefix) {
			lines++
		}
	}
	c.Writer.Flush()
	if err := scanner.Err(); err != nil {
		writeStreamAbort(c, dialect, err)
		return lines, "upstream_error"
	}
	return lines, "complete"
}

// writeStreamAbort closes a broken stream in the client's dialect. The
// passthrough path (client dialect == upstream dialect) has no transform
// goroutine watching the reader, so this is where its transport failures
// become visible to the client.
func writeStreamAbort(c *gin.Context, dialect translator.Format, err error) {
	msg := "upstream stream aborted: " + err.Error()
	switch dialect {
	case translator.FormatAnthropicMessages:
		writeFrame(c, "error", map[string]interface{}{
			"type": "error",
			"error": map[string]interface{}{
				"type":    "upstream_error",
				"message": msg,
			},
		})
		writeFrame(c, "message_stop", map[string]interface{}{"type": "message_stop"})
	case translator.FormatCodexResponses:
		writeFrame(c, "response.failed", map[string]interface{}{
			"type": "response.failed",
			"response": map[string]interface{}{
				"object": "response",
				"status": "failed",
				"error":  map[string]interface{}{"message": msg},
			},
		})
	default:
		writeFrame(c, "", map[string]interface{}{
			"error": map[string]interface{}{
				"message": msg,
				"type":    "upstream_error",
			},
		})
		c.Writer.Write([]byte("data: [DONE]\n\n"))
	}
	c.Writer.Flush()
}

// writeFrame emits one SSE frame, named when the dialect uses event lines.
func writeFrame(c *gin.Context, event string, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if event != "" {
		c.Writer.Write([]byte("event: " + event + "\n"))
	}
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
}
