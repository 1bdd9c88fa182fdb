package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Event types of the chat stream.
const (
	eventToken = "token"
	eventDone  = "done"
	eventError = "error"
)

type sseEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// sseWriter writes "data: {json}\n\n" frames. The headers go out with the
// first frame.
type sseWriter struct {
	c      *gin.Context
	closed bool
}

func newSSEWriter(c *gin.Context) *sseWriter {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	return &sseWriter{c: c}
}

func (w *sseWriter) Token(content string) error {
	return w.write(sseEvent{Type: eventToken, Content: content})
}

// Done and Error are terminal; later writes are dropped.
func (w *sseWriter) Done() {
	_ = w.write(sseEvent{Type: eventDone})
	w.closed = true
}

func (w *sseWriter) Error(message string) {
	_ = w.write(sseEvent{Type: eventError, Content: message})
	w.closed = true
}

func (w *sseWriter) write(ev sseEvent) error {
	if w.closed {
		return fmt.Errorf("stream already terminated")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w.c.Writer, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	w.c.Writer.Flush()
	return nil
}
