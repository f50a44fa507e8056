package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentoven/hearth/pkg/models"
)

// Sink receives the chunks of a reply.
type Sink interface {
	Send(chunk models.StreamChunk) error
	// Done signals normal end of stream.
	Done() error
}

// SSESink writes chunks as server-sent events:
//
//	data: <json>\n\n
//	...
//	data: [DONE]\n\n
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSESink prepares w for event streaming and writes the headers.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by %T", w)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Replies can outlive the server's WriteTimeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	return &SSESink{w: w, flusher: flusher}, nil
}

func (s *SSESink) Send(chunk models.StreamChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *SSESink) Done() error {
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// TextSink writes only the content deltas, for terminals.
type TextSink struct {
	W io.Writer
}

func (s TextSink) Send(chunk models.StreamChunk) error {
	for _, c := range chunk.Choices {
		if c.Delta.Content == "" {
			continue
		}
		if _, err := io.WriteString(s.W, c.Delta.Content); err != nil {
			return err
		}
	}
	return nil
}

func (s TextSink) Done() error {
	_, err := io.WriteString(s.W, "\n")
	return err
}

// WriteFailure emits the generic failure outcome of a turn on sink.
func WriteFailure(sink Sink, id, model string) error {
	if err := sink.Send(models.NewStreamChunk(id, model, FailureMessage)); err != nil {
		return err
	}
	return sink.Done()
}

// FailureMessage is the only detail a client sees of a failed turn.
const FailureMessage = "Sorry, I failed to respond. Please try again."
