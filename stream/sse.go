package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/creastat/relay"
)

// Sink receives frames for one open stream.
type Sink interface {
	Send(msg relay.Message) error
	KeepAlive() error
}

// SSEWriter writes Server-Sent Events frames and flushes after each one.
type SSEWriter struct {
	w       *bufio.Writer
	flusher http.Flusher
}

// NewSSEWriter wraps w. It fails if w cannot flush.
func NewSSEWriter(w io.Writer) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	return &SSEWriter{w: bufio.NewWriter(w), flusher: flusher}, nil
}

// Send writes msg as a data frame.
func (s *SSEWriter) Send(msg relay.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.flush()
}

// KeepAlive writes a comment frame that clients ignore.
func (s *SSEWriter) KeepAlive() error {
	if _, err := s.w.WriteString(": keep-alive\n\n"); err != nil {
		return err
	}
	return s.flush()
}

func (s *SSEWriter) flush() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
