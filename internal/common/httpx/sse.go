package httpx

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var sseJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const sseBufferSize = 16 * 1024

// SSEWriter writes named server-sent events. Every event is flushed to the client as
// soon as it is written.
type SSEWriter struct {
	mu      sync.Mutex
	buf     *bufio.Writer
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the event-stream headers and returns a writer. It fails when the
// underlying ResponseWriter cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingNotSupported()
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{
		buf:     bufio.NewWriterSize(w, sseBufferSize),
		w:       w,
		flusher: flusher,
	}, nil
}

// WriteEvent encodes data as JSON and emits it under the given event name.
func (s *SSEWriter) WriteEvent(name string, data any) error {
	payload, err := sseJSON.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.buf, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close flushes anything still buffered.
func (s *SSEWriter) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		return err
	}
	s.flusher.Flush()
	return nil
}
