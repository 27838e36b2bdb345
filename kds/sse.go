package kds

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-contrib/sse"
	"github.com/google/uuid"
)

var ErrSubscriberClosed = errors.New("kds: subscriber closed")

type flushWriter interface {
	io.Writer
	http.Flusher
}

// SSESubscriber writes server-sent events to one HTTP response.
type SSESubscriber struct {
	id     string
	mu     sync.Mutex
	w      flushWriter
	closed bool
	done   chan struct{}
}

func NewSSESubscriber(w flushWriter) *SSESubscriber {
	return &SSESubscriber{
		id:   uuid.NewString(),
		w:    w,
		done: make(chan struct{}),
	}
}

// SetStreamHeaders prepares a response for event streaming.
func SetStreamHeaders(h http.Header) {
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func (s *SSESubscriber) ID() string { return s.id }

// Done is closed once the subscriber has been closed.
func (s *SSESubscriber) Done() <-chan struct{} { return s.done }

func (s *SSESubscriber) WriteEvent(event string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	if err := sse.Encode(s.w, sse.Event{Event: event, Data: string(data)}); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func (s *SSESubscriber) WriteComment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func (s *SSESubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
