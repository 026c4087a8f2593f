package stt

import (
	"context"
	"errors"
	"sync"
)

// ErrNoAudio is returned by streams that take transcripts instead of audio.
var ErrNoAudio = errors.New("stt: stream does not accept audio")

// ManualRecognizer opens streams fed by an upstream recognizer that already
// produces text, e.g. a client doing on-device recognition.
type ManualRecognizer struct{}

// Open implements Recognizer.
func (ManualRecognizer) Open(context.Context, SessionConfig) (Stream, error) {
	return NewManualStream(), nil
}

// ManualStream is a Stream whose events are pushed by the caller.
type ManualStream struct {
	events chan Event
	errors chan error

	mu     sync.Mutex
	closed bool
}

// NewManualStream creates an open ManualStream.
func NewManualStream() *ManualStream {
	return &ManualStream{
		events: make(chan Event, 100),
		errors: make(chan error, 1),
	}
}

// Push delivers ev to the reader. It blocks while the buffer is full and
// returns errStreamClosed after Close.
func (s *ManualStream) Push(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail ends the stream with err.
func (s *ManualStream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.errors <- err:
	default:
	}
}

// Write implements Stream.
func (s *ManualStream) Write(context.Context, []byte) error { return ErrNoAudio }

// Events implements Stream.
func (s *ManualStream) Events() <-chan Event { return s.events }

// Errors implements Stream.
func (s *ManualStream) Errors() <-chan error { return s.errors }

// Close implements Stream. Events already pushed stay readable.
func (s *ManualStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
		close(s.errors)
	}
	return nil
}
