package broadcast

import (
	"errors"
	"sync"
)

var (
	// ErrSlowSubscriber is returned when a subscriber's buffer is full.
	ErrSlowSubscriber = errors.New("broadcast: subscriber buffer full")
	// ErrClosed is returned when sending to a closed Outbox.
	ErrClosed = errors.New("broadcast: subscriber closed")
)

// DefaultOutboxSize is the buffer used when NewOutbox gets a non-positive size.
const DefaultOutboxSize = 256

// Outbox is a Subscriber backed by a buffered channel. A transport goroutine
// drains C and writes to the connection.
type Outbox struct {
	id string
	ch chan []byte

	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox holding up to size pending messages.
func NewOutbox(id string, size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{id: id, ch: make(chan []byte, size)}
}

// ID implements Subscriber.
func (o *Outbox) ID() string { return o.id }

// Send implements Subscriber. It never blocks.
func (o *Outbox) Send(msg []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	select {
	case o.ch <- msg:
		return nil
	default:
		return ErrSlowSubscriber
	}
}

// C returns the channel of pending messages. It is closed by Close.
func (o *Outbox) C() <-chan []byte { return o.ch }

// Close stops accepting messages. It is safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}
