package translate

import (
	"sync"

	"github.com/lukasbauer/livecaptions/internal/transcript"
)

type job struct {
	unit transcript.Unit
	done chan Output
}

// queue is an unbounded FIFO with a single consumer. Producers never block,
// so a stalled translation holds up only its own language.
type queue struct {
	mu     sync.Mutex
	items  []job
	closed bool
	ready  chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(j job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, j)
	q.mu.Unlock()
	q.signal()
	return true
}

// pop blocks until a job is available. It reports false once the queue is
// closed and empty.
func (q *queue) pop() (job, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			j := q.items[0]
			q.items[0] = job{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return j, true
		}
		if q.closed {
			q.mu.Unlock()
			return job{}, false
		}
		q.mu.Unlock()
		<-q.ready
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
