package transcript

import (
	"strings"
	"sync"
	"time"
)

// Expiry is delivered when an armed timer elapses without being replaced.
type Expiry struct {
	Seq       uint64
	Remainder string
}

// Debouncer holds at most one pending timer for the current remainder.
// Reschedule and Cancel may be called from any goroutine; a timer that fires
// while being cancelled either delivers its Expiry or does nothing, never both.
type Debouncer struct {
	onTimeout func(Expiry)

	mu    sync.Mutex
	timer *time.Timer
	seq   uint64
	armed uint64
}

// NewDebouncer creates a Debouncer that calls onTimeout from the timer
// goroutine when an armed timer expires.
func NewDebouncer(onTimeout func(Expiry)) *Debouncer {
	return &Debouncer{onTimeout: onTimeout}
}

// Reschedule cancels the pending timer and, when remainder is not blank, arms
// a new one for delay. It returns the sequence number of the armed timer, or 0
// when nothing was armed.
func (d *Debouncer) Reschedule(remainder string, delay time.Duration) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	if strings.TrimSpace(remainder) == "" {
		return 0
	}

	d.seq++
	seq := d.seq
	d.armed = seq
	d.timer = time.AfterFunc(delay, func() { d.fire(seq, remainder) })
	return seq
}

// Cancel disarms the pending timer, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
}

// Armed reports whether a timer is pending.
func (d *Debouncer) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed != 0
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.armed = 0
}

func (d *Debouncer) fire(seq uint64, remainder string) {
	d.mu.Lock()
	if d.armed != seq {
		d.mu.Unlock()
		return
	}
	d.armed = 0
	d.timer = nil
	d.mu.Unlock()

	d.onTimeout(Expiry{Seq: seq, Remainder: remainder})
}
