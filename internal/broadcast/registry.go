// Package broadcast fans transcript and translation events out to display
// subscribers.
package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType distinguishes source transcripts from translations.
type EventType string

const (
	EventTranscription EventType = "transcription"
	EventTranslation   EventType = "translation"
)

// Event is the wire message sent to every subscriber.
type Event struct {
	Type     EventType `json:"type"`
	Language string    `json:"language"`
	Text     string    `json:"text"`
	// Timestamp is seconds since the Unix epoch.
	Timestamp float64 `json:"timestamp"`
}

// Subscriber is one display connection. Send must not block; a returned error
// removes the subscriber from the registry.
type Subscriber interface {
	ID() string
	Send(msg []byte) error
}

// Option configures a Registry.
type Option func(*Registry)

// WithDropHook registers fn to be called for every subscriber removed after a
// failed send.
func WithDropHook(fn func(id string, err error)) Option {
	return func(r *Registry) { r.onDrop = fn }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is the process-wide subscriber set.
type Registry struct {
	log    zerolog.Logger
	now    func() time.Time
	onDrop func(id string, err error)

	mu   sync.RWMutex
	subs map[string]Subscriber
}

// NewRegistry creates an empty Registry.
func NewRegistry(log zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		log:  log.With().Str("component", "broadcast").Logger(),
		now:  time.Now,
		subs: make(map[string]Subscriber),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe adds s. A subscriber with the same ID is replaced.
func (r *Registry) Subscribe(s Subscriber) {
	r.mu.Lock()
	r.subs[s.ID()] = s
	n := len(r.subs)
	r.mu.Unlock()
	r.log.Debug().Str("subscriber", s.ID()).Int("subscribers", n).Msg("broadcast: subscribed")
}

// Unsubscribe removes the subscriber with id, if present.
func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	delete(r.subs, id)
	n := len(r.subs)
	r.mu.Unlock()
	r.log.Debug().Str("subscriber", id).Int("subscribers", n).Msg("broadcast: unsubscribed")
}

// Count returns the number of live subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Broadcast sends one event to every current subscriber and returns how many
// accepted it. Subscribers whose Send fails are removed before it returns.
func (r *Registry) Broadcast(typ EventType, language, text string) int {
	now := r.now()
	msg, err := json.Marshal(Event{
		Type:      typ,
		Language:  language,
		Text:      text,
		Timestamp: float64(now.Unix()) + float64(now.Nanosecond())/1e9,
	})
	if err != nil {
		r.log.Error().Err(err).Msg("broadcast: marshal failed")
		return 0
	}

	r.mu.RLock()
	snapshot := make([]Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	type failure struct {
		sub Subscriber
		err error
	}
	var failed []failure
	delivered := 0
	for _, s := range snapshot {
		if err := s.Send(msg); err != nil {
			failed = append(failed, failure{s, err})
			continue
		}
		delivered++
	}

	if len(failed) == 0 {
		return delivered
	}

	r.mu.Lock()
	for _, f := range failed {
		// Only drop the exact subscriber that failed; the ID may have been
		// reused by a reconnect in the meantime.
		if cur, ok := r.subs[f.sub.ID()]; ok && cur == f.sub {
			delete(r.subs, f.sub.ID())
		}
	}
	r.mu.Unlock()

	for _, f := range failed {
		r.log.Info().Str("subscriber", f.sub.ID()).Err(f.err).Msg("broadcast: dropped subscriber")
		if r.onDrop != nil {
			r.onDrop(f.sub.ID(), f.err)
		}
	}
	return delivered
}
