// Package publish delivers transcription segments to room participants.
package publish

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Segment is one transcription or translation delivered to a room.
type Segment struct {
	ID       string
	Room     string
	Text     string
	Language string
	// Final is false for interim recognizer hypotheses.
	Final     bool
	CreatedAt time.Time
}

// NewSegment creates a Segment with a fresh ID.
func NewSegment(room, language, text string, final bool) Segment {
	return Segment{
		ID:        "SG_" + uuid.NewString(),
		Room:      room,
		Text:      text,
		Language:  language,
		Final:     final,
		CreatedAt: time.Now().UTC(),
	}
}

// Sink accepts segments. Callers log errors and never retry.
type Sink interface {
	Publish(ctx context.Context, seg Segment) error
}

// interimSink is implemented by sinks that want interim segments too.
type interimSink interface {
	WantsInterim() bool
}

func wantsInterim(s Sink) bool {
	is, ok := s.(interimSink)
	return ok && is.WantsInterim()
}

// Multi publishes to every sink. Interim segments only reach sinks that ask
// for them. Errors from all sinks are joined.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, seg Segment) error {
	var errs []error
	for _, s := range m {
		if !seg.Final && !wantsInterim(s) {
			continue
		}
		if err := s.Publish(ctx, seg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WantsInterim implements interimSink when any member does.
func (m Multi) WantsInterim() bool {
	for _, s := range m {
		if wantsInterim(s) {
			return true
		}
	}
	return false
}

// LogSink writes segments to the log.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "publish").Logger()}
}

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, seg Segment) error {
	ev := s.log.Debug()
	if seg.Final {
		ev = s.log.Info()
	}
	ev.Str("segment_id", seg.ID).
		Str("room", seg.Room).
		Str("language", seg.Language).
		Bool("final", seg.Final).
		Str("text", seg.Text).
		Msg("publish: segment")
	return nil
}

// WantsInterim implements interimSink.
func (s *LogSink) WantsInterim() bool { return true }
