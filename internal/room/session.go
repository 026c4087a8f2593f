package room

import (
	"context"
	"errors"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/lukasbauer/livecaptions/internal/broadcast"
	"github.com/lukasbauer/livecaptions/internal/eventlog"
	"github.com/lukasbauer/livecaptions/internal/settings"
	"github.com/lukasbauer/livecaptions/internal/stt"
	"github.com/lukasbauer/livecaptions/internal/transcript"
)

// RunSession reads one recognizer stream until it ends, ctx is cancelled or
// the stream reports an error. Units cut from the stream are published in the
// source language and queued for every active translator. The stream is not
// closed by RunSession.
func (r *Room) RunSession(ctx context.Context, sessionID string, stream stt.Stream) error {
	if !r.enterSession() {
		return ErrClosed
	}
	defer r.sessions.Done()

	s := newSession(r, sessionID)
	r.deps.Events.LogAsync(r.name, eventlog.EventSessionStarted, map[string]any{"session_id": sessionID})
	s.log.Info().Msg("session: started")

	err := s.run(ctx, stream)

	r.deps.Events.LogAsync(r.name, eventlog.EventSessionEnded, map[string]any{"session_id": sessionID})
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		s.log.Info().Msg("session: ended")
		return nil
	default:
		s.log.Error().Err(err).Msg("session: recognizer stream failed")
		reportStreamError(err, r.name, sessionID)
		return err
	}
}

type session struct {
	id   string
	room *Room
	log  zerolog.Logger

	acc      *transcript.Accumulator
	debounce *transcript.Debouncer
	expiries chan transcript.Expiry
	done     chan struct{}

	// pendingSeq identifies the timer whose expiry may still flush the
	// remainder. Expiries carrying any other sequence are stale.
	pendingSeq uint64
}

func newSession(r *Room, id string) *session {
	s := &session{
		id:       id,
		room:     r,
		log:      r.log.With().Str("component", "session").Str("session_id", id).Logger(),
		acc:      transcript.NewAccumulator(r.cfg.SourceLanguage, r.cfg.ContinuationMaxWords),
		expiries: make(chan transcript.Expiry, 1),
		done:     make(chan struct{}),
	}
	s.debounce = transcript.NewDebouncer(func(e transcript.Expiry) {
		select {
		case s.expiries <- e:
		case <-s.done:
		}
	})
	return s
}

func (s *session) run(ctx context.Context, stream stt.Stream) error {
	defer close(s.done)
	defer s.debounce.Cancel()

	events := stream.Events()
	errs := stream.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return err
			}
		case e := <-s.expiries:
			s.handleExpiry(ctx, e)
		}
	}
}

func (s *session) handleEvent(ctx context.Context, ev stt.Event) {
	switch ev.Type {
	case stt.EventInterim:
		s.room.publishInterim(ctx, ev.Text)
	case stt.EventFinal:
		res := s.acc.OnFinalTranscript(ev.Text)
		if res.Ignored {
			return
		}
		for _, u := range res.Complete {
			s.emit(ctx, u)
		}
		s.pendingSeq = s.debounce.Reschedule(s.acc.Remainder(), s.tuning().DebounceDelay())
	}
}

func (s *session) handleExpiry(ctx context.Context, e transcript.Expiry) {
	if e.Seq == 0 || e.Seq != s.pendingSeq {
		return
	}
	s.pendingSeq = 0
	if u, ok := s.acc.FlushRemainder(); ok {
		s.log.Debug().Int("text_len", len(u.Text)).Msg("session: remainder flushed")
		s.emit(ctx, u)
	}
}

// emit publishes the source text and hands the unit to the translators.
func (s *session) emit(ctx context.Context, u transcript.Unit) {
	r := s.room
	r.publish(ctx, broadcast.EventTranscription, r.cfg.SourceLanguage, u.Text)
	r.deps.Events.LogAsync(r.name, eventlog.EventUnitEmitted, map[string]any{
		"session_id":     s.id,
		"language":       u.SourceLanguage,
		"text_len":       len(u.Text),
		"final_sentence": u.IsFinalSentence,
	})
	r.dispatch(r.dispatcher.Submit(u))
}

func (s *session) tuning() settings.STT {
	if s.room.deps.Settings == nil {
		return settings.DefaultSTT()
	}
	return s.room.deps.Settings.Current().STT
}

func reportStreamError(err error, room, sessionID string) {
	if errors.Is(err, context.Canceled) {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("room", room)
		scope.SetTag("session_id", sessionID)
		sentry.CaptureException(err)
	})
}
