// Package room runs the live caption pipeline for named rooms.
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lukasbauer/livecaptions/internal/broadcast"
	"github.com/lukasbauer/livecaptions/internal/eventlog"
	"github.com/lukasbauer/livecaptions/internal/language"
	"github.com/lukasbauer/livecaptions/internal/llm"
	"github.com/lukasbauer/livecaptions/internal/publish"
	"github.com/lukasbauer/livecaptions/internal/settings"
	"github.com/lukasbauer/livecaptions/internal/translate"
)

var (
	// ErrSourceLanguage is returned when captions are requested in the
	// language being spoken.
	ErrSourceLanguage = errors.New("room: language is the source language")
	// ErrClosed is returned by a room that is shutting down.
	ErrClosed = errors.New("room: closed")
)

// Config holds the per-room pipeline options.
type Config struct {
	SourceLanguage       string
	DefaultLanguages     []string
	ContinuationMaxWords int
	// StrictFallback publishes the source text when a model returns nothing.
	StrictFallback bool
}

// Deps are the process-wide collaborators shared by every room.
type Deps struct {
	Catalog  *language.Catalog
	Client   llm.Client
	Settings settings.Provider
	Sink     publish.Sink
	Registry *broadcast.Registry
	Events   *eventlog.Logger
	Log      zerolog.Logger
}

// Room owns the translators of one room and the sessions feeding them.
type Room struct {
	name       string
	cfg        Config
	deps       Deps
	log        zerolog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	dispatcher *translate.Dispatcher

	// inflight tracks dispatched units until every translator has answered.
	inflight sync.WaitGroup
	sessions sync.WaitGroup

	// mu orders session registration against Close.
	mu        sync.Mutex
	closing   bool
	closeOnce sync.Once
}

func newRoom(name string, cfg Config, deps Deps) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		name:   name,
		cfg:    cfg,
		deps:   deps,
		log:    deps.Log.With().Str("component", "room").Str("room", name).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
	r.dispatcher = translate.NewDispatcher(ctx, r.newTranslator, r.log)

	for _, code := range cfg.DefaultLanguages {
		if _, _, err := r.RequestLanguage(code); err != nil {
			r.log.Warn().Err(err).Str("language", code).Msg("room: default language skipped")
		}
	}
	return r
}

func (r *Room) newTranslator(lang language.Language) *translate.Translator {
	return translate.NewTranslator(lang, translate.Deps{
		Client:    r.deps.Client,
		Settings:  r.deps.Settings,
		Publisher: r,
		Events:    r.deps.Events,
		Room:      r.name,
		Strict:    r.cfg.StrictFallback,
		Log:       r.log,
	})
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// SourceLanguage returns the language being spoken in the room.
func (r *Room) SourceLanguage() string { return r.cfg.SourceLanguage }

// RequestLanguage makes sure captions are produced in code. It reports
// whether a new translator was started. Requests for the source language and
// for languages outside the catalog change nothing and return an error
// saying why.
func (r *Room) RequestLanguage(code string) (language.Language, bool, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == strings.ToLower(r.cfg.SourceLanguage) {
		return language.Language{}, false, fmt.Errorf("%w: %q", ErrSourceLanguage, code)
	}
	lang, err := r.deps.Catalog.Lookup(code)
	if err != nil {
		return language.Language{}, false, err
	}

	t, added := r.dispatcher.AddTranslator(lang)
	if t == nil {
		return language.Language{}, false, ErrClosed
	}
	if added {
		r.deps.Events.LogAsync(r.name, eventlog.EventTranslatorAdded, map[string]any{"language": lang.Code})
	}
	return lang, added, nil
}

// Languages returns the active caption languages.
func (r *Room) Languages() []language.Language {
	codes := r.dispatcher.Languages()
	out := make([]language.Language, 0, len(codes))
	for _, code := range codes {
		if t, ok := r.dispatcher.Translator(code); ok {
			out = append(out, t.Language())
		}
	}
	return out
}

// PublishTranslation implements translate.Publisher.
func (r *Room) PublishTranslation(ctx context.Context, out translate.Output) {
	r.publish(ctx, broadcast.EventTranslation, out.Language, out.Text)
}

// publish sends a finalized text to the room sink and the display registry.
func (r *Room) publish(ctx context.Context, typ broadcast.EventType, lang, text string) {
	if r.deps.Sink != nil {
		if err := r.deps.Sink.Publish(ctx, publish.NewSegment(r.name, lang, text, true)); err != nil {
			r.log.Warn().Err(err).Str("language", lang).Msg("room: publish failed")
		}
	}
	if r.deps.Registry != nil {
		r.deps.Registry.Broadcast(typ, lang, text)
	}
}

// publishInterim sends an unsettled hypothesis to the room sink only.
func (r *Room) publishInterim(ctx context.Context, text string) {
	if r.deps.Sink == nil {
		return
	}
	if err := r.deps.Sink.Publish(ctx, publish.NewSegment(r.name, r.cfg.SourceLanguage, text, false)); err != nil {
		r.log.Debug().Err(err).Msg("room: interim publish failed")
	}
}

// dispatch queues unit on every translator and waits for the results in the
// background so the session keeps reading.
func (r *Room) dispatch(b *translate.Batch) {
	if b.Len() == 0 {
		return
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		if _, err := b.Wait(r.ctx); err != nil {
			r.log.Debug().Err(err).Msg("room: dispatch abandoned")
		}
	}()
}

// Close waits for running sessions to end, lets queued translations finish
// until ctx is done, and then stops the room.
func (r *Room) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		defer r.cancel()

		r.mu.Lock()
		r.closing = true
		r.mu.Unlock()

		if err = waitGroup(ctx, &r.sessions); err != nil {
			return
		}
		if err = r.dispatcher.Close(ctx); err != nil {
			return
		}
		err = waitGroup(ctx, &r.inflight)
	})
	return err
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enterSession registers a session unless Close has started.
func (r *Room) enterSession() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return false
	}
	r.sessions.Add(1)
	return true
}
