// Package translate turns source transcript units into one translated stream
// per target language.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/lukasbauer/livecaptions/internal/eventlog"
	"github.com/lukasbauer/livecaptions/internal/language"
	"github.com/lukasbauer/livecaptions/internal/llm"
	"github.com/lukasbauer/livecaptions/internal/settings"
	"github.com/lukasbauer/livecaptions/internal/transcript"
)

const (
	unavailablePlaceholder = "[Translation unavailable for %s]"
	errorPlaceholder       = "[Translation error for %s]"
)

// ErrClosed is returned for units submitted to a closed translator.
var ErrClosed = errors.New("translate: translator closed")

// Output is the single result a Translator produces for one unit.
type Output struct {
	Language string
	Text     string
	Source   transcript.Unit
	// Placeholder is set when Text is a stand-in rather than a translation.
	Placeholder bool
	// Err is the translation failure behind an error placeholder.
	Err     error
	Latency time.Duration
}

// Publisher delivers translated output to room participants and displays.
type Publisher interface {
	PublishTranslation(ctx context.Context, out Output)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, out Output)

// PublishTranslation implements Publisher.
func (f PublisherFunc) PublishTranslation(ctx context.Context, out Output) { f(ctx, out) }

// Deps are the collaborators shared by every translator of a room.
type Deps struct {
	Client    llm.Client
	Settings  settings.Provider
	Publisher Publisher
	Events    *eventlog.Logger
	Room      string
	// Strict publishes the source text instead of a placeholder when the
	// model returns nothing.
	Strict bool
	Log    zerolog.Logger
}

// Translator owns the rolling conversation history for one target language.
// Units are translated one at a time in submission order.
type Translator struct {
	lang         language.Language
	systemPrompt string
	deps         Deps
	log          zerolog.Logger

	queue *queue
	done  chan struct{}

	mu      sync.Mutex
	history []llm.Message
}

// NewTranslator creates a Translator for lang. The system prompt is rendered
// once from the custom prompt setting current at creation time.
func NewTranslator(lang language.Language, deps Deps) *Translator {
	prompt := ""
	if deps.Settings != nil {
		prompt = deps.Settings.Current().LLM.CustomPrompt
	}
	return &Translator{
		lang:         lang,
		systemPrompt: llm.RenderPrompt(prompt, lang.Name),
		deps:         deps,
		log:          deps.Log.With().Str("component", "translator").Str("language", lang.Code).Logger(),
		queue:        newQueue(),
		done:         make(chan struct{}),
	}
}

// Language returns the target language.
func (t *Translator) Language() language.Language { return t.lang }

// SystemPrompt returns the prompt fixed at creation.
func (t *Translator) SystemPrompt() string { return t.systemPrompt }

// History returns a copy of the conversation history.
func (t *Translator) History() []llm.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]llm.Message(nil), t.history...)
}

// Start runs the worker that drains submitted units until Close. ctx bounds
// the translation calls.
func (t *Translator) Start(ctx context.Context) {
	go t.run(ctx)
}

// Close stops accepting units. Units already queued are still translated.
func (t *Translator) Close() {
	t.queue.close()
}

// Done is closed when the worker has exited.
func (t *Translator) Done() <-chan struct{} { return t.done }

// Pending returns the number of queued units.
func (t *Translator) Pending() int { return t.queue.len() }

// enqueue queues unit for the worker. The returned channel receives exactly
// one Output.
func (t *Translator) enqueue(unit transcript.Unit) <-chan Output {
	done := make(chan Output, 1)
	if !t.queue.push(job{unit: unit, done: done}) {
		done <- Output{Language: t.lang.Code, Source: unit, Err: ErrClosed}
	}
	return done
}

func (t *Translator) run(ctx context.Context) {
	defer close(t.done)
	for {
		j, ok := t.queue.pop()
		if !ok {
			return
		}
		if err := ctx.Err(); err != nil {
			j.done <- Output{Language: t.lang.Code, Source: j.unit, Err: err}
			continue
		}
		j.done <- t.Translate(ctx, j.unit)
	}
}

// Translate translates one unit, publishes the result and updates the
// history. It always publishes exactly one Output, using a placeholder when
// the model fails or returns nothing.
func (t *Translator) Translate(ctx context.Context, unit transcript.Unit) Output {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := time.Now()
	enabled, maxPairs := t.policy()
	t.trim(enabled, maxPairs)

	turns := make([]llm.Message, 0, len(t.history)+1)
	turns = append(turns, t.history...)
	turns = append(turns, llm.Message{Role: llm.RoleUser, Content: unit.Text})

	out := Output{Language: t.lang.Code, Source: unit}
	text, err := t.complete(ctx, turns)
	out.Latency = time.Since(start)

	if err != nil {
		out.Err = err
		out.Placeholder = true
		out.Text = fmt.Sprintf(errorPlaceholder, t.lang.Name)
		t.log.Warn().Err(err).Dur("latency", out.Latency).Msg("translator: translation failed")
		captureError(err, t.lang.Code, t.deps.Room)
		t.deps.Events.LogAsync(t.deps.Room, eventlog.EventTranslationFailed, map[string]any{
			"language":    t.lang.Code,
			"text_length": len(unit.Text),
			"latency_ms":  out.Latency.Milliseconds(),
		})
	} else {
		text = strings.TrimSpace(text)
		if text == "" {
			if t.deps.Strict {
				text = unit.Text
			} else {
				text = fmt.Sprintf(unavailablePlaceholder, t.lang.Name)
			}
			out.Placeholder = !t.deps.Strict
			t.log.Info().Msg("translator: empty translation")
		}
		out.Text = text
		t.history = append(t.history,
			llm.Message{Role: llm.RoleUser, Content: unit.Text},
			llm.Message{Role: llm.RoleAssistant, Content: text},
		)
		t.trim(enabled, maxPairs)
		t.log.Debug().Dur("latency", out.Latency).Int("history", len(t.history)).Msg("translator: translated")
		t.deps.Events.LogAsync(t.deps.Room, eventlog.EventTranslationCompleted, map[string]any{
			"language":           t.lang.Code,
			"text_length":        len(unit.Text),
			"translation_length": len(text),
			"final_sentence":     unit.IsFinalSentence,
			"latency_ms":         out.Latency.Milliseconds(),
		})
	}

	if t.deps.Publisher != nil {
		t.deps.Publisher.PublishTranslation(ctx, out)
	}
	return out
}

func (t *Translator) complete(ctx context.Context, turns []llm.Message) (string, error) {
	if t.deps.Client == nil {
		return "", errors.New("translate: no llm client")
	}
	ch, err := t.deps.Client.StreamChat(ctx, t.systemPrompt, turns)
	if err != nil {
		return "", err
	}
	return llm.Collect(ctx, ch)
}

// policy re-reads the context settings.
func (t *Translator) policy() (bool, int) {
	if t.deps.Settings == nil {
		d := settings.DefaultLLM()
		return d.ContextEnabled, d.ContextSentences
	}
	l := t.deps.Settings.Current().LLM
	return l.ContextEnabled, l.ContextSentences
}

// trim keeps at most maxPairs (user, assistant) pairs, dropping the oldest.
func (t *Translator) trim(enabled bool, maxPairs int) {
	if !enabled || maxPairs <= 0 {
		t.history = nil
		return
	}
	if n := len(t.history) - 2*maxPairs; n > 0 {
		t.history = append([]llm.Message(nil), t.history[n:]...)
	}
}

func captureError(err error, lang, room string) {
	if errors.Is(err, context.Canceled) {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("language", lang)
		scope.SetTag("room", room)
		sentry.CaptureException(err)
	})
}
