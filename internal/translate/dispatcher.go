package translate

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lukasbauer/livecaptions/internal/language"
	"github.com/lukasbauer/livecaptions/internal/transcript"
)

// Factory builds the Translator for a newly requested language.
type Factory func(lang language.Language) *Translator

// Dispatcher holds one Translator per target language of a room and fans
// units out to all of them.
type Dispatcher struct {
	ctx     context.Context
	factory Factory
	log     zerolog.Logger

	mu          sync.RWMutex
	translators map[string]*Translator
	closed      bool

	// submitMu keeps every translator's queue in the same unit order.
	submitMu sync.Mutex
}

// NewDispatcher creates a Dispatcher. Translator workers run until Close or
// until ctx is done.
func NewDispatcher(ctx context.Context, factory Factory, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		ctx:         ctx,
		factory:     factory,
		log:         log.With().Str("component", "dispatcher").Logger(),
		translators: make(map[string]*Translator),
	}
}

// AddTranslator returns the Translator for lang, creating and starting it if
// the language is not active yet. added reports whether a new one was made.
func (d *Dispatcher) AddTranslator(lang language.Language) (t *Translator, added bool) {
	d.mu.RLock()
	t, ok := d.translators[lang.Code]
	d.mu.RUnlock()
	if ok {
		return t, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.translators[lang.Code]; ok {
		return t, false
	}
	if d.closed {
		return nil, false
	}

	t = d.factory(lang)
	t.Start(d.ctx)
	d.translators[lang.Code] = t
	d.log.Info().Str("language", lang.Code).Int("translators", len(d.translators)).Msg("dispatcher: translator added")
	return t, true
}

// Translator returns the active Translator for code.
func (d *Dispatcher) Translator(code string) (*Translator, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.translators[code]
	return t, ok
}

// Languages returns the active language codes, sorted.
func (d *Dispatcher) Languages() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.translators))
	for code := range d.translators {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) snapshot() []*Translator {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Translator, 0, len(d.translators))
	for _, t := range d.translators {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].lang.Code < out[j].lang.Code })
	return out
}

// Batch tracks one unit fanned out to every translator.
type Batch struct {
	Unit    transcript.Unit
	pending []<-chan Output
	log     zerolog.Logger
}

// Len returns the number of translators the unit was queued on.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.pending)
}

// Wait blocks until every translator has produced its Output for the unit, or
// ctx is done. Outputs are ordered by language code. A failing translator
// never affects the others.
func (b *Batch) Wait(ctx context.Context) ([]Output, error) {
	if b.Len() == 0 {
		return nil, nil
	}

	outs := make([]Output, len(b.pending))
	var g errgroup.Group
	for i, ch := range b.pending {
		g.Go(func() error {
			select {
			case out := <-ch:
				outs[i] = out
				if out.Err != nil {
					b.log.Warn().Err(out.Err).Str("language", out.Language).Msg("dispatcher: translator failed")
				}
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outs, nil
}

// Submit queues unit on every active translator and returns without waiting.
// Empty units and an empty translator set yield an empty Batch.
func (d *Dispatcher) Submit(unit transcript.Unit) *Batch {
	b := &Batch{Unit: unit, log: d.log}
	if strings.TrimSpace(unit.Text) == "" {
		return b
	}

	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	for _, t := range d.snapshot() {
		b.pending = append(b.pending, t.enqueue(unit))
	}
	return b
}

// Dispatch fans unit out to every translator concurrently and waits for all
// of them.
func (d *Dispatcher) Dispatch(ctx context.Context, unit transcript.Unit) ([]Output, error) {
	return d.Submit(unit).Wait(ctx)
}

// Close stops every translator and waits for queued units to drain or for ctx
// to be done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	ts := d.snapshot()
	for _, t := range ts {
		t.Close()
	}
	for _, t := range ts {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
