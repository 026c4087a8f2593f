package translate

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lukasbauer/livecaptions/internal/language"
	"github.com/lukasbauer/livecaptions/internal/llm"
	"github.com/lukasbauer/livecaptions/internal/settings"
	"github.com/lukasbauer/livecaptions/internal/transcript"
)

var (
	spanish = language.Language{Code: "es", Name: "Spanish"}
	french  = language.Language{Code: "fr", Name: "French"}
)

type fakeClient struct {
	reply func(systemPrompt string, turns []llm.Message) ([]llm.Fragment, error)

	mu    sync.Mutex
	calls [][]llm.Message
}

func (f *fakeClient) StreamChat(_ context.Context, systemPrompt string, turns []llm.Message) (<-chan llm.Fragment, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]llm.Message(nil), turns...))
	f.mu.Unlock()

	frags, err := f.reply(systemPrompt, turns)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.Fragment, len(frags))
	for _, fr := range frags {
		ch <- fr
	}
	close(ch)
	return ch, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func echoClient() *fakeClient {
	return &fakeClient{reply: func(_ string, turns []llm.Message) ([]llm.Fragment, error) {
		last := turns[len(turns)-1].Content
		return []llm.Fragment{{Text: "T:"}, {Text: last}}, nil
	}}
}

type recorder struct {
	mu   sync.Mutex
	outs []Output
}

func (r *recorder) PublishTranslation(_ context.Context, out Output) {
	r.mu.Lock()
	r.outs = append(r.outs, out)
	r.mu.Unlock()
}

func (r *recorder) all() []Output {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Output(nil), r.outs...)
}

func llmSettings(enabled bool, pairs int) *settings.Store {
	s := settings.NewStore(nil, zerolog.New(io.Discard))
	s.UpdateLLM(context.Background(), settings.LLM{ContextEnabled: enabled, ContextSentences: pairs})
	return s
}

func unit(text string) transcript.Unit {
	return transcript.Unit{Text: text, SourceLanguage: "en", IsFinalSentence: true}
}

func TestTranslator_SystemPrompt(t *testing.T) {
	tr := NewTranslator(spanish, Deps{Settings: llmSettings(true, 10), Log: zerolog.New(io.Discard)})
	want := "You are a translator for language: Spanish. Your only response should be the exact translation of input text in the Spanish language."
	if tr.SystemPrompt() != want {
		t.Errorf("SystemPrompt() = %q, want %q", tr.SystemPrompt(), want)
	}

	store := llmSettings(true, 10)
	store.UpdateLLM(context.Background(), settings.LLM{ContextEnabled: true, ContextSentences: 10, CustomPrompt: "Into {language} please."})
	tr = NewTranslator(french, Deps{Settings: store, Log: zerolog.New(io.Discard)})
	if tr.SystemPrompt() != "Into French please." {
		t.Errorf("SystemPrompt() = %q, want custom prompt", tr.SystemPrompt())
	}

	// Later prompt changes do not affect an existing translator.
	store.UpdateLLM(context.Background(), settings.LLM{CustomPrompt: "Other {language}"})
	if tr.SystemPrompt() != "Into French please." {
		t.Errorf("SystemPrompt() changed to %q after settings update", tr.SystemPrompt())
	}
}

func TestTranslator_HistoryBound(t *testing.T) {
	client := echoClient()
	pub := &recorder{}
	tr := NewTranslator(spanish, Deps{
		Client:    client,
		Settings:  llmSettings(true, 2),
		Publisher: pub,
		Log:       zerolog.New(io.Discard),
	})

	for i, text := range []string{"one.", "two.", "three.", "four.", "five."} {
		out := tr.Translate(context.Background(), unit(text))
		if out.Text != "T:"+text {
			t.Errorf("Translate(%q) = %q", text, out.Text)
		}
		if n := len(tr.History()); n > 4 {
			t.Errorf("after call %d len(history) = %d, want <= 4", i+1, n)
		}
	}

	h := tr.History()
	if len(h) != 4 {
		t.Fatalf("len(history) = %d, want 4", len(h))
	}
	if h[0].Role != llm.RoleUser || h[0].Content != "four." || h[3].Content != "T:five." {
		t.Errorf("history = %+v, want the last two pairs", h)
	}

	// The request carries the trimmed history plus the new user turn.
	last := client.calls[len(client.calls)-1]
	if len(last) != 5 || last[4].Content != "five." {
		t.Errorf("last request turns = %+v", last)
	}
	if got := len(pub.all()); got != 5 {
		t.Errorf("published %d outputs, want 5", got)
	}
}

func TestTranslator_ContextDisabled(t *testing.T) {
	client := echoClient()
	tr := NewTranslator(spanish, Deps{
		Client:   client,
		Settings: llmSettings(false, 10),
		Log:      zerolog.New(io.Discard),
	})

	for _, text := range []string{"a.", "b.", "c."} {
		tr.Translate(context.Background(), unit(text))
		if n := len(tr.History()); n != 0 {
			t.Errorf("len(history) = %d, want 0 with context disabled", n)
		}
	}
	for i, call := range client.calls {
		if len(call) != 1 {
			t.Errorf("call %d sent %d turns, want 1", i, len(call))
		}
	}
}

func TestTranslator_PolicyReadEachCall(t *testing.T) {
	store := llmSettings(true, 10)
	tr := NewTranslator(spanish, Deps{Client: echoClient(), Settings: store, Log: zerolog.New(io.Discard)})

	tr.Translate(context.Background(), unit("a."))
	tr.Translate(context.Background(), unit("b."))
	if n := len(tr.History()); n != 4 {
		t.Fatalf("len(history) = %d, want 4", n)
	}

	store.UpdateLLM(context.Background(), settings.LLM{ContextEnabled: true, ContextSentences: 1})
	tr.Translate(context.Background(), unit("c."))
	if n := len(tr.History()); n != 2 {
		t.Errorf("len(history) = %d, want 2 after shrinking the window", n)
	}

	store.UpdateLLM(context.Background(), settings.LLM{ContextEnabled: false, ContextSentences: 10})
	tr.Translate(context.Background(), unit("d."))
	if n := len(tr.History()); n != 0 {
		t.Errorf("len(history) = %d, want 0 after disabling context", n)
	}
}

func TestTranslator_EmptyResult(t *testing.T) {
	empty := &fakeClient{reply: func(string, []llm.Message) ([]llm.Fragment, error) {
		return []llm.Fragment{{Text: "  "}}, nil
	}}

	t.Run("placeholder", func(t *testing.T) {
		pub := &recorder{}
		tr := NewTranslator(spanish, Deps{Client: empty, Settings: llmSettings(true, 5), Publisher: pub, Log: zerolog.New(io.Discard)})
		out := tr.Translate(context.Background(), unit("Hello."))
		if out.Text != "[Translation unavailable for Spanish]" || !out.Placeholder {
			t.Errorf("Translate() = %+v", out)
		}
		if len(pub.all()) != 1 {
			t.Errorf("published %d outputs, want 1", len(pub.all()))
		}
	})

	t.Run("strict", func(t *testing.T) {
		tr := NewTranslator(spanish, Deps{Client: empty, Settings: llmSettings(true, 5), Strict: true, Log: zerolog.New(io.Discard)})
		out := tr.Translate(context.Background(), unit("Hello."))
		if out.Text != "Hello." || out.Placeholder {
			t.Errorf("Translate() = %+v, want source text", out)
		}
	})
}

func TestTranslator_FailurePublishesOnePlaceholder(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
	}{
		{
			name: "call fails",
			client: &fakeClient{reply: func(string, []llm.Message) ([]llm.Fragment, error) {
				return nil, errors.New("503 from upstream")
			}},
		},
		{
			name: "stream fails",
			client: &fakeClient{reply: func(string, []llm.Message) ([]llm.Fragment, error) {
				return []llm.Fragment{{Text: "Ho"}, {Err: errors.New("connection reset")}}, nil
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recorder{}
			tr := NewTranslator(spanish, Deps{Client: tt.client, Settings: llmSettings(true, 5), Publisher: pub, Log: zerolog.New(io.Discard)})

			out := tr.Translate(context.Background(), unit("Hello."))
			if out.Err == nil {
				t.Error("Output.Err should be set")
			}
			if out.Text != "[Translation error for Spanish]" {
				t.Errorf("Text = %q", out.Text)
			}
			outs := pub.all()
			if len(outs) != 1 || outs[0].Text != out.Text {
				t.Errorf("published = %+v, want exactly the error placeholder", outs)
			}
			if n := len(tr.History()); n != 0 {
				t.Errorf("len(history) = %d, want 0 after a failure", n)
			}
		})
	}
}

func newTestDispatcher(t *testing.T, deps Deps) (*Dispatcher, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(ctx, func(lang language.Language) *Translator {
		return NewTranslator(lang, deps)
	}, zerolog.New(io.Discard))
	t.Cleanup(func() {
		_ = d.Close(context.Background())
		cancel()
	})
	return d, cancel
}

func TestDispatcher_AddTranslatorIdempotent(t *testing.T) {
	d, _ := newTestDispatcher(t, Deps{Client: echoClient(), Settings: llmSettings(true, 5), Log: zerolog.New(io.Discard)})

	var wg sync.WaitGroup
	var mu sync.Mutex
	added := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := d.AddTranslator(spanish); ok {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if added != 1 {
		t.Errorf("AddTranslator reported %d additions, want 1", added)
	}
	first, _ := d.AddTranslator(spanish)
	second, ok := d.AddTranslator(spanish)
	if ok || first != second {
		t.Error("AddTranslator should return the existing translator")
	}
	if got := d.Languages(); len(got) != 1 || got[0] != "es" {
		t.Errorf("Languages() = %v, want [es]", got)
	}
}

func TestDispatcher_NoOps(t *testing.T) {
	client := echoClient()
	d, _ := newTestDispatcher(t, Deps{Client: client, Settings: llmSettings(true, 5), Log: zerolog.New(io.Discard)})

	outs, err := d.Dispatch(context.Background(), unit("No translators yet."))
	if err != nil || len(outs) != 0 {
		t.Errorf("Dispatch() with no translators = %v, %v", outs, err)
	}

	d.AddTranslator(spanish)
	outs, err = d.Dispatch(context.Background(), unit("   "))
	if err != nil || len(outs) != 0 {
		t.Errorf("Dispatch() with blank unit = %v, %v", outs, err)
	}
	if client.callCount() != 0 {
		t.Errorf("llm called %d times, want 0", client.callCount())
	}
}

func TestDispatcher_FailingLanguageDoesNotDelayOthers(t *testing.T) {
	frPublished := make(chan struct{})
	var esDelayed bool

	client := &fakeClient{reply: func(systemPrompt string, turns []llm.Message) ([]llm.Fragment, error) {
		if strings.Contains(systemPrompt, "Spanish") {
			select {
			case <-frPublished:
			case <-time.After(2 * time.Second):
				esDelayed = true
			}
			return nil, errors.New("forced failure")
		}
		return []llm.Fragment{{Text: "Bonjour."}}, nil
	}}

	var once sync.Once
	pub := &recorder{}
	publisher := PublisherFunc(func(ctx context.Context, out Output) {
		pub.PublishTranslation(ctx, out)
		if out.Language == "fr" {
			once.Do(func() { close(frPublished) })
		}
	})

	d, _ := newTestDispatcher(t, Deps{Client: client, Settings: llmSettings(true, 5), Publisher: publisher, Log: zerolog.New(io.Discard)})
	d.AddTranslator(spanish)
	d.AddTranslator(french)

	outs, err := d.Dispatch(context.Background(), unit("Hello."))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if esDelayed {
		t.Error("fr output was not published while es was in flight")
	}
	if len(outs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(outs))
	}

	byLang := map[string]Output{}
	for _, o := range outs {
		byLang[o.Language] = o
	}
	if byLang["fr"].Text != "Bonjour." || byLang["fr"].Err != nil {
		t.Errorf("fr output = %+v", byLang["fr"])
	}
	if byLang["es"].Text != "[Translation error for Spanish]" || byLang["es"].Err == nil {
		t.Errorf("es output = %+v", byLang["es"])
	}
	if n := len(pub.all()); n != 2 {
		t.Errorf("published %d outputs, want 2", n)
	}
}

func TestDispatcher_SequentialPerLanguage(t *testing.T) {
	client := echoClient()
	pub := &recorder{}
	d, _ := newTestDispatcher(t, Deps{Client: client, Settings: llmSettings(true, 10), Publisher: pub, Log: zerolog.New(io.Discard)})
	d.AddTranslator(spanish)

	texts := []string{"one.", "two.", "three.", "four."}
	var batches []*Batch
	for _, text := range texts {
		batches = append(batches, d.Submit(unit(text)))
	}
	for _, b := range batches {
		if _, err := b.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	outs := pub.all()
	if len(outs) != len(texts) {
		t.Fatalf("published %d, want %d", len(outs), len(texts))
	}
	for i, o := range outs {
		if o.Source.Text != texts[i] {
			t.Errorf("output %d source = %q, want %q", i, o.Source.Text, texts[i])
		}
	}

	tr, _ := d.Translator("es")
	h := tr.History()
	if len(h) != 8 || h[len(h)-2].Content != "four." {
		t.Errorf("history = %+v, want conversation in submission order", h)
	}
}

func TestDispatcher_CloseDrainsQueued(t *testing.T) {
	release := make(chan struct{})
	client := &fakeClient{reply: func(string, []llm.Message) ([]llm.Fragment, error) {
		<-release
		return []llm.Fragment{{Text: "ok"}}, nil
	}}
	pub := &recorder{}
	d, _ := newTestDispatcher(t, Deps{Client: client, Settings: llmSettings(true, 5), Publisher: pub, Log: zerolog.New(io.Discard)})
	d.AddTranslator(spanish)

	d.Submit(unit("a."))
	d.Submit(unit("b."))
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := len(pub.all()); n != 2 {
		t.Errorf("published %d, want 2 after drain", n)
	}

	if _, ok := d.AddTranslator(french); ok {
		t.Error("AddTranslator after Close should not add")
	}
	b := d.Submit(unit("late."))
	if b.Len() != 1 {
		t.Fatalf("Batch.Len() = %d, want 1", b.Len())
	}
	outs, _ := b.Wait(context.Background())
	if !errors.Is(outs[0].Err, ErrClosed) {
		t.Errorf("late unit error = %v, want ErrClosed", outs[0].Err)
	}
}

func TestBatch_WaitContextCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	client := &fakeClient{reply: func(string, []llm.Message) ([]llm.Fragment, error) {
		<-block
		return nil, nil
	}}
	d, _ := newTestDispatcher(t, Deps{Client: client, Settings: llmSettings(true, 5), Log: zerolog.New(io.Discard)})
	d.AddTranslator(spanish)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := d.Dispatch(ctx, unit("stuck.")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Dispatch() error = %v, want deadline exceeded", err)
	}
}
