package publish

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fakeSink struct {
	interim bool
	err     error
	got     []Segment
}

func (f *fakeSink) Publish(_ context.Context, seg Segment) error {
	f.got = append(f.got, seg)
	return f.err
}

func (f *fakeSink) WantsInterim() bool { return f.interim }

func TestNewSegment(t *testing.T) {
	seg := NewSegment("lobby", "es", "Hola.", true)
	if !strings.HasPrefix(seg.ID, "SG_") || len(seg.ID) <= 3 {
		t.Errorf("ID = %q, want SG_ prefix", seg.ID)
	}
	if seg.Room != "lobby" || seg.Language != "es" || seg.Text != "Hola." || !seg.Final {
		t.Errorf("NewSegment() = %+v", seg)
	}
	if seg.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if other := NewSegment("lobby", "es", "Hola.", true); other.ID == seg.ID {
		t.Error("segment IDs should be unique")
	}
}

func TestMulti(t *testing.T) {
	live := &fakeSink{interim: true}
	finalOnly := &fakeSink{}
	m := Multi{live, finalOnly}

	if err := m.Publish(context.Background(), NewSegment("r", "en", "Hel", false)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(live.got) != 1 || len(finalOnly.got) != 0 {
		t.Errorf("interim segment reached %d/%d sinks, want 1/0", len(live.got), len(finalOnly.got))
	}

	if err := m.Publish(context.Background(), NewSegment("r", "en", "Hello.", true)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(live.got) != 2 || len(finalOnly.got) != 1 {
		t.Errorf("final segment reached %d/%d sinks, want 2/1", len(live.got), len(finalOnly.got))
	}
	if !m.WantsInterim() {
		t.Error("WantsInterim() should be true when a member wants interim")
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ok := &fakeSink{}
	m := Multi{&fakeSink{err: errA}, ok, &fakeSink{err: errB}}

	err := m.Publish(context.Background(), NewSegment("r", "en", "x.", true))
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Publish() error = %v, want both failures", err)
	}
	if len(ok.got) != 1 {
		t.Error("a failing sink should not stop the others")
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(zerolog.New(&buf))
	if err := s.Publish(context.Background(), NewSegment("r", "fr", "Bonjour.", true)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"language":"fr"`, `"final":true`, `"component":"publish"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s missing %s", out, want)
		}
	}
	if !s.WantsInterim() {
		t.Error("LogSink should want interim segments")
	}
}

func TestFormatSegment(t *testing.T) {
	got := formatSegment(Segment{Language: "es", Text: "Hola."})
	if got != "[es] Hola." {
		t.Errorf("formatSegment() = %q", got)
	}

	long := formatSegment(Segment{Language: "es", Text: strings.Repeat("á", 3000)})
	if n := len([]rune(long)); n != maxDiscordContent {
		t.Errorf("len(formatSegment(long)) = %d runes, want %d", n, maxDiscordContent)
	}
}
