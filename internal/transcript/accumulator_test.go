package transcript

import (
	"reflect"
	"testing"
)

func texts(units []Unit) []string {
	var out []string
	for _, u := range units {
		out = append(out, u.Text)
	}
	return out
}

func TestAccumulator_ExtensionEmitsOnce(t *testing.T) {
	acc := NewAccumulator("en", 0)

	got := acc.OnFinalTranscript("Hello")
	if len(got.Complete) != 0 {
		t.Errorf("OnFinalTranscript(Hello) complete = %q, want none", texts(got.Complete))
	}
	if !got.RemainderUpdated {
		t.Error("OnFinalTranscript(Hello) should update the remainder")
	}
	if acc.Remainder() != "Hello" {
		t.Errorf("Remainder() = %q, want %q", acc.Remainder(), "Hello")
	}

	got = acc.OnFinalTranscript("Hello world.")
	if want := []string{"Hello world."}; !reflect.DeepEqual(texts(got.Complete), want) {
		t.Errorf("OnFinalTranscript(Hello world.) complete = %q, want %q", texts(got.Complete), want)
	}
	if !got.Complete[0].IsFinalSentence {
		t.Error("sentence unit should be marked final")
	}
	if got.Complete[0].SourceLanguage != "en" {
		t.Errorf("SourceLanguage = %q, want en", got.Complete[0].SourceLanguage)
	}
	if acc.Remainder() != "" {
		t.Errorf("Remainder() = %q, want empty", acc.Remainder())
	}
}

func TestAccumulator_DuplicateSuppression(t *testing.T) {
	acc := NewAccumulator("en", 0)

	first := acc.OnFinalTranscript("Good morning.")
	if len(first.Complete) != 1 {
		t.Fatalf("first call complete = %d units, want 1", len(first.Complete))
	}

	second := acc.OnFinalTranscript("  Good morning.  ")
	if !second.Ignored {
		t.Error("repeated transcript should be ignored")
	}
	if len(second.Complete) != 0 || second.RemainderUpdated {
		t.Errorf("repeated transcript produced output: %+v", second)
	}
}

func TestAccumulator_EmptyIgnored(t *testing.T) {
	acc := NewAccumulator("en", 0)
	for _, in := range []string{"", "   ", "\n"} {
		if got := acc.OnFinalTranscript(in); !got.Ignored {
			t.Errorf("OnFinalTranscript(%q) should be ignored", in)
		}
	}
}

func TestAccumulator_MergeCases(t *testing.T) {
	tests := []struct {
		name          string
		maxWords      int
		inputs        []string
		wantComplete  []string
		wantFinal     []bool
		wantRemainder string
	}{
		{
			name:          "substring revision replaces buffer",
			inputs:        []string{"world", "hello world again"},
			wantRemainder: "hello world again",
		},
		{
			name:          "single word continues buffer",
			inputs:        []string{"I think", "so"},
			wantRemainder: "I think so",
		},
		{
			name:          "unrelated utterance flushes buffer",
			inputs:        []string{"I think", "Something else entirely"},
			wantComplete:  []string{"I think"},
			wantFinal:     []bool{false},
			wantRemainder: "Something else entirely",
		},
		{
			name:          "flush then new sentence",
			inputs:        []string{"I think", "The weather is nice. And"},
			wantComplete:  []string{"I think", "The weather is nice."},
			wantFinal:     []bool{false, true},
			wantRemainder: "And",
		},
		{
			name:          "wider continuation threshold",
			maxWords:      3,
			inputs:        []string{"I think", "it is fine"},
			wantRemainder: "I think it is fine",
		},
		{
			name:          "continuation completes a sentence",
			inputs:        []string{"See you", "tomorrow."},
			wantComplete:  []string{"See you tomorrow."},
			wantFinal:     []bool{true},
			wantRemainder: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator("en", tt.maxWords)
			var last UnitsReady
			for _, in := range tt.inputs {
				last = acc.OnFinalTranscript(in)
			}
			if got := texts(last.Complete); !reflect.DeepEqual(got, tt.wantComplete) {
				t.Errorf("complete = %q, want %q", got, tt.wantComplete)
			}
			for i, u := range last.Complete {
				if i < len(tt.wantFinal) && u.IsFinalSentence != tt.wantFinal[i] {
					t.Errorf("complete[%d].IsFinalSentence = %v, want %v", i, u.IsFinalSentence, tt.wantFinal[i])
				}
			}
			if acc.Remainder() != tt.wantRemainder {
				t.Errorf("Remainder() = %q, want %q", acc.Remainder(), tt.wantRemainder)
			}
		})
	}
}

func TestAccumulator_RemainderUnchanged(t *testing.T) {
	acc := NewAccumulator("en", 0)
	got := acc.OnFinalTranscript("Done.")
	if got.RemainderUpdated {
		t.Error("remainder stayed empty, RemainderUpdated should be false")
	}
}

func TestAccumulator_FlushRemainder(t *testing.T) {
	acc := NewAccumulator("ar", 0)

	if _, ok := acc.FlushRemainder(); ok {
		t.Error("FlushRemainder() on empty buffer should report false")
	}

	acc.OnFinalTranscript("مرحبا")
	unit, ok := acc.FlushRemainder()
	if !ok {
		t.Fatal("FlushRemainder() should report true")
	}
	if unit.Text != "مرحبا" || unit.IsFinalSentence || unit.SourceLanguage != "ar" {
		t.Errorf("FlushRemainder() = %+v", unit)
	}
	if acc.Remainder() != "" {
		t.Errorf("Remainder() = %q, want empty after flush", acc.Remainder())
	}
}

func TestAccumulator_FlushedTextNotRepeated(t *testing.T) {
	tests := []struct {
		name    string
		lang    string
		flushed string
		next    string
		want    []string
	}{
		{name: "continued after space", lang: "ar", flushed: "مرحبا", next: "مرحبا كيف حالك؟", want: []string{"كيف حالك؟"}},
		{name: "continued after terminator", lang: "en", flushed: "Hi", next: "Hi. How are you?", want: []string{"How are you?"}},
		{name: "same word only", lang: "en", flushed: "Hi", next: "Hi.", want: nil},
		{name: "longer word kept whole", lang: "en", flushed: "Hi", next: "History is long.", want: []string{"History is long."}},
		{name: "unrelated text", lang: "en", flushed: "Good", next: "Morning all.", want: []string{"Morning all."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator(tt.lang, 0)
			acc.OnFinalTranscript(tt.flushed)
			if _, ok := acc.FlushRemainder(); !ok {
				t.Fatalf("FlushRemainder() after %q reported nothing buffered", tt.flushed)
			}

			got := acc.OnFinalTranscript(tt.next)
			if !reflect.DeepEqual(texts(got.Complete), tt.want) {
				t.Errorf("complete = %q, want %q", texts(got.Complete), tt.want)
			}
			if acc.Remainder() != "" {
				t.Errorf("Remainder() = %q, want empty", acc.Remainder())
			}
		})
	}
}

func TestAccumulator_RemainderUpdated(t *testing.T) {
	acc := NewAccumulator("en", 0)

	if got := acc.OnFinalTranscript("Done."); got.RemainderUpdated {
		t.Error("a transcript made of whole sentences should leave the remainder unchanged")
	}
	if got := acc.OnFinalTranscript("Next"); !got.RemainderUpdated {
		t.Error("a new unterminated tail should update the remainder")
	}
	if got := acc.OnFinalTranscript("Next one."); !got.RemainderUpdated {
		t.Error("completing the tail should update the remainder")
	}
}
