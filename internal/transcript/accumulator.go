package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultContinuationMaxWords is the largest final transcript that is glued
// onto an unrelated buffer instead of flushing it.
const DefaultContinuationMaxWords = 1

// UnitsReady is the outcome of feeding one final transcript to an Accumulator.
type UnitsReady struct {
	Complete []Unit
	// RemainderUpdated reports whether the unterminated tail changed. The
	// session restarts its flush timer on every transcript that is not
	// Ignored, so it only matters to callers that track the tail itself.
	RemainderUpdated bool
	// Ignored is set for empty and repeated transcripts; nothing else changed.
	Ignored bool
}

// Accumulator merges successive final transcripts of one recognizer session
// into a working buffer and cuts complete sentences out of it.
//
// An Accumulator is not safe for concurrent use; it belongs to the session
// task that reads the recognizer stream.
type Accumulator struct {
	language             string
	continuationMaxWords int

	buffer    string
	lastFinal string
	// committed holds remainder text already emitted by FlushRemainder so a
	// later revision that repeats it is not translated twice.
	committed string
}

// NewAccumulator creates an Accumulator for text in the given source language.
// continuationMaxWords <= 0 selects DefaultContinuationMaxWords.
func NewAccumulator(language string, continuationMaxWords int) *Accumulator {
	if continuationMaxWords <= 0 {
		continuationMaxWords = DefaultContinuationMaxWords
	}
	return &Accumulator{
		language:             language,
		continuationMaxWords: continuationMaxWords,
	}
}

// Remainder returns the buffered text that has not been emitted yet.
func (a *Accumulator) Remainder() string {
	return a.buffer
}

// OnFinalTranscript merges a final transcript into the buffer and returns the
// sentences that became complete.
//
// Merge rules, first match wins:
//  1. the transcript extends the buffer: replace the buffer
//  2. the transcript contains the buffer: replace the buffer
//  3. the transcript is a short fragment: append it to the buffer
//  4. anything else: flush the buffer, then start over with the transcript
func (a *Accumulator) OnFinalTranscript(text string) UnitsReady {
	t := strings.TrimSpace(text)
	if t == "" || t == a.lastFinal {
		return UnitsReady{Ignored: true}
	}
	a.lastFinal = t

	if a.committed != "" {
		rest, ok := stripCommitted(t, a.committed)
		a.committed = ""
		if ok {
			if rest == "" {
				return UnitsReady{}
			}
			t = rest
		}
	}

	prev := a.buffer
	b := strings.TrimSpace(a.buffer)

	var out []Unit
	switch {
	case strings.HasPrefix(t, b):
		a.buffer = t
	case strings.Contains(t, b):
		a.buffer = t
	case b != "" && wordCount(t) <= a.continuationMaxWords:
		a.buffer = b + " " + t
	default:
		out = append(out, a.flush()...)
		a.buffer = t
	}

	sentences, rest := Segment(a.buffer)
	for _, s := range sentences {
		out = append(out, a.unit(s, true))
	}
	a.buffer = rest

	return UnitsReady{
		Complete:         out,
		RemainderUpdated: rest != prev,
	}
}

// FlushRemainder empties the buffer and returns it as an unterminated unit.
// It reports false when there is nothing buffered.
func (a *Accumulator) FlushRemainder() (Unit, bool) {
	text := strings.TrimSpace(a.buffer)
	a.buffer = ""
	if text == "" {
		return Unit{}, false
	}
	a.committed = text
	return a.unit(text, false), true
}

// flush segments the current buffer and emits everything in it, including an
// unterminated tail.
func (a *Accumulator) flush() []Unit {
	sentences, rest := Segment(a.buffer)
	a.buffer = ""

	out := make([]Unit, 0, len(sentences)+1)
	for _, s := range sentences {
		out = append(out, a.unit(s, true))
	}
	if rest != "" {
		out = append(out, a.unit(rest, false))
	}
	return out
}

// stripCommitted removes already flushed text from the start of t. The prefix
// only counts when it ends on a word boundary, so "Hi" never eats the start
// of "History". Sentence terminators following the prefix go with it.
func stripCommitted(t, committed string) (string, bool) {
	if !strings.HasPrefix(t, committed) {
		return t, false
	}
	rest := t[len(committed):]
	if rest == "" {
		return "", true
	}
	if r, _ := utf8.DecodeRuneInString(rest); !unicode.IsSpace(r) && !isTerminator(r) {
		return t, false
	}
	return strings.TrimSpace(strings.TrimLeftFunc(rest, func(r rune) bool {
		return unicode.IsSpace(r) || isTerminator(r)
	})), true
}

func (a *Accumulator) unit(text string, final bool) Unit {
	return Unit{Text: text, SourceLanguage: a.language, IsFinalSentence: final}
}

func isTerminator(r rune) bool {
	return strings.ContainsRune(".!?؟", r)
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
