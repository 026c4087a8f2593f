// Package settings holds the runtime-tunable pipeline settings.
package settings

import (
	"math"
	"strings"
	"time"
)

// STT tunes the recognizer and the remainder flush timer.
type STT struct {
	// MaxDelay is how long the recognizer may wait before finalizing, in seconds.
	MaxDelay float64 `json:"max_delay"`
	// PunctuationOverrides is the recognizer punctuation sensitivity, 0..1.
	PunctuationOverrides float64 `json:"punctuation_overrides"`
	// FlushDelay is how long an unterminated remainder waits before it is
	// translated anyway, in seconds.
	FlushDelay float64 `json:"flush_delay"`
}

// LLM tunes the translators.
type LLM struct {
	ContextEnabled bool `json:"context_enabled"`
	// ContextSentences is the number of (source, translation) pairs kept as
	// conversation history.
	ContextSentences int    `json:"context_sentences"`
	CustomPrompt     string `json:"custom_prompt"`
}

// Settings is the full settings document.
type Settings struct {
	STT STT `json:"stt"`
	LLM LLM `json:"llm"`
}

// Provider exposes the current settings. Implementations must be safe for
// concurrent use and must never block on external systems.
type Provider interface {
	Current() Settings
}

// Static is a Provider that always returns the same settings.
type Static Settings

// Current implements Provider.
func (s Static) Current() Settings { return Settings(s) }

const (
	minMaxDelay   = 0.7
	maxMaxDelay   = 10.0
	minFlushDelay = 0.2
	maxFlushDelay = 30.0
	maxContext    = 100
	maxPromptLen  = 4000
)

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		STT: DefaultSTT(),
		LLM: DefaultLLM(),
	}
}

// DefaultSTT returns the built-in recognizer settings.
func DefaultSTT() STT {
	return STT{MaxDelay: 5.0, PunctuationOverrides: 0.3, FlushDelay: 2.0}
}

// DefaultLLM returns the built-in translator settings.
func DefaultLLM() LLM {
	return LLM{ContextEnabled: true, ContextSentences: 10}
}

// Normalize clamps every field into its accepted range.
func (s Settings) Normalize() Settings {
	s.STT = s.STT.Normalize()
	s.LLM = s.LLM.Normalize()
	return s
}

// Normalize clamps the recognizer settings.
func (s STT) Normalize() STT {
	d := DefaultSTT()
	s.MaxDelay = clamp(s.MaxDelay, minMaxDelay, maxMaxDelay, d.MaxDelay)
	s.PunctuationOverrides = clamp(s.PunctuationOverrides, 0, 1, d.PunctuationOverrides)
	s.FlushDelay = clamp(s.FlushDelay, minFlushDelay, maxFlushDelay, d.FlushDelay)
	return s
}

// Normalize clamps the translator settings.
func (l LLM) Normalize() LLM {
	if l.ContextSentences < 0 {
		l.ContextSentences = 0
	}
	if l.ContextSentences > maxContext {
		l.ContextSentences = maxContext
	}
	l.CustomPrompt = strings.TrimSpace(l.CustomPrompt)
	if len(l.CustomPrompt) > maxPromptLen {
		l.CustomPrompt = l.CustomPrompt[:maxPromptLen]
	}
	return l
}

// DebounceDelay is the remainder flush delay as a duration.
func (s STT) DebounceDelay() time.Duration {
	return time.Duration(s.FlushDelay * float64(time.Second))
}

// UtteranceEnd is MaxDelay as a duration.
func (s STT) UtteranceEnd() time.Duration {
	return time.Duration(s.MaxDelay * float64(time.Second))
}

func clamp(v, lo, hi, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return math.Min(math.Max(v, lo), hi)
}
