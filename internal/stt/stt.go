// Package stt adapts streaming speech recognizers to transcript events.
package stt

import (
	"context"

	"github.com/lukasbauer/livecaptions/internal/settings"
)

// EventType tells interim hypotheses apart from settled results.
type EventType string

const (
	EventInterim EventType = "interim"
	EventFinal   EventType = "final"
)

// Event is one recognizer output.
type Event struct {
	Type       EventType
	Text       string
	Confidence float64 // 0-1, zero when the provider does not report it
}

// Stream is one live recognition session.
type Stream interface {
	// Write sends audio in the format agreed in SessionConfig.
	Write(ctx context.Context, audio []byte) error

	// Events returns a channel that receives recognizer events.
	Events() <-chan Event

	// Errors returns a channel that receives errors. Any error ends the stream.
	Errors() <-chan error

	// Close closes the connection to the provider.
	Close() error
}

// SessionConfig describes the audio and tuning of one stream.
type SessionConfig struct {
	Language   string // e.g., "en"
	Encoding   string // e.g., "linear16"
	SampleRate int    // e.g., 16000
	Channels   int
	Tuning     settings.STT
}

// Recognizer opens streams on a provider.
type Recognizer interface {
	Open(ctx context.Context, cfg SessionConfig) (Stream, error)
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Encoding == "" {
		c.Encoding = "linear16"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	return c
}
