package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const deepgramWSURL = "wss://api.deepgram.com/v1/listen"

// Deepgram accepts utterance_end_ms values of at least one second.
const minUtteranceEndMs = 1000

// DeepgramConfig holds configuration for the Deepgram recognizer.
type DeepgramConfig struct {
	APIKey      string
	Model       string // e.g., "nova-3"
	BaseURL     string // Optional, defaults to the hosted listen endpoint
	Endpointing int    // milliseconds of silence for endpointing, 0 for default
	Log         zerolog.Logger
}

// DeepgramRecognizer opens Deepgram streaming sessions.
type DeepgramRecognizer struct {
	cfg DeepgramConfig
}

// NewDeepgramRecognizer creates a recognizer backed by Deepgram.
func NewDeepgramRecognizer(cfg DeepgramConfig) *DeepgramRecognizer {
	if cfg.Model == "" {
		cfg.Model = "nova-3"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = deepgramWSURL
	}
	return &DeepgramRecognizer{cfg: cfg}
}

// listenURL builds the websocket URL for one session.
func (r *DeepgramRecognizer) listenURL(sc SessionConfig) (string, error) {
	u, err := url.Parse(r.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("model", r.cfg.Model)
	q.Set("language", sc.Language)
	q.Set("encoding", sc.Encoding)
	q.Set("sample_rate", strconv.Itoa(sc.SampleRate))
	q.Set("channels", strconv.Itoa(sc.Channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", strconv.FormatBool(sc.Tuning.PunctuationOverrides > 0))
	if r.cfg.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(r.cfg.Endpointing))
	}
	if ms := int(sc.Tuning.UtteranceEnd().Milliseconds()); ms > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(max(ms, minUtteranceEndMs)))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open connects a new streaming session.
func (r *DeepgramRecognizer) Open(ctx context.Context, sc SessionConfig) (Stream, error) {
	sc = sc.withDefaults()
	listen, err := r.listenURL(sc)
	if err != nil {
		return nil, err
	}

	// Set up headers with API key
	headers := http.Header{}
	if r.cfg.APIKey != "" {
		headers.Set("Authorization", "Token "+r.cfg.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listen, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	s := &deepgramStream{
		conn:   conn,
		events: make(chan Event, 100),
		errors: make(chan error, 10),
		done:   make(chan struct{}),
		log:    r.cfg.Log.With().Str("component", "deepgram").Logger(),
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

type deepgramStream struct {
	conn      *websocket.Conn
	events    chan Event
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	wg        sync.WaitGroup // Wait for readLoop to finish
	log       zerolog.Logger
}

// deepgramResponse represents a Deepgram WebSocket response.
type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

var errStreamClosed = errors.New("stt: stream is closed")

func (s *deepgramStream) Write(_ context.Context, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return errStreamClosed
	default:
	}

	return s.conn.WriteMessage(websocket.BinaryMessage, audio)
}

func (s *deepgramStream) Events() <-chan Event { return s.events }

func (s *deepgramStream) Errors() <-chan error { return s.errors }

func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		// Ask Deepgram to flush and end the stream
		s.mu.Lock()
		_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "CloseStream"}`))
		s.mu.Unlock()

		err = s.conn.Close()

		// Wait for readLoop to finish before closing channels
		s.wg.Wait()
		close(s.events)
		close(s.errors)
	})
	return err
}

// readLoop reads responses from Deepgram and sends them to the events channel.
func (s *deepgramStream) readLoop() {
	defer s.wg.Done()

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			case s.errors <- fmt.Errorf("deepgram read: %w", err):
			default:
			}
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			s.log.Warn().Err(err).Msg("deepgram: failed to parse response")
			continue
		}

		// Skip metadata and utterance-end messages
		if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
			continue
		}

		alt := resp.Channel.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}

		ev := Event{Type: EventInterim, Text: alt.Transcript, Confidence: alt.Confidence}
		if resp.IsFinal {
			ev.Type = EventFinal
		}

		select {
		case <-s.done:
			return
		case s.events <- ev:
		}
	}
}
