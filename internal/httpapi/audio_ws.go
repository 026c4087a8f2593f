package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lukasbauer/livecaptions/internal/language"
	"github.com/lukasbauer/livecaptions/internal/room"
	"github.com/lukasbauer/livecaptions/internal/stt"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// controlMessage is a text frame on the audio socket.
type controlMessage struct {
	Event    string `json:"event"`
	Language string `json:"language,omitempty"`
	// Type and Text carry transcripts from clients that recognize speech
	// themselves.
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

type controlReply struct {
	Event    string `json:"event"`
	Status   string `json:"status"`
	Language string `json:"language,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// audioSession pumps one ingest socket into a recognizer stream.
type audioSession struct {
	id     string
	conn   *websocket.Conn
	room   *room.Room
	stream stt.Stream
	log    zerolog.Logger
}

// handleAudioWS accepts audio (binary frames) or transcripts (text frames)
// for one speaker of a room and runs a session on them until either side
// closes.
func (r *Router) handleAudioWS(w http.ResponseWriter, req *http.Request) {
	if r.recognizer == nil {
		r.log.Error().Msg("audio_ws: no recognizer configured")
		captureError(req, errors.New("speech recognition not configured"), "audio_ws: configuration error")
		http.Error(w, "speech recognition not configured", http.StatusServiceUnavailable)
		return
	}
	if r.rooms.IsDraining() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	rm, err := r.rooms.Room(req.PathValue("room"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg, err := r.sessionConfig(req, rm.SourceLanguage())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sessionID := req.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn().Err(err).Msg("audio_ws: upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	stream, err := r.recognizer.Open(ctx, cfg)
	if err != nil {
		r.log.Error().Err(err).Str("room", rm.Name()).Msg("audio_ws: recognizer open failed")
		captureError(req, err, "audio_ws: recognizer open failed")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "recognizer unavailable"))
		return
	}

	s := &audioSession{
		id:     sessionID,
		conn:   conn,
		room:   rm,
		stream: stream,
		log:    r.log.With().Str("room", rm.Name()).Str("session_id", sessionID).Logger(),
	}

	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- r.rooms.RunSession(ctx, rm.Name(), sessionID, stream)
		// Unblock the read loop when the session ends first.
		_ = conn.Close()
	}()

	s.log.Info().Msg("audio_ws: connection established")
	s.readLoop(ctx)

	// Closing the stream lets the session finish the events already received.
	_ = stream.Close()
	if err := <-sessionDone; err != nil {
		s.log.Warn().Err(err).Msg("audio_ws: session ended with error")
	}
	s.log.Info().Msg("audio_ws: connection closed")
}

func (r *Router) sessionConfig(req *http.Request, sourceLanguage string) (stt.SessionConfig, error) {
	q := req.URL.Query()
	cfg := stt.SessionConfig{
		Language:   sourceLanguage,
		Encoding:   r.cfg.AudioEncoding,
		SampleRate: r.cfg.AudioSampleRate,
		Channels:   1,
		Tuning:     r.settings.Current().STT,
	}
	if enc := q.Get("encoding"); enc != "" {
		cfg.Encoding = enc
	}
	if sr := q.Get("sample_rate"); sr != "" {
		n, err := strconv.Atoi(sr)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid sample_rate %q", sr)
		}
		cfg.SampleRate = n
	}
	return cfg, nil
}

func (s *audioSession) readLoop(ctx context.Context) {
	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Msg("audio_ws: client closed")
			} else if ctx.Err() == nil {
				s.log.Debug().Err(err).Msg("audio_ws: read error")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := s.stream.Write(ctx, msg); err != nil {
				s.log.Warn().Err(err).Msg("audio_ws: audio write failed")
				if errors.Is(err, stt.ErrNoAudio) {
					continue
				}
				return
			}
		case websocket.TextMessage:
			if stop := s.handleControl(ctx, msg); stop {
				return
			}
		}
	}
}

// handleControl processes a text frame and reports whether the client asked
// to stop.
func (s *audioSession) handleControl(ctx context.Context, msg []byte) bool {
	var cm controlMessage
	if err := json.Unmarshal(msg, &cm); err != nil {
		s.log.Debug().Err(err).Msg("audio_ws: failed to parse message")
		return false
	}

	switch cm.Event {
	case "captions_language":
		s.reply(s.requestLanguage(cm.Language))
	case "transcript":
		manual, ok := s.stream.(*stt.ManualStream)
		if !ok {
			s.reply(controlReply{Event: cm.Event, Status: "ignored", Reason: "stream takes audio"})
			return false
		}
		typ := stt.EventFinal
		if cm.Type == string(stt.EventInterim) {
			typ = stt.EventInterim
		}
		if err := manual.Push(ctx, stt.Event{Type: typ, Text: cm.Text}); err != nil {
			s.log.Debug().Err(err).Msg("audio_ws: transcript dropped")
		}
	case "stop":
		return true
	}
	return false
}

func (s *audioSession) requestLanguage(code string) controlReply {
	reply := controlReply{Event: "captions_language", Language: code}
	lang, added, err := s.room.RequestLanguage(code)
	switch {
	case errors.Is(err, room.ErrSourceLanguage):
		reply.Status, reply.Reason = "ignored", "source language"
	case errors.Is(err, language.ErrUnknown):
		reply.Status, reply.Reason = "ignored", "unsupported language"
	case err != nil:
		reply.Status, reply.Reason = "error", err.Error()
	default:
		reply.Status, reply.Language = "success", lang.Code
		if added {
			s.log.Info().Str("language", lang.Code).Msg("audio_ws: captions language added")
		}
	}
	return reply
}

func (s *audioSession) reply(v controlReply) {
	if err := s.conn.WriteJSON(v); err != nil {
		s.log.Debug().Err(err).Msg("audio_ws: reply failed")
	}
}
