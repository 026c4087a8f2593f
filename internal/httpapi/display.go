package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lukasbauer/livecaptions/internal/broadcast"
)

const (
	displayWriteWait  = 10 * time.Second
	displayPongWait   = 60 * time.Second
	displayPingPeriod = displayPongWait * 9 / 10
	sseKeepAlive      = 30 * time.Second
)

// displayClient is a registry subscriber backed by an outbox. A display that
// falls behind has its outbox closed so the writer hangs up.
type displayClient struct {
	*broadcast.Outbox
}

func newDisplayClient(prefix string, size int) displayClient {
	return displayClient{broadcast.NewOutbox(prefix+"_"+uuid.NewString(), size)}
}

// Send implements broadcast.Subscriber.
func (c displayClient) Send(msg []byte) error {
	err := c.Outbox.Send(msg)
	if errors.Is(err, broadcast.ErrSlowSubscriber) {
		c.Outbox.Close()
	}
	return err
}

// handleDisplayWS streams broadcast events to a caption display over a
// websocket. Incoming frames are discarded; reading only detects the close.
func (r *Router) handleDisplayWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn().Err(err).Msg("display_ws: upgrade failed")
		return
	}

	client := newDisplayClient("WS", r.cfg.DisplayBuffer)
	r.registry.Subscribe(client)
	log := r.log.With().Str("subscriber", client.ID()).Logger()
	log.Debug().Msg("display_ws: connected")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(4 << 10)
		_ = conn.SetReadDeadline(time.Now().Add(displayPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(displayPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(displayPingPeriod)
	defer func() {
		ping.Stop()
		r.registry.Unsubscribe(client.ID())
		client.Close()
		_ = conn.Close()
		log.Debug().Msg("display_ws: disconnected")
	}()

	for {
		select {
		case <-readDone:
			return
		case msg, ok := <-client.C():
			_ = conn.SetWriteDeadline(time.Now().Add(displayWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(displayWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleDisplaySSE streams broadcast events as server-sent events.
func (r *Router) handleDisplaySSE(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// SSE connections are long-lived and must outlive the server write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		r.log.Debug().Err(err).Msg("display_sse: could not disable write deadline")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := newDisplayClient("SSE", r.cfg.DisplayBuffer)
	r.registry.Subscribe(client)
	defer func() {
		r.registry.Unsubscribe(client.ID())
		client.Close()
	}()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := req.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.C():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			_, _ = fmt.Fprintf(w, ": keepalive %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}
