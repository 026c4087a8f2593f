package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/lukasbauer/livecaptions/internal/broadcast"
	"github.com/lukasbauer/livecaptions/internal/language"
	"github.com/lukasbauer/livecaptions/internal/room"
	"github.com/lukasbauer/livecaptions/internal/settings"
	"github.com/lukasbauer/livecaptions/internal/stt"
)

const defaultServiceName = "live-translation-display"

type RouterConfig struct {
	ServiceName string

	// JWT authentication for settings writes. Empty disables the check.
	JWTSecret string

	// Audio format expected on /rooms/{room}/audio unless the client overrides it.
	AudioEncoding   string
	AudioSampleRate int

	// Per-display buffer before a slow display is dropped.
	DisplayBuffer int
}

type Router struct {
	cfg        RouterConfig
	log        zerolog.Logger
	settings   *settings.Store
	catalog    *language.Catalog
	rooms      *room.Manager
	registry   *broadcast.Registry
	recognizer stt.Recognizer
	mux        *http.ServeMux
}

// Deps are the services the HTTP API exposes.
type Deps struct {
	Settings   *settings.Store
	Catalog    *language.Catalog
	Rooms      *room.Manager
	Registry   *broadcast.Registry
	Recognizer stt.Recognizer
	Log        zerolog.Logger
}

func NewRouter(cfg RouterConfig, deps Deps) http.Handler {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	r := &Router{
		cfg:        cfg,
		log:        deps.Log.With().Str("component", "httpapi").Logger(),
		settings:   deps.Settings,
		catalog:    deps.Catalog,
		rooms:      deps.Rooms,
		registry:   deps.Registry,
		recognizer: deps.Recognizer,
		mux:        http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)
	r.mux.HandleFunc("GET /health", r.handleHealth)

	// Settings (writes require auth when a secret is configured)
	r.mux.HandleFunc("GET /api/settings", r.handleGetSettings)
	r.mux.HandleFunc("POST /api/settings", r.withAuth(r.handleUpdateSettings))
	r.mux.HandleFunc("POST /api/settings/stt", r.withAuth(r.handleUpdateSTT))
	r.mux.HandleFunc("POST /api/settings/llm", r.withAuth(r.handleUpdateLLM))

	// Languages
	r.mux.HandleFunc("GET /api/languages", r.handleListLanguages)
	r.mux.HandleFunc("GET /api/rooms/{room}/languages", r.handleRoomLanguages)
	r.mux.HandleFunc("POST /api/rooms/{room}/languages", r.handleRequestLanguage)

	// Audio ingest
	r.mux.HandleFunc("GET /rooms/{room}/audio", r.handleAudioWS)

	// Displays
	r.mux.HandleFunc("GET /display/ws", r.handleDisplayWS)
	r.mux.HandleFunc("GET /display/events", r.handleDisplaySSE)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.rooms != nil && r.rooms.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": r.cfg.ServiceName,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
