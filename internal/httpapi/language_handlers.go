package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lukasbauer/livecaptions/internal/language"
	"github.com/lukasbauer/livecaptions/internal/room"
)

func (r *Router) handleListLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"languages": r.catalog.All(),
	})
}

func (r *Router) handleRoomLanguages(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("room")
	rm, ok := r.rooms.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":            rm.Name(),
		"source_language": rm.SourceLanguage(),
		"languages":       rm.Languages(),
	})
}

type languageRequest struct {
	Language string `json:"language"`
}

// handleRequestLanguage starts captions in a language for a room, creating
// the room if needed. Requests for the source language or an unknown code
// are answered with the reason and change nothing.
func (r *Router) handleRequestLanguage(w http.ResponseWriter, req *http.Request) {
	var body languageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 4<<10)).Decode(&body); err != nil || body.Language == "" {
		writeError(w, http.StatusBadRequest, "language is required")
		return
	}

	rm, err := r.rooms.Room(req.PathValue("room"))
	if err != nil {
		if errors.Is(err, room.ErrDraining) {
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	lang, added, err := rm.RequestLanguage(body.Language)
	switch {
	case errors.Is(err, room.ErrSourceLanguage):
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ignored",
			"reason": "source language",
		})
	case errors.Is(err, language.ErrUnknown):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"status": "ignored",
			"reason": "unsupported language",
		})
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		status := http.StatusOK
		if added {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{
			"status":   "success",
			"added":    added,
			"language": lang,
		})
	}
}
