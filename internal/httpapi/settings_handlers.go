package httpapi

import (
	"encoding/json"
	"net/http"
)

const maxSettingsBody = 64 << 10

func (r *Router) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.settings.Current())
}

// handleUpdateSettings replaces the settings document. Fields missing from
// the body keep their current values.
func (r *Router) handleUpdateSettings(w http.ResponseWriter, req *http.Request) {
	next := r.settings.Current()
	if !r.decodeSettings(w, req, &next) {
		return
	}

	cur := r.settings.Update(req.Context(), next)
	r.logUpdate(req, "all")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"message":  "Settings updated successfully",
		"settings": cur,
	})
}

func (r *Router) handleUpdateSTT(w http.ResponseWriter, req *http.Request) {
	next := r.settings.Current().STT
	if !r.decodeSettings(w, req, &next) {
		return
	}

	cur := r.settings.UpdateSTT(req.Context(), next)
	r.logUpdate(req, "stt")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "STT settings updated",
		"stt":     cur,
	})
}

func (r *Router) handleUpdateLLM(w http.ResponseWriter, req *http.Request) {
	next := r.settings.Current().LLM
	if !r.decodeSettings(w, req, &next) {
		return
	}

	cur := r.settings.UpdateLLM(req.Context(), next)
	r.logUpdate(req, "llm")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "LLM settings updated",
		"llm":     cur,
	})
}

func (r *Router) decodeSettings(w http.ResponseWriter, req *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxSettingsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings: "+err.Error())
		return false
	}
	return true
}

func (r *Router) logUpdate(req *http.Request, section string) {
	ev := r.log.Info().Str("section", section)
	if c := claimsFrom(req.Context()); c != nil {
		ev = ev.Str("subject", c.Subject)
	}
	ev.Msg("settings: updated")
}
