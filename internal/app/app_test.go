package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	vars := baseEnv()
	vars["STT_PROVIDER"] = "manual"
	vars["DEFAULT_LANGUAGES"] = "es"
	vars["SETTINGS_FILE"] = filepath.Join(t.TempDir(), "settings.json")
	cfg, err := load(vars)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	return cfg
}

func TestNewWithoutDatabase(t *testing.T) {
	a, err := New(testConfig(t), zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/health = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	a.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/rooms/main/languages", strings.NewReader(`{"language":"fr"}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("request language = %d %s", rr.Code, rr.Body.String())
	}

	r, ok := a.Rooms().Get("main")
	if !ok {
		t.Fatal("room main should exist")
	}
	var codes []string
	for _, l := range r.Languages() {
		codes = append(codes, l.Code)
	}
	if got := strings.Join(codes, ","); got != "es,fr" {
		t.Errorf("languages = %s, want es,fr", got)
	}
}

func TestNewPersistsSettingsToFile(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/settings/llm", strings.NewReader(`{"context_sentences": 4}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("update = %d %s", rr.Code, rr.Body.String())
	}
	_ = a.Close(context.Background())

	// A fresh app picks up the saved settings.
	b, err := New(cfg, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Close(context.Background())

	rr = httptest.NewRecorder()
	b.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	var body struct {
		LLM struct {
			ContextSentences int `json:"context_sentences"`
		} `json:"llm"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.LLM.ContextSentences != 4 {
		t.Errorf("context_sentences = %d, want 4", body.LLM.ContextSentences)
	}
}

func TestNewRejectsBadCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.LanguagesJSON = "not json"
	if _, err := New(cfg, zerolog.New(io.Discard)); err == nil {
		t.Error("New() should fail on an invalid LANGUAGES_JSON")
	}
}
