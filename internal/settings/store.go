package settings

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned by a Persister that has nothing saved yet.
var ErrNotFound = errors.New("settings: not found")

// Persister loads and saves the settings document.
type Persister interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// Store is the process-wide settings Provider. It keeps the last known
// settings in memory so readers never wait on the Persister.
type Store struct {
	persister Persister
	log       zerolog.Logger

	mu  sync.RWMutex
	cur Settings
}

// NewStore creates a Store holding Defaults. A nil persister keeps settings
// in memory only.
func NewStore(p Persister, log zerolog.Logger) *Store {
	return &Store{
		persister: p,
		log:       log.With().Str("component", "settings").Logger(),
		cur:       Defaults(),
	}
}

// Load replaces the in-memory settings with the persisted ones. Missing or
// unreadable settings leave the current value in place.
func (s *Store) Load(ctx context.Context) Settings {
	if s.persister == nil {
		return s.Current()
	}

	loaded, err := s.persister.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		s.log.Info().Msg("settings: nothing saved, using defaults")
		return s.Current()
	case err != nil:
		s.log.Warn().Err(err).Msg("settings: load failed, keeping last known")
		return s.Current()
	}

	loaded = loaded.Normalize()
	s.mu.Lock()
	s.cur = loaded
	s.mu.Unlock()
	s.log.Info().Interface("settings", loaded).Msg("settings: loaded")
	return loaded
}

// Current implements Provider.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update replaces all settings.
func (s *Store) Update(ctx context.Context, next Settings) Settings {
	s.mu.Lock()
	s.cur = next.Normalize()
	cur := s.cur
	s.mu.Unlock()

	s.save(ctx, cur)
	return cur
}

// UpdateSTT replaces the recognizer settings.
func (s *Store) UpdateSTT(ctx context.Context, stt STT) STT {
	s.mu.Lock()
	s.cur.STT = stt.Normalize()
	cur := s.cur
	s.mu.Unlock()

	s.save(ctx, cur)
	return cur.STT
}

// UpdateLLM replaces the translator settings.
func (s *Store) UpdateLLM(ctx context.Context, llm LLM) LLM {
	s.mu.Lock()
	s.cur.LLM = llm.Normalize()
	cur := s.cur
	s.mu.Unlock()

	s.save(ctx, cur)
	return cur.LLM
}

// save persists cur. Failures are logged; the in-memory value stays applied.
func (s *Store) save(ctx context.Context, cur Settings) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(ctx, cur); err != nil {
		s.log.Warn().Err(err).Msg("settings: save failed")
	}
}
