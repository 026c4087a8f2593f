package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lukasbauer/livecaptions/internal/stt"
)

// ErrDraining is returned once the manager stops accepting sessions.
var ErrDraining = errors.New("room: manager is draining")

// Manager tracks rooms by name and the sessions running in them. Once
// draining, new sessions and rooms are rejected while running sessions finish.
//
// mu makes the draining check and wg.Add atomic in Acquire, so StartDraining
// followed by Wait cannot miss a session that was admitted concurrently.
type Manager struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu       sync.Mutex
	rooms    map[string]*Room
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
}

// NewManager creates a Manager whose rooms share cfg and deps.
func NewManager(cfg Config, deps Deps) *Manager {
	return &Manager{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Log.With().Str("component", "room").Logger(),
		rooms: make(map[string]*Room),
	}
}

// Room returns the room called name, creating it on first use.
func (m *Manager) Room(name string) (*Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("room: empty name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[name]; ok {
		return r, nil
	}
	if m.draining {
		return nil, ErrDraining
	}
	r := newRoom(name, m.cfg, m.deps)
	m.rooms[name] = r
	m.log.Info().Str("room", name).Msg("room: created")
	return r, nil
}

// Get returns an existing room without creating it.
func (m *Manager) Get(name string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[strings.TrimSpace(name)]
	return r, ok
}

// Rooms returns the sorted names of all rooms.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.rooms))
	for name := range m.rooms {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)
	return names
}

// Acquire reserves a session slot. It returns false while draining.
func (m *Manager) Acquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return false
	}
	m.wg.Add(1)
	m.count.Add(1)
	return true
}

// Release frees a slot taken by a successful Acquire.
func (m *Manager) Release() {
	m.count.Add(-1)
	m.wg.Done()
}

// RunSession runs stream as a session of the named room.
func (m *Manager) RunSession(ctx context.Context, roomName, sessionID string, stream stt.Stream) error {
	if !m.Acquire() {
		return ErrDraining
	}
	defer m.Release()

	r, err := m.Room(roomName)
	if err != nil {
		return err
	}
	return r.RunSession(ctx, sessionID, stream)
}

// StartDraining stops new sessions from being admitted.
func (m *Manager) StartDraining() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draining = true
}

// IsDraining reports whether the manager is draining.
func (m *Manager) IsDraining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// ActiveSessions returns the number of running sessions.
func (m *Manager) ActiveSessions() int64 {
	return m.count.Load()
}

// Wait blocks until every admitted session has been released or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	return waitGroup(ctx, &m.wg)
}

// Close drains the manager and closes every room.
func (m *Manager) Close(ctx context.Context) error {
	m.StartDraining()
	if err := m.Wait(ctx); err != nil {
		return fmt.Errorf("wait for sessions: %w", err)
	}

	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	var errs []error
	for _, r := range rooms {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close room %s: %w", r.name, err))
		}
	}
	return errors.Join(errs...)
}
