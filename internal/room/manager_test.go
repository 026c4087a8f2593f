package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lukasbauer/livecaptions/internal/stt"
)

func TestManager_RoomIsCreatedOnce(t *testing.T) {
	f := newFixture(t, echoClient{})
	m := NewManager(Config{SourceLanguage: "en"}, f.deps)

	var wg sync.WaitGroup
	rooms := make([]*Room, 8)
	for i := range rooms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := m.Room("lobby")
			if err != nil {
				t.Errorf("Room() error = %v", err)
			}
			rooms[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range rooms[1:] {
		if r != rooms[0] {
			t.Fatal("Room() returned different rooms for the same name")
		}
	}
	if got := m.Rooms(); len(got) != 1 || got[0] != "lobby" {
		t.Errorf("Rooms() = %v, want [lobby]", got)
	}
	if _, err := m.Room("  "); err == nil {
		t.Error("Room() with blank name should fail")
	}
	if _, ok := m.Get("other"); ok {
		t.Error("Get() should not create rooms")
	}
}

func TestManager_AcquireAndRelease(t *testing.T) {
	f := newFixture(t, echoClient{})
	m := NewManager(Config{SourceLanguage: "en"}, f.deps)

	if !m.Acquire() {
		t.Fatal("Acquire() should succeed before draining")
	}
	if m.ActiveSessions() != 1 {
		t.Errorf("ActiveSessions() = %d, want 1", m.ActiveSessions())
	}

	m.StartDraining()
	if !m.IsDraining() {
		t.Error("IsDraining() should be true after StartDraining()")
	}
	if m.Acquire() {
		t.Error("Acquire() should fail while draining")
	}

	waited := make(chan error, 1)
	go func() { waited <- m.Wait(context.Background()) }()

	select {
	case <-waited:
		t.Fatal("Wait() returned with a session still active")
	case <-time.After(50 * time.Millisecond):
	}

	m.Release()
	select {
	case err := <-waited:
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after Release()")
	}
	if m.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions() = %d, want 0", m.ActiveSessions())
	}
}

func TestManager_WaitHonoursContext(t *testing.T) {
	f := newFixture(t, echoClient{})
	m := NewManager(Config{SourceLanguage: "en"}, f.deps)
	m.Acquire()
	defer m.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestManager_RunSessionAndClose(t *testing.T) {
	f := newFixture(t, echoClient{})
	m := NewManager(Config{SourceLanguage: "en", DefaultLanguages: []string{"fr"}}, f.deps)

	stream := stt.NewManualStream()
	push(t, stream, stt.EventFinal, "Welcome everyone.")
	stream.Close()

	if err := m.RunSession(context.Background(), "lobby", "s1", stream); err != nil {
		t.Fatalf("RunSession() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := f.sink.final("fr"); len(got) != 1 || got[0] != "T:Welcome everyone." {
		t.Errorf("fr segments = %q", got)
	}
	if err := m.RunSession(context.Background(), "lobby", "s2", stt.NewManualStream()); !errors.Is(err, ErrDraining) {
		t.Errorf("RunSession() after Close error = %v, want ErrDraining", err)
	}
	if _, err := m.Room("new"); !errors.Is(err, ErrDraining) {
		t.Errorf("Room() after Close error = %v, want ErrDraining", err)
	}
}
