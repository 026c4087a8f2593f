package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// EventType represents the type of pipeline event
type EventType string

const (
	EventSessionStarted       EventType = "session_started"
	EventSessionEnded         EventType = "session_ended"
	EventUnitEmitted          EventType = "unit_emitted"
	EventTranslatorAdded      EventType = "translator_added"
	EventTranslationCompleted EventType = "translation_completed"
	EventTranslationFailed    EventType = "translation_failed"
	EventSubscriberDropped    EventType = "subscriber_dropped"
)

const migration = `CREATE TABLE IF NOT EXISTS pipeline_events (
	id BIGSERIAL PRIMARY KEY,
	room TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// execer is the subset of pgxpool.Pool used by the logger.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Logger provides async event logging to the database.
// Events carry metadata only (languages, lengths, latencies), never transcript text.
type Logger struct {
	db execer
}

// New creates a new event logger. A nil db makes every call a no-op.
func New(db execer) *Logger {
	return &Logger{db: db}
}

// Migrate creates the events table if needed.
func (l *Logger) Migrate(ctx context.Context) error {
	if l == nil || l.db == nil {
		return nil
	}
	if _, err := l.db.Exec(ctx, migration); err != nil {
		return fmt.Errorf("migrate pipeline_events: %w", err)
	}
	return nil
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, room string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || room == "" {
		return nil // Silently skip if no DB or room
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO pipeline_events (room, event_type, event_data)
		VALUES ($1, $2, $3)
	`, room, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(room string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || room == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, room, eventType, data)
	}()
}
