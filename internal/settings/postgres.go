package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const migration = `CREATE TABLE IF NOT EXISTS app_settings (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	data JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// querier is the subset of pgxpool.Pool used here.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresPersister keeps the settings document in a single-row table.
type PostgresPersister struct {
	db querier
}

// NewPostgresPersister creates a PostgresPersister on db.
func NewPostgresPersister(db querier) *PostgresPersister {
	return &PostgresPersister{db: db}
}

// Migrate creates the settings table if needed.
func (p *PostgresPersister) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, migration); err != nil {
		return fmt.Errorf("migrate app_settings: %w", err)
	}
	return nil
}

// Load reads the saved settings.
func (p *PostgresPersister) Load(ctx context.Context) (Settings, error) {
	var data []byte
	err := p.db.QueryRow(ctx, `SELECT data FROM app_settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, ErrNotFound
	}
	if err != nil {
		return Settings{}, fmt.Errorf("query app_settings: %w", err)
	}

	s := Defaults()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse app_settings: %w", err)
	}
	return s, nil
}

// Save upserts the settings row.
func (p *PostgresPersister) Save(ctx context.Context, s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO app_settings (id, data, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, data)
	if err != nil {
		return fmt.Errorf("upsert app_settings: %w", err)
	}
	return nil
}
