package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/aura/internal/conversation"
)

const ddlPostgres = `
CREATE TABLE IF NOT EXISTS aura_state (
    key        TEXT        PRIMARY KEY,
    value      JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores the state as one JSONB row keyed by [DefaultKey].
type Postgres struct {
	pool *pgxpool.Pool
	key  string
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to dsn, verifies the connection and creates the state
// table if it does not exist.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlPostgres); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres: migrate: %w", err)
	}
	return &Postgres{pool: pool, key: DefaultKey}, nil
}

func (p *Postgres) Load(ctx context.Context) (conversation.State, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM aura_state WHERE key = $1`, p.key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.NewState(), nil
	}
	if err != nil {
		return conversation.State{}, fmt.Errorf("store: postgres: load: %w", err)
	}
	return decodeState(data)
}

func (p *Postgres) Save(ctx context.Context, s conversation.State) error {
	data, err := encodeState(s)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO aura_state (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		p.key, data,
	)
	if err != nil {
		return fmt.Errorf("store: postgres: save: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
