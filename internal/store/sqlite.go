package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MrWong99/aura/internal/conversation"
)

const ddlSQLite = `
CREATE TABLE IF NOT EXISTS aura_state (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

// SQLite stores the state as one row in a local SQLite database. The pool is
// limited to a single connection; SQLite serialises writers anyway.
type SQLite struct {
	db  *sql.DB
	key string
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (or creates) the database at path in WAL mode.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("store: sqlite backend needs a path")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: sqlite: ping: %w", err)
	}
	if _, err := db.Exec(ddlSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: sqlite: migrate: %w", err)
	}
	return &SQLite{db: db, key: DefaultKey}, nil
}

func (s *SQLite) Load(ctx context.Context) (conversation.State, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM aura_state WHERE key = ?`, s.key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.NewState(), nil
	}
	if err != nil {
		return conversation.State{}, fmt.Errorf("store: sqlite: load: %w", err)
	}
	return decodeState([]byte(data))
}

func (s *SQLite) Save(ctx context.Context, st conversation.State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO aura_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		s.key, string(data),
	)
	if err != nil {
		return fmt.Errorf("store: sqlite: save: %w", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error { return s.db.Close() }
