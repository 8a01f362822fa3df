package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Options selects and configures a backend for [Open].
type Options struct {
	// Backend is one of "memory", "file", "postgres" or "sqlite". Empty
	// selects "memory" when DSN and Path are empty, "postgres" when DSN is
	// set, and "file" when only Path is set.
	Backend string

	// DSN is the PostgreSQL connection string.
	DSN string

	// Path is the directory of the file backend or the database file of the
	// sqlite backend.
	Path string
}

// Open creates the configured backend and wraps it with [Serialized].
func Open(ctx context.Context, opts Options) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" {
		switch {
		case opts.DSN != "":
			backend = "postgres"
		case opts.Path != "":
			backend = "file"
		default:
			backend = "memory"
		}
	}

	var (
		s   Store
		err error
	)
	switch backend {
	case "memory":
		s = NewMemory()
	case "file":
		s, err = NewFile(opts.Path)
	case "postgres":
		s, err = NewPostgres(ctx, opts.DSN)
	case "sqlite":
		s, err = NewSQLite(opts.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	if backend == "memory" {
		slog.Warn("store: using in-memory backend, conversation state is lost on restart")
	}
	return Serialized(s), nil
}
