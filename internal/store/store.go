// Package store persists the Aura [conversation.State] as a single record.
//
// Every backend stores the whole state under one well-known key and every
// Save fully overwrites it; there are no partial writes and no migrations of
// the record shape. [Serialized] wraps a backend so concurrent Save calls
// never race each other.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/aura/internal/conversation"
)

// DefaultKey is the key the state record is stored under.
const DefaultKey = "aura_user_state"

// ErrUnknownBackend is returned by [Open] for an unrecognised backend name.
var ErrUnknownBackend = errors.New("store: unknown backend")

// Store loads and saves the conversation state.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the stored state, or [conversation.NewState] when nothing
	// has been stored yet.
	Load(ctx context.Context) (conversation.State, error)

	// Save overwrites the stored state with s.
	Save(ctx context.Context, s conversation.State) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Serialized wraps s so that Load and Save calls are executed one at a time.
func Serialized(s Store) Store {
	if _, ok := s.(*serialized); ok {
		return s
	}
	return &serialized{inner: s}
}

type serialized struct {
	mu    sync.Mutex
	inner Store
}

func (s *serialized) Load(ctx context.Context) (conversation.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Load(ctx)
}

func (s *serialized) Save(ctx context.Context, st conversation.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Save(ctx, st)
}

func (s *serialized) Ping(ctx context.Context) error { return s.inner.Ping(ctx) }

func (s *serialized) Close() error { return s.inner.Close() }
