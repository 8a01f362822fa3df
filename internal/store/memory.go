package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MrWong99/aura/internal/conversation"
)

// Memory keeps the state as encoded JSON in process memory. Encoding on save
// gives the same copy semantics as the durable backends.
type Memory struct {
	mu   sync.RWMutex
	data []byte

	saves int
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(_ context.Context) (conversation.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return conversation.NewState(), nil
	}
	return decodeState(m.data)
}

func (m *Memory) Save(_ context.Context, s conversation.State) error {
	data, err := encodeState(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.saves++
	return nil
}

// Saves returns the number of successful Save calls.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func encodeState(s conversation.State) ([]byte, error) {
	s.Normalize()
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("store: encode state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (conversation.State, error) {
	var s conversation.State
	if err := json.Unmarshal(data, &s); err != nil {
		return conversation.State{}, fmt.Errorf("store: decode state: %w", err)
	}
	s.Normalize()
	return s, nil
}
