package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MrWong99/aura/internal/conversation"
)

// File stores the state as <dir>/<key>.json. Saves write a temporary file in
// the same directory and rename it over the target, so a crash mid-write never
// leaves a truncated record.
type File struct {
	path string
}

var _ Store = (*File)(nil)

// NewFile returns a File store rooted at dir, creating dir if needed.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("store: file backend needs a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
	}
	return &File{path: filepath.Join(dir, DefaultKey+".json")}, nil
}

// Path returns the record's file path.
func (f *File) Path() string { return f.path }

func (f *File) Load(_ context.Context) (conversation.State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return conversation.NewState(), nil
	}
	if err != nil {
		return conversation.State{}, fmt.Errorf("store: read %s: %w", f.path, err)
	}
	return decodeState(data)
}

func (f *File) Save(_ context.Context, s conversation.State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".aura-state-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("store: replace %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Ping(context.Context) error {
	_, err := os.Stat(filepath.Dir(f.path))
	return err
}

func (f *File) Close() error { return nil }
