package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/aura/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  llm:
    name: gemini
  tts:
    name: gemini
persona:
  temperature: 0.8
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  llm:
    name: gemini
  tts:
    name: gemini
persona:
  temperature: 0.4
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// writeFile writes content and pushes the mtime forward so the watcher sees
// a change even on filesystems with coarse timestamps.
func writeFile(t *testing.T, path, content string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
	mt := time.Now().Add(-age)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "aura.yaml")
	writeFile(t, cfgPath, watcherValidYAML, time.Hour)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "aura.yaml")
	writeFile(t, cfgPath, watcherInvalidYAML, time.Hour)

	if _, err := config.NewWatcher(cfgPath, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "aura.yaml")
	writeFile(t, cfgPath, watcherValidYAML, time.Hour)

	var (
		mu       sync.Mutex
		old, cur *config.Config
		calls    int
	)
	w, err := config.NewWatcher(cfgPath, func(o, n *config.Config) {
		mu.Lock()
		defer mu.Unlock()
		old, cur = o, n
		calls++
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherUpdatedYAML, 0)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls > 0
	})

	mu.Lock()
	defer mu.Unlock()
	if old.Persona.Temperature != 0.8 || cur.Persona.Temperature != 0.4 {
		t.Errorf("temperature old=%v new=%v, want 0.8 -> 0.4", old.Persona.Temperature, cur.Persona.Temperature)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() not updated: %q", w.Current().Server.LogLevel)
	}
}

func TestWatcher_InvalidEditKeepsPrevious(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "aura.yaml")
	writeFile(t, cfgPath, watcherValidYAML, time.Hour)

	var (
		mu    sync.Mutex
		calls int
	)
	w, err := config.NewWatcher(cfgPath, func(_, _ *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherInvalidYAML, 0)
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("onChange called %d times for invalid config", calls)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() changed to %q", w.Current().Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "aura.yaml")
	writeFile(t, cfgPath, watcherValidYAML, time.Hour)

	var (
		mu    sync.Mutex
		calls int
	)
	w, err := config.NewWatcher(cfgPath, func(_, _ *config.Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherValidYAML, 0)
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("onChange called %d times for identical content", calls)
	}
}

func TestWatcher_StopIdempotent(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "aura.yaml")
	writeFile(t, cfgPath, watcherValidYAML, time.Hour)

	w, err := config.NewWatcher(cfgPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}
