package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "ark", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"gemini", "openai", "elevenlabs", "coqui"},
}

// ValidStoreBackends lists the accepted store.backend values.
var ValidStoreBackends = []string{"memory", "file", "postgres", "sqlite"}

// LoadDotEnv loads environment variables from the given files (".env" when
// none are given). Variables already set in the process win. A missing
// file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var errs []error
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			errs = append(errs, fmt.Errorf("config: load %q: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references, decodes a YAML config from r,
// fills defaults and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBytes is LoadFromReader over an in-memory document.
func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}

	// Persona
	if t := cfg.Persona.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("persona.temperature %.2f is out of range [0, 2]", t))
	}
	if p := cfg.Persona.TopP; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("persona.top_p %.2f is out of range [0, 1]", p))
	}
	if cfg.Persona.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("persona.max_tokens %d must not be negative", cfg.Persona.MaxTokens))
	}

	// Voice
	if cfg.Voice.MaxConcurrentSynth < 0 {
		errs = append(errs, fmt.Errorf("voice.max_concurrent_synth %d must not be negative", cfg.Voice.MaxConcurrentSynth))
	}

	// Store
	if b := strings.ToLower(cfg.Store.Backend); b != "" {
		if !slices.Contains(ValidStoreBackends, b) {
			errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: %s", cfg.Store.Backend, strings.Join(ValidStoreBackends, ", ")))
		}
		if b == "postgres" && cfg.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required when store.backend is postgres"))
		}
		if (b == "file" || b == "sqlite") && cfg.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required when store.backend is %s", b))
		}
	}

	// Audio
	if sr := cfg.Audio.OutputSampleRate; sr < 0 || (sr > 0 && sr < 8000) {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d is too low; minimum is 8000", sr))
	}
	if cfg.Audio.ListenBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.listen_buffer %d must not be negative", cfg.Audio.ListenBuffer))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
