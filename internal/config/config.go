// Package config provides the configuration schema, loader, and provider registry
// for the Aura server.
package config

import "time"

// LogLevel controls log verbosity for the Aura server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr         = ":8080"
	DefaultShutdownTimeout    = 15 * time.Second
	DefaultTemperature        = 0.8
	DefaultTopP               = 0.95
	DefaultVoice              = "Kore"
	DefaultStylePrefix        = "Diga de forma carinhosa e natural: "
	DefaultMaxConcurrentSynth = 4
	DefaultOutputSampleRate   = 24000
	DefaultListenBuffer       = 64
	DefaultServiceName        = "aura"
)

// DefaultSystemPrompt is the counselor persona used when persona.system_prompt
// is empty.
const DefaultSystemPrompt = `Você é a Aura, uma conselheira emocional e amiga próxima.
Seu objetivo é melhorar a vida, as emoções e o bem-estar do usuário.
Diretrizes:
1. Empatia Profunda: Valide sempre os sentimentos do usuário.
2. Sabedoria Prática: Ofereça soluções acionáveis, não apenas clichês.
3. Educadora: Ensine conceitos de inteligência emocional, psicologia positiva e mindfulness de forma leve.
4. Linguagem: Use um tom caloroso, amigável e informal (em Português do Brasil).
5. Interatividade: Faça perguntas para entender melhor a situação.
6. Limites: Se o usuário demonstrar risco de autoagressão, recomende ajuda profissional e linhas de apoio (CVV 188 no Brasil).`

// Config is the root configuration structure for Aura.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Persona   PersonaConfig   `yaml:"persona"`
	Voice     VoiceConfig     `yaml:"voice"`
	Store     StoreConfig     `yaml:"store"`
	Audio     AudioConfig     `yaml:"audio"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Fallback entries are tried in order when the primary
// fails or its circuit breaker is open.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the configuration for a single provider instance.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "gemini", "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication credential. Use ${VAR} to read it from
	// the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "gemini-3-flash-preview").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// PersonaConfig shapes how the assistant answers.
type PersonaConfig struct {
	// Name is the assistant's display name.
	Name string `yaml:"name"`

	// UserName is the profile name used until the user picks one.
	UserName string `yaml:"user_name"`

	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`

	// MaxTokens caps the reply length. Zero means provider default.
	MaxTokens int `yaml:"max_tokens"`
}

// VoiceConfig controls speech synthesis.
type VoiceConfig struct {
	// Name is the provider voice (e.g., "Kore").
	Name string `yaml:"name"`

	// StylePrefix is a delivery instruction sent alongside the text.
	StylePrefix string `yaml:"style_prefix"`

	// Muted starts the server with live segment playback disabled.
	Muted bool `yaml:"muted"`

	// MaxConcurrentSynth bounds in-flight segment synthesis calls per turn.
	MaxConcurrentSynth int `yaml:"max_concurrent_synth"`
}

// StoreConfig selects the state backend.
type StoreConfig struct {
	// Backend is one of memory, file, postgres, sqlite. Empty lets the
	// store package infer it from DSN and Path.
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
	Path    string `yaml:"path"`
}

// AudioConfig controls the listener side of the playback device.
type AudioConfig struct {
	// OutputSampleRate is the rate PCM is resampled to before it is pushed
	// to listeners.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// ListenBuffer is the number of frames buffered per listener before
	// frames are dropped.
	ListenBuffer int `yaml:"listen_buffer"`
}

// ObserveConfig controls metrics and tracing.
type ObserveConfig struct {
	Metrics     bool   `yaml:"metrics"`
	ServiceName string `yaml:"service_name"`
}

// ApplyDefaults fills every unset field with its documented default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Persona.Name == "" {
		cfg.Persona.Name = "Aura"
	}
	if cfg.Persona.UserName == "" {
		cfg.Persona.UserName = "Amiga"
	}
	if cfg.Persona.SystemPrompt == "" {
		cfg.Persona.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Persona.Temperature == 0 {
		cfg.Persona.Temperature = DefaultTemperature
	}
	if cfg.Persona.TopP == 0 {
		cfg.Persona.TopP = DefaultTopP
	}

	if cfg.Voice.Name == "" {
		cfg.Voice.Name = DefaultVoice
	}
	if cfg.Voice.StylePrefix == "" {
		cfg.Voice.StylePrefix = DefaultStylePrefix
	}
	if cfg.Voice.MaxConcurrentSynth == 0 {
		cfg.Voice.MaxConcurrentSynth = DefaultMaxConcurrentSynth
	}

	if cfg.Audio.OutputSampleRate == 0 {
		cfg.Audio.OutputSampleRate = DefaultOutputSampleRate
	}
	if cfg.Audio.ListenBuffer == 0 {
		cfg.Audio.ListenBuffer = DefaultListenBuffer
	}

	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = DefaultServiceName
	}
}
