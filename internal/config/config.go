// Package config holds the gamevox configuration schema, its YAML loader and
// validation, the provider registry, and a file watcher for hot reload.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
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

// SlogLevel maps l to the slog level it names. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Speaker store backends.
const (
	BackendJSON     = "json"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config is the root configuration. Load it with [Load] or
// [LoadFromReader]; both apply defaults and validate.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	Speakers      SpeakersConfig      `yaml:"speakers"`
	Enrollment    EnrollmentConfig    `yaml:"enrollment"`
	Commands      CommandsConfig      `yaml:"commands"`
	Players       map[string]string   `yaml:"players"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds network, session and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address to listen on. Default ":8765".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins are host patterns accepted for cross-origin websocket
	// upgrades, e.g. "localhost:*".
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ReadLimitBytes caps one inbound frame. Default 1 MiB.
	ReadLimitBytes int64 `yaml:"read_limit_bytes"`

	// JoinTimeout bounds identification plus transcription of one window.
	// Default 800ms.
	JoinTimeout time.Duration `yaml:"join_timeout"`

	// DefaultMode is "general" or "gameplay". Default "general".
	DefaultMode string `yaml:"default_mode"`
}

// AudioConfig controls per-connection buffering.
type AudioConfig struct {
	// Window is the unit of recognition. Default 500ms.
	Window time.Duration `yaml:"window"`

	// Ceiling bounds unconsumed audio. Default 1s.
	Ceiling time.Duration `yaml:"ceiling"`

	// SilenceRMS is the gate below which windows are skipped. Default 0.01.
	SilenceRMS float64 `yaml:"silence_rms"`
}

// SpeakersConfig selects the profile store and identification thresholds.
type SpeakersConfig struct {
	// Backend is "json", "badger" or "postgres". Default "json".
	Backend string `yaml:"backend"`

	// Path is the JSON file or Badger directory. Default "speakers.json"
	// for json and "speakers.db" for badger.
	Path string `yaml:"path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Dimensions is the embedding size stored by the postgres backend.
	// Must match the voiceprint extractor.
	Dimensions int `yaml:"dimensions"`

	// GeneralThreshold is the similarity a general-mode match must exceed.
	// Default 0.30. Hot-reloadable.
	GeneralThreshold *float64 `yaml:"general_threshold"`

	// GameplayThreshold is the similarity a gameplay-mode match must
	// exceed. Default 0.15. Hot-reloadable.
	GameplayThreshold *float64 `yaml:"gameplay_threshold"`

	// RestrictToPlayers limits gameplay identification to speakers that
	// have a player slot.
	RestrictToPlayers bool `yaml:"restrict_to_players"`
}

// EnrollmentConfig tunes enrollment sessions.
type EnrollmentConfig struct {
	MinDuration      time.Duration `yaml:"min_duration"`
	DurationHint     time.Duration `yaml:"duration_hint"`
	ProgressInterval time.Duration `yaml:"progress_interval"`

	// ArchiveDir, when set, keeps a WAV copy of every enrollment.
	ArchiveDir string `yaml:"archive_dir"`
}

// CommandsConfig is the command vocabulary and extractor tuning.
type CommandsConfig struct {
	// Vocabulary lists the recognised commands. Required. Hot-reloadable.
	Vocabulary []string `yaml:"vocabulary"`

	// Aliases maps single words to vocabulary commands. Hot-reloadable.
	Aliases map[string]string `yaml:"aliases"`

	// LLMTimeout bounds the fallback stage. Default 400ms.
	LLMTimeout time.Duration `yaml:"llm_timeout"`

	// Phonetic enables sound-alike matching against vocabulary and aliases.
	Phonetic bool `yaml:"phonetic"`
}

// ProvidersConfig selects the implementation of each external stage by
// name in the [Registry]. Fallback entries are tried in order behind a
// circuit breaker when the primary fails.
type ProvidersConfig struct {
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	Voiceprint   ProviderEntry   `yaml:"voiceprint"`

	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation, e.g. "deepgram".
	Name string `yaml:"name"`

	// APIKey authenticates against hosted APIs.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default endpoint, or names the local server.
	BaseURL string `yaml:"base_url"`

	// Model selects a model, or a model file for local engines.
	Model string `yaml:"model"`

	// Options holds implementation-specific settings.
	Options map[string]any `yaml:"options"`
}

// ObservabilityConfig controls telemetry.
type ObservabilityConfig struct {
	// ServiceName reported in telemetry. Default "gamevox".
	ServiceName string `yaml:"service_name"`

	// DisableMetrics turns off the /metrics endpoint.
	DisableMetrics bool `yaml:"disable_metrics"`
}
