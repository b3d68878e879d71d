package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/gamevox/internal/command"
	"github.com/MrWong99/gamevox/internal/identify"
	"github.com/MrWong99/gamevox/pkg/audio"
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside this list; they may still be registered by a
// custom build.
var ValidProviderNames = map[string][]string{
	"stt":        {"deepgram", "whisper", "whisper-native", "openai"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"voiceprint": {"fbank", "onnx", "sherpa"},
}

// Load reads, defaults and validates the YAML file at path.
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

// LoadFromReader decodes YAML from r. Unknown keys are errors.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
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

// ApplyDefaults fills every unset field.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = ":8765"
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.ReadLimitBytes <= 0 {
		s.ReadLimitBytes = 1 << 20
	}
	if s.JoinTimeout <= 0 {
		s.JoinTimeout = 800 * time.Millisecond
	}
	if s.DefaultMode == "" {
		s.DefaultMode = identify.ModeGeneral.String()
	}

	a := &cfg.Audio
	if a.Window <= 0 {
		a.Window = 500 * time.Millisecond
	}
	if a.Ceiling <= 0 {
		a.Ceiling = time.Second
	}
	if a.SilenceRMS <= 0 {
		a.SilenceRMS = 0.01
	}

	sp := &cfg.Speakers
	if sp.Backend == "" {
		sp.Backend = BackendJSON
	}
	if sp.Path == "" {
		switch sp.Backend {
		case BackendJSON:
			sp.Path = "speakers.json"
		case BackendBadger:
			sp.Path = "speakers.db"
		}
	}
	if sp.GeneralThreshold == nil {
		v := identify.DefaultGeneralThreshold
		sp.GeneralThreshold = &v
	}
	if sp.GameplayThreshold == nil {
		v := identify.DefaultGameplayThreshold
		sp.GameplayThreshold = &v
	}

	e := &cfg.Enrollment
	if e.MinDuration <= 0 {
		e.MinDuration = 2 * time.Second
	}
	if e.DurationHint <= 0 {
		e.DurationHint = 5 * time.Second
	}
	if e.ProgressInterval <= 0 {
		e.ProgressInterval = 5 * time.Second
	}

	if cfg.Commands.LLMTimeout <= 0 {
		cfg.Commands.LLMTimeout = command.DefaultLLMTimeout
	}

	p := &cfg.Providers
	if p.Voiceprint.Name == "" {
		p.Voiceprint.Name = "fbank"
	}
	if p.CircuitBreaker.MaxFailures <= 0 {
		p.CircuitBreaker.MaxFailures = 5
	}
	if p.CircuitBreaker.ResetTimeout <= 0 {
		p.CircuitBreaker.ResetTimeout = 30 * time.Second
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "gamevox"
	}
}

// Validate checks cfg after defaults and returns every problem found,
// joined. Unknown provider names are logged, not rejected.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if _, err := identify.ParseMode(cfg.Server.DefaultMode); err != nil {
		errs = append(errs, fmt.Errorf("server.default_mode %q is invalid; valid values: general, gameplay", cfg.Server.DefaultMode))
	}

	if cfg.Audio.Ceiling < cfg.Audio.Window {
		errs = append(errs, fmt.Errorf("audio.ceiling %v is shorter than audio.window %v", cfg.Audio.Ceiling, cfg.Audio.Window))
	}
	if audio.SamplesFor(cfg.Audio.Window, audio.DefaultSampleRate) == 0 {
		errs = append(errs, fmt.Errorf("audio.window %v is shorter than one sample", cfg.Audio.Window))
	}
	if cfg.Audio.SilenceRMS >= 1 {
		errs = append(errs, fmt.Errorf("audio.silence_rms %.3f is out of range (0, 1)", cfg.Audio.SilenceRMS))
	}

	sp := cfg.Speakers
	switch sp.Backend {
	case BackendJSON, BackendBadger:
	case BackendPostgres:
		if sp.PostgresDSN == "" {
			errs = append(errs, errors.New("speakers.postgres_dsn is required for the postgres backend"))
		}
		if sp.Dimensions <= 0 {
			errs = append(errs, errors.New("speakers.dimensions is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("speakers.backend %q is invalid; valid values: json, badger, postgres", sp.Backend))
	}
	for name, v := range map[string]*float64{
		"speakers.general_threshold":  sp.GeneralThreshold,
		"speakers.gameplay_threshold": sp.GameplayThreshold,
	} {
		if v != nil && (*v < -1 || *v > 1) {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [-1, 1]", name, *v))
		}
	}

	if cfg.Enrollment.DurationHint < cfg.Enrollment.MinDuration {
		slog.Warn("enrollment.duration_hint is shorter than enrollment.min_duration",
			"hint", cfg.Enrollment.DurationHint, "min", cfg.Enrollment.MinDuration)
	}

	if _, err := command.NewVocabulary(cfg.Commands.Vocabulary, cfg.Commands.Aliases); err != nil {
		errs = append(errs, fmt.Errorf("commands: %w", err))
	}

	for spk, player := range cfg.Players {
		if spk == "" {
			errs = append(errs, errors.New("players: speaker name must not be empty"))
		}
		if player == "" {
			errs = append(errs, fmt.Errorf("players.%s: player slot must not be empty", spk))
		}
	}

	p := cfg.Providers
	if p.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", p.STT.Name)
	for i, fb := range p.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("llm", p.LLM.Name)
	if p.LLM.Name == "" && len(p.LLMFallbacks) > 0 {
		errs = append(errs, errors.New("providers.llm_fallbacks need a primary providers.llm"))
	}
	for i, fb := range p.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("voiceprint", p.Voiceprint.Name)
	if p.LLM.Name == "" {
		slog.Info("no LLM provider configured; command extraction stops at word matching")
	}

	return errors.Join(errs...)
}

func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
