// Package app wires the gamevox subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the speaker store and
// assembles the recognition stages, Run serves capture clients, Reload
// applies hot config changes, and Shutdown tears everything down in order.
//
// For testing, inject a speaker backend or metrics sink via functional
// options. When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/MrWong99/gamevox/internal/command"
	"github.com/MrWong99/gamevox/internal/command/phonetic"
	"github.com/MrWong99/gamevox/internal/config"
	"github.com/MrWong99/gamevox/internal/enroll"
	"github.com/MrWong99/gamevox/internal/health"
	"github.com/MrWong99/gamevox/internal/identify"
	"github.com/MrWong99/gamevox/internal/observe"
	"github.com/MrWong99/gamevox/internal/pipeline"
	"github.com/MrWong99/gamevox/internal/resilience"
	"github.com/MrWong99/gamevox/internal/server"
	"github.com/MrWong99/gamevox/internal/transcribe"
	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/provider/llm"
	"github.com/MrWong99/gamevox/pkg/provider/stt"
	"github.com/MrWong99/gamevox/pkg/provider/voiceprint"
	"github.com/MrWong99/gamevox/pkg/speaker"
	"github.com/MrWong99/gamevox/pkg/speaker/badgerstore"
	"github.com/MrWong99/gamevox/pkg/speaker/jsonfile"
	"github.com/MrWong99/gamevox/pkg/speaker/postgres"
)

// Providers holds one value per provider slot, built by main.go via the
// config registry. STT and Voiceprint are required; a nil LLM disables the
// model stage of command extraction.
type Providers struct {
	STT          stt.Provider
	STTFallbacks []stt.Provider
	LLM          llm.Provider
	LLMFallbacks []llm.Provider
	Voiceprint   voiceprint.Extractor
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	log            *slog.Logger
	level          *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	backend     speaker.Backend
	speakers    *speaker.Registry
	transcriber *transcribe.Transcriber
	identifier  *identify.Identifier
	commands    *command.Extractor
	router      *pipeline.Router
	health      *health.Handler
	server      *server.Server

	// reloadMu serialises Reload calls.
	reloadMu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSpeakerBackend injects a profile backend instead of opening the one
// named by speakers.backend.
func WithSpeakerBackend(b speaker.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets Reload change the log level of the handler built on v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics unless metrics are disabled in
// the config.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. On error every
// resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: an stt provider is required")
	}
	if providers.Voiceprint == nil {
		return nil, errors.New("app: a voiceprint extractor is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		_ = a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg

	// Providers are owned from here on, even if a later step fails.
	a.closers = append(a.closers, a.providers.Voiceprint.Close)
	addProviderClosers(a, a.providers.STT, a.providers.STTFallbacks)
	if a.providers.LLM != nil {
		addProviderClosers(a, a.providers.LLM, a.providers.LLMFallbacks)
	}

	// ── 1. Speaker store ─────────────────────────────────────────────────
	if err := a.initSpeakers(ctx); err != nil {
		return fmt.Errorf("app: init speakers: %w", err)
	}

	// ── 2. Transcription ─────────────────────────────────────────────────
	sttGroup := resilience.NewSTTFallback(a.providers.STT, a.fallbackConfig())
	for _, fb := range a.providers.STTFallbacks {
		sttGroup.AddFallback(fb)
	}
	a.transcriber = transcribe.New(sttGroup,
		transcribe.WithLogger(a.log),
		transcribe.WithMetrics(a.metrics),
	)

	// ── 3. Command extraction ────────────────────────────────────────────
	vocab, err := command.NewVocabulary(cfg.Commands.Vocabulary, cfg.Commands.Aliases)
	if err != nil {
		return fmt.Errorf("app: init commands: %w", err)
	}
	cmdOpts := []command.Option{
		command.WithLLMTimeout(cfg.Commands.LLMTimeout),
		command.WithLogger(a.log),
		command.WithMetrics(a.metrics),
	}
	if a.providers.LLM != nil {
		llmGroup := resilience.NewLLMFallback(a.providers.LLM, a.fallbackConfig())
		for _, fb := range a.providers.LLMFallbacks {
			llmGroup.AddFallback(fb)
		}
		cmdOpts = append(cmdOpts, command.WithLLM(llmGroup))
	}
	if cfg.Commands.Phonetic {
		cmdOpts = append(cmdOpts, command.WithPhonetic(phonetic.New()))
	}
	a.commands = command.New(vocab, cmdOpts...)

	// ── 4. Speaker identification ────────────────────────────────────────
	general, gameplay := Thresholds(cfg.Speakers)
	a.identifier = identify.New(a.providers.Voiceprint, a.speakers,
		identify.WithThresholds(general, gameplay),
		identify.WithLogger(a.log),
		identify.WithMetrics(a.metrics),
	)

	// ── 5. Player routing ────────────────────────────────────────────────
	a.router = pipeline.NewRouter(cfg.Players)

	// ── 6. Health ────────────────────────────────────────────────────────
	a.health = health.New(
		health.Ping("speakers", a.speakers),
		health.Configured("commands", func() bool { return len(a.commands.Vocabulary().Commands()) > 0 }),
		health.Checker{Name: "transcriber", Check: func(context.Context) error {
			if !sttGroup.Available() {
				return fmt.Errorf("%w for every engine", resilience.ErrCircuitOpen)
			}
			return nil
		}},
	)

	// ── 7. Websocket server ──────────────────────────────────────────────
	mode, err := identify.ParseMode(cfg.Server.DefaultMode)
	if err != nil {
		return fmt.Errorf("app: init server: %w", err)
	}
	srvOpts := []server.Option{
		server.WithLogger(a.log),
		server.WithMetrics(a.metrics),
		server.WithHealth(a.health),
	}
	if a.metricsHandler != nil && !cfg.Observability.DisableMetrics {
		srvOpts = append(srvOpts, server.WithMetricsHandler(a.metricsHandler))
	}
	a.server, err = server.New(server.Config{
		Addr:           cfg.Server.ListenAddr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ReadLimit:      cfg.Server.ReadLimitBytes,
		Buffer: audio.BufferConfig{
			Window:     cfg.Audio.Window,
			Ceiling:    cfg.Audio.Ceiling,
			SilenceRMS: cfg.Audio.SilenceRMS,
		},
		Enrollment: enroll.Config{
			MinDuration:      cfg.Enrollment.MinDuration,
			DurationHint:     cfg.Enrollment.DurationHint,
			ProgressInterval: cfg.Enrollment.ProgressInterval,
			ArchiveDir:       cfg.Enrollment.ArchiveDir,
		},
		JoinTimeout:       cfg.Server.JoinTimeout,
		RestrictToPlayers: cfg.Speakers.RestrictToPlayers,
		DefaultMode:       mode,
	}, server.Deps{
		Speakers:    a.speakers,
		Voiceprint:  a.providers.Voiceprint,
		Identifier:  a.identifier,
		Transcriber: a.transcriber,
		Commands:    a.commands,
		Router:      a.router,
	}, srvOpts...)
	if err != nil {
		return fmt.Errorf("app: init server: %w", err)
	}

	a.log.Info("app initialised",
		"speakers", a.speakers.Len(),
		"commands", len(vocab.Commands()),
		"players", len(cfg.Players),
		"llm", a.commands.HasLLM(),
	)
	return nil
}

// initSpeakers opens the configured backend (unless one was injected) and
// loads the registry from it.
func (a *App) initSpeakers(ctx context.Context) error {
	if a.backend == nil {
		b, err := OpenSpeakerBackend(ctx, a.cfg.Speakers, a.log)
		if err != nil {
			return err
		}
		a.backend = b
	}

	reg, err := speaker.Open(ctx, a.backend,
		speaker.WithDimensions(a.providers.Voiceprint.Dimensions()),
		speaker.WithLogger(a.log),
	)
	if err != nil {
		_ = a.backend.Close()
		return err
	}
	a.speakers = reg
	a.closers = append(a.closers, reg.Close)
	return nil
}

// OpenSpeakerBackend opens the profile backend selected by cfg.Backend.
func OpenSpeakerBackend(ctx context.Context, cfg config.SpeakersConfig, log *slog.Logger) (speaker.Backend, error) {
	switch cfg.Backend {
	case config.BackendJSON:
		return jsonfile.New(cfg.Path)
	case config.BackendBadger:
		return badgerstore.Open(badgerstore.Options{Dir: cfg.Path, Logger: log})
	case config.BackendPostgres:
		return postgres.New(ctx, cfg.PostgresDSN, cfg.Dimensions)
	}
	return nil, fmt.Errorf("unknown speaker backend %q", cfg.Backend)
}

// Thresholds returns the configured thresholds, falling back to the
// identifier defaults for unset values.
func Thresholds(cfg config.SpeakersConfig) (general, gameplay float64) {
	general, gameplay = identify.DefaultGeneralThreshold, identify.DefaultGameplayThreshold
	if cfg.GeneralThreshold != nil {
		general = *cfg.GeneralThreshold
	}
	if cfg.GameplayThreshold != nil {
		gameplay = *cfg.GameplayThreshold
	}
	return general, gameplay
}

func (a *App) fallbackConfig() resilience.FallbackConfig {
	b := a.cfg.Providers.CircuitBreaker
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  b.MaxFailures,
			ResetTimeout: b.ResetTimeout,
			Logger:       a.log,
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}
}

// addProviderClosers registers Close for every provider that holds
// resources, such as a loaded local model.
func addProviderClosers[T any](a *App, primary T, fallbacks []T) {
	for _, p := range append([]T{primary}, fallbacks...) {
		if c, ok := any(p).(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves capture clients on the configured address until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.server.ListenAndServe(ctx)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	return a.server.Serve(ctx, ln)
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new: log
// level, command vocabulary, player assignments and identification
// thresholds. Changes to any other section are logged as needing a
// restart. Suitable as a [config.Watcher] callback.
func (a *App) Reload(old, new *config.Config) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(d.NewLogLevel.SlogLevel())
		}
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VocabularyChanged {
		v, err := command.NewVocabulary(new.Commands.Vocabulary, new.Commands.Aliases)
		if err != nil {
			a.log.Error("keeping previous vocabulary", "err", err)
		} else {
			a.commands.SetVocabulary(v)
			a.log.Info("vocabulary reloaded", "commands", len(v.Commands()))
		}
	}
	if d.PlayersChanged {
		a.router.SetAssignments(new.Players)
		a.log.Info("player assignments reloaded", "added", d.PlayersAdded, "removed", d.PlayersRemoved)
	}
	if d.ThresholdsChanged {
		general, gameplay := Thresholds(new.Speakers)
		a.identifier.SetThresholds(general, gameplay)
		a.log.Info("identification thresholds reloaded", "general", general, "gameplay", gameplay)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	a.cfg = new
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Speakers returns the enrolled speaker registry.
func (a *App) Speakers() *speaker.Registry { return a.speakers }

// Commands returns the command extractor.
func (a *App) Commands() *command.Extractor { return a.commands }

// Identifier returns the speaker identifier.
func (a *App) Identifier() *identify.Identifier { return a.identifier }

// Router returns the player router.
func (a *App) Router() *pipeline.Router { return a.router }

// Server returns the websocket server.
func (a *App) Server() *server.Server { return a.server }

// Transcriber returns the transcriber.
func (a *App) Transcriber() *transcribe.Transcriber { return a.transcriber }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all resources. Run must have returned first. Safe to
// call more than once; only the first call does anything.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- a.closeAll() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("app: shutdown: %w", ctx.Err())
		}
	})
	return err
}

// closeAll runs the closers in reverse registration order.
func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown errors", "err", err)
		return fmt.Errorf("app: shutdown: %w", err)
	}
	return nil
}
