// Command gamevox is the voice-command server. Capture clients stream
// microphone audio over a websocket; recognized commands from enrolled
// speakers are pushed back tagged with the speaker's player slot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/gamevox/internal/app"
	"github.com/MrWong99/gamevox/internal/config"
	"github.com/MrWong99/gamevox/internal/observe"
	"github.com/MrWong99/gamevox/internal/providers"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	telemetryShutdown = 5 * time.Second
	appShutdown       = 15 * time.Second
)

func main() {
	os.Exit(run())
}

// newLogger builds the process logger. level stays adjustable so a config
// reload can change verbosity.
func newLogger(w io.Writer, json bool, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run() int {
	var (
		configPath = flag.String("config", "config.yaml", "path to the YAML configuration file")
		watchEvery = flag.Duration("watch", 2*time.Second, "config file poll interval for hot reload; 0 disables")
		jsonLogs   = flag.Bool("json-logs", false, "log as JSON lines instead of text")
		quiet      = flag.Bool("quiet", false, "skip the startup summary")
	)
	flag.Parse()

	// ── 1. Configuration ──────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(os.Stderr, "gamevox: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		return 1
	case err != nil:
		fmt.Fprintf(os.Stderr, "gamevox: %v\n", err)
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	logger := newLogger(os.Stderr, *jsonLogs, level)
	slog.SetDefault(logger)
	logger.Info("gamevox starting", "version", version, "config", *configPath, "listen_addr", cfg.Server.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 2. Telemetry ──────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		DisableMetrics: cfg.Observability.DisableMetrics,
	})
	if err != nil {
		logger.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), telemetryShutdown)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── 3. Providers ──────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	providers.RegisterBuiltins(reg, cfg.Commands.Vocabulary)
	built, err := providers.Build(cfg, reg)
	if err != nil {
		logger.Error("provider setup failed", "err", err)
		return 1
	}
	if !*quiet {
		printSummary(os.Stdout, cfg)
	}

	// ── 4. Application ────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, built,
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithMetricsHandler(tel.MetricsHandler),
	)
	if err != nil {
		logger.Error("application setup failed", "err", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	if *watchEvery > 0 {
		w, err := config.NewWatcher(*configPath, application.Reload,
			config.WithInterval(*watchEvery),
			config.WithWatcherLogger(logger),
		)
		if err != nil {
			logger.Warn("config hot reload disabled", "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}
	logger.Info("server ready; press Ctrl+C to shut down")

	// ── 5. Shutdown ───────────────────────────────────────────────────────────
	runErr := g.Wait()
	failed := runErr != nil && !errors.Is(runErr, context.Canceled)
	if failed {
		logger.Error("server stopped", "err", runErr)
	}

	sctx, cancel := context.WithTimeout(context.Background(), appShutdown)
	defer cancel()
	logger.Info("stopping")
	if err := application.Shutdown(sctx); err != nil {
		logger.Error("shutdown", "err", err)
		return 1
	}
	if failed {
		return 1
	}
	logger.Info("goodbye")
	return 0
}
