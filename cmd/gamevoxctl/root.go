package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MrWong99/gamevox/internal/admin"
	"github.com/MrWong99/gamevox/internal/app"
	"github.com/MrWong99/gamevox/internal/command"
	"github.com/MrWong99/gamevox/internal/command/phonetic"
	"github.com/MrWong99/gamevox/internal/config"
	"github.com/MrWong99/gamevox/internal/identify"
	"github.com/MrWong99/gamevox/internal/providers"
	"github.com/MrWong99/gamevox/pkg/speaker"
)

// env carries the global flags and lazily opened resources shared by all
// subcommands.
type env struct {
	configPath string
	verbose    bool

	cfg     *config.Config
	closers []func() error
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:   "gamevoxctl",
		Short: "Administer a gamevox installation",
		Long: `gamevoxctl - maintenance tool for the gamevox voice-command server.

It reads the same YAML config as the server and works on the speaker store
it names, so stop the server before removing or importing profiles when
using the json backend.

Examples:
  gamevoxctl speakers list
  gamevoxctl speakers export backup.json
  gamevoxctl --config prod.yaml speakers import backup.json --replace
  gamevoxctl extract "go left now"
  gamevoxctl identify clip.wav --top 3
  gamevoxctl mcp`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if e.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return e.close()
		},
	}
	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newSpeakersCmd(e),
		newExtractCmd(e),
		newIdentifyCmd(e),
		newMCPCmd(e),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func (e *env) config() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return nil, err
	}
	e.cfg = cfg
	return cfg, nil
}

// speakers opens the configured speaker store.
func (e *env) speakers(ctx context.Context) (*speaker.Registry, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	backend, err := app.OpenSpeakerBackend(ctx, cfg.Speakers, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("open speaker store: %w", err)
	}
	reg, err := speaker.Open(ctx, backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	e.closers = append(e.closers, reg.Close)
	return reg, nil
}

// extractor builds the configured command extractor. The language model
// stage is attached only when withLLM is set and a provider is configured.
func (e *env) extractor(vocabulary []string, withLLM bool) (*command.Extractor, error) {
	var aliases map[string]string
	var cfg *config.Config
	if len(vocabulary) == 0 || withLLM {
		var err error
		if cfg, err = e.config(); err != nil {
			return nil, err
		}
	}
	if len(vocabulary) == 0 {
		vocabulary, aliases = cfg.Commands.Vocabulary, cfg.Commands.Aliases
	}
	vocab, err := command.NewVocabulary(vocabulary, aliases)
	if err != nil {
		return nil, err
	}

	var opts []command.Option
	if withLLM && cfg.Providers.LLM.Name != "" {
		reg := config.NewRegistry()
		providers.RegisterBuiltins(reg, vocab.Commands())
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, err
		}
		opts = append(opts, command.WithLLM(p), command.WithLLMTimeout(cfg.Commands.LLMTimeout))
	}
	if cfg != nil && cfg.Commands.Phonetic {
		opts = append(opts, command.WithPhonetic(phonetic.New()))
	}
	return command.New(vocab, opts...), nil
}

// service returns an admin service over the speaker store only.
func (e *env) service(ctx context.Context) (*admin.Service, error) {
	reg, err := e.speakers(ctx)
	if err != nil {
		return nil, err
	}
	return admin.New(reg, nil), nil
}

// identifier builds a speaker identifier over the configured store and
// voiceprint extractor, with the configured thresholds.
func (e *env) identifier(ctx context.Context) (*speaker.Registry, *identify.Identifier, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, nil, err
	}
	reg, err := e.speakers(ctx)
	if err != nil {
		return nil, nil, err
	}
	providerReg := config.NewRegistry()
	providers.RegisterBuiltins(providerReg, cfg.Commands.Vocabulary)
	vp, err := providerReg.CreateVoiceprint(cfg.Providers.Voiceprint)
	if err != nil {
		return nil, nil, err
	}
	e.closers = append(e.closers, vp.Close)
	general, gameplay := app.Thresholds(cfg.Speakers)
	return reg, identify.New(vp, reg, identify.WithThresholds(general, gameplay)), nil
}

func (e *env) close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	return first
}
