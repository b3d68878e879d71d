// Package providers registers the built-in provider implementations with a
// [config.Registry] and builds the set a config asks for.
package providers

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/gamevox/internal/app"
	"github.com/MrWong99/gamevox/internal/config"
	"github.com/MrWong99/gamevox/pkg/provider/llm"
	"github.com/MrWong99/gamevox/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/gamevox/pkg/provider/llm/openai"
	"github.com/MrWong99/gamevox/pkg/provider/stt"
	"github.com/MrWong99/gamevox/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/gamevox/pkg/provider/stt/openai"
	"github.com/MrWong99/gamevox/pkg/provider/stt/whisper"
	"github.com/MrWong99/gamevox/pkg/provider/voiceprint"
	"github.com/MrWong99/gamevox/pkg/provider/voiceprint/fbank"
	"github.com/MrWong99/gamevox/pkg/provider/voiceprint/onnx"
	"github.com/MrWong99/gamevox/pkg/provider/voiceprint/sherpa"
)

// RegisterBuiltins wires all built-in provider factories into reg.
// The command vocabulary is passed to engines that accept recognition
// hints, so short commands are not misheard as similar words.
func RegisterBuiltins(reg *config.Registry, vocabulary []string) {
	prompt := ""
	if len(vocabulary) > 0 {
		prompt = "Game commands: " + strings.Join(vocabulary, ", ") + "."
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if boost := entry.IntOption("keyword_boost", 2); boost > 0 && len(vocabulary) > 0 {
			kws := make([]stt.KeywordBoost, 0, len(vocabulary))
			for _, w := range vocabulary {
				kws = append(kws, stt.KeywordBoost{Keyword: w, Boost: float64(boost)})
			}
			opts = append(opts, deepgram.WithKeywords(kws))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if prompt != "" {
			opts = append(opts, whisper.WithPrompt(prompt))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path", "")
		}
		opts := []whisper.NativeOption{whisper.WithNativeLogger(slog.Default())}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := entry.IntOption("threads", 0); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		if prompt != "" {
			opts = append(opts, whisper.WithNativePrompt(prompt))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if d := entry.DurationOption("timeout", 0); d > 0 {
			opts = append(opts, oastt.WithTimeout(d))
		}
		if prompt != "" {
			opts = append(opts, oastt.WithPrompt(prompt))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.StringOption("organization", ""); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := entry.DurationOption("timeout", 0); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other any-llm backend takes an optional APIKey and BaseURL.
	// openai has the native client above and ollama has no key.
	for _, providerName := range anyllm.Backends() {
		if providerName == "openai" || providerName == "ollama" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// ── Voiceprint ────────────────────────────────────────────────────────────

	reg.RegisterVoiceprint("fbank", func(entry config.ProviderEntry) (voiceprint.Extractor, error) {
		var opts []fbank.Option
		if n := entry.IntOption("cepstra", 0); n > 0 {
			opts = append(opts, fbank.WithCepstra(n))
		}
		return fbank.New(opts...)
	})

	reg.RegisterVoiceprint("onnx", func(entry config.ProviderEntry) (voiceprint.Extractor, error) {
		opts := []onnx.Option{onnx.WithLogger(slog.Default())}
		if lib := entry.StringOption("library_path", ""); lib != "" {
			opts = append(opts, onnx.WithLibraryPath(lib))
		}
		return onnx.New(entry.Model, entry.IntOption("dimensions", 256), opts...)
	})

	reg.RegisterVoiceprint("sherpa", func(entry config.ProviderEntry) (voiceprint.Extractor, error) {
		var opts []sherpa.Option
		if n := entry.IntOption("threads", 0); n > 0 {
			opts = append(opts, sherpa.WithThreads(n))
		}
		if p := entry.StringOption("execution_provider", ""); p != "" {
			opts = append(opts, sherpa.WithProvider(p))
		}
		return sherpa.New(entry.Model, opts...)
	})

	for _, kind := range []string{"stt", "llm", "voiceprint"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// Build instantiates every provider named in cfg using the
// registry. The primary STT engine and the voiceprint extractor are
// required; a failing fallback is logged and skipped.
func Build(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	p := cfg.Providers

	sttp, err := reg.CreateSTT(p.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", p.STT.Name, err)
	}
	ps.STT = sttp
	slog.Info("provider created", "kind", "stt", "name", p.STT.Name)

	for _, entry := range p.STTFallbacks {
		fb, err := reg.CreateSTT(entry)
		if err != nil {
			slog.Warn("skipping stt fallback", "name", entry.Name, "err", err)
			continue
		}
		ps.STTFallbacks = append(ps.STTFallbacks, fb)
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "role", "fallback")
	}

	if name := p.LLM.Name; name != "" {
		lp, err := reg.CreateLLM(p.LLM)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("llm provider not registered; command extraction stops at word matching", "name", name)
		case err != nil:
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		default:
			ps.LLM = lp
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}
	if ps.LLM != nil {
		for _, entry := range p.LLMFallbacks {
			fb, err := reg.CreateLLM(entry)
			if err != nil {
				slog.Warn("skipping llm fallback", "name", entry.Name, "err", err)
				continue
			}
			ps.LLMFallbacks = append(ps.LLMFallbacks, fb)
			slog.Info("provider created", "kind", "llm", "name", entry.Name, "role", "fallback")
		}
	}

	start := time.Now()
	vp, err := reg.CreateVoiceprint(p.Voiceprint)
	if err != nil {
		return nil, fmt.Errorf("create voiceprint extractor %q: %w", p.Voiceprint.Name, err)
	}
	ps.Voiceprint = vp
	slog.Info("provider created", "kind", "voiceprint", "name", p.Voiceprint.Name,
		"dimensions", vp.Dimensions(), "load_time", time.Since(start))

	return ps, nil
}
