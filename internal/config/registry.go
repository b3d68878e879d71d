package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/gamevox/pkg/provider/llm"
	"github.com/MrWong99/gamevox/pkg/provider/stt"
	"github.com/MrWong99/gamevox/pkg/provider/voiceprint"
)

// ErrProviderNotRegistered is returned by the Create methods when no
// factory exists under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to constructors. It is safe for concurrent
// use.
type Registry struct {
	mu         sync.RWMutex
	stt        map[string]func(ProviderEntry) (stt.Provider, error)
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	voiceprint map[string]func(ProviderEntry) (voiceprint.Extractor, error)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stt:        make(map[string]func(ProviderEntry) (stt.Provider, error)),
		llm:        make(map[string]func(ProviderEntry) (llm.Provider, error)),
		voiceprint: make(map[string]func(ProviderEntry) (voiceprint.Extractor, error)),
	}
}

// RegisterSTT registers a transcription engine factory under name.
// A later registration under the same name replaces the earlier one.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterLLM registers a language model factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterVoiceprint registers a speaker embedding extractor factory.
func (r *Registry) RegisterVoiceprint(name string, factory func(ProviderEntry) (voiceprint.Extractor, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voiceprint[name] = factory
}

// CreateSTT builds the engine registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateLLM builds the model registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateVoiceprint builds the extractor registered under entry.Name.
func (r *Registry) CreateVoiceprint(entry ProviderEntry) (voiceprint.Extractor, error) {
	return create(r, r.voiceprint, "voiceprint", entry)
}

// Names returns the registered names for kind ("stt", "llm" or
// "voiceprint"), sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "stt":
		return slices.Sorted(maps.Keys(r.stt))
	case "llm":
		return slices.Sorted(maps.Keys(r.llm))
	case "voiceprint":
		return slices.Sorted(maps.Keys(r.voiceprint))
	}
	return nil
}

func create[T any](r *Registry, m map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", kind, entry.Name, err)
	}
	return p, nil
}

// StringOption returns Options[key] when it is a string, else def.
func (e ProviderEntry) StringOption(key, def string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return def
}

// IntOption returns Options[key] when it is a whole number, else def. YAML
// integers decode as int; floats with no fraction are accepted too.
func (e ProviderEntry) IntOption(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return def
}

// DurationOption returns Options[key] parsed as a duration, else def.
func (e ProviderEntry) DurationOption(key string, def time.Duration) time.Duration {
	if s, ok := e.Options[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return def
}

// StringsOption returns Options[key] when it is a list of strings, else nil.
func (e ProviderEntry) StringsOption(key string) []string {
	raw, ok := e.Options[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
