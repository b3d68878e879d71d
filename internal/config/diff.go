package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only the fields
// the running server can apply in place are tracked individually; other
// changed sections are listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VocabularyChanged covers commands.vocabulary and commands.aliases.
	VocabularyChanged bool

	PlayersChanged bool
	PlayersAdded   []string
	PlayersRemoved []string

	ThresholdsChanged bool

	// RestartRequired names sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VocabularyChanged && !d.PlayersChanged &&
		!d.ThresholdsChanged && len(d.RestartRequired) == 0
}

// Diff compares two loaded configs.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Commands.Vocabulary, new.Commands.Vocabulary) ||
		!maps.Equal(old.Commands.Aliases, new.Commands.Aliases) {
		d.VocabularyChanged = true
	}

	for spk, player := range new.Players {
		prev, ok := old.Players[spk]
		switch {
		case !ok:
			d.PlayersAdded = append(d.PlayersAdded, spk)
			d.PlayersChanged = true
		case prev != player:
			d.PlayersChanged = true
		}
	}
	for spk := range old.Players {
		if _, ok := new.Players[spk]; !ok {
			d.PlayersRemoved = append(d.PlayersRemoved, spk)
			d.PlayersChanged = true
		}
	}
	slices.Sort(d.PlayersAdded)
	slices.Sort(d.PlayersRemoved)

	if !floatPtrEqual(old.Speakers.GeneralThreshold, new.Speakers.GeneralThreshold) ||
		!floatPtrEqual(old.Speakers.GameplayThreshold, new.Speakers.GameplayThreshold) {
		d.ThresholdsChanged = true
	}

	o, n := old.Server, new.Server
	if o.ListenAddr != n.ListenAddr || o.ReadLimitBytes != n.ReadLimitBytes ||
		o.JoinTimeout != n.JoinTimeout || o.DefaultMode != n.DefaultMode ||
		!slices.Equal(o.AllowedOrigins, n.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	osp, nsp := old.Speakers, new.Speakers
	if osp.Backend != nsp.Backend || osp.Path != nsp.Path || osp.PostgresDSN != nsp.PostgresDSN ||
		osp.Dimensions != nsp.Dimensions || osp.RestrictToPlayers != nsp.RestrictToPlayers {
		d.RestartRequired = append(d.RestartRequired, "speakers")
	}
	if old.Enrollment != new.Enrollment {
		d.RestartRequired = append(d.RestartRequired, "enrollment")
	}
	if old.Commands.LLMTimeout != new.Commands.LLMTimeout || old.Commands.Phonetic != new.Commands.Phonetic {
		d.RestartRequired = append(d.RestartRequired, "commands")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Observability != new.Observability {
		d.RestartRequired = append(d.RestartRequired, "observability")
	}
	return d
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) && entryEqual(a.LLM, b.LLM) && entryEqual(a.Voiceprint, b.Voiceprint) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, entryEqual) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, entryEqual) &&
		a.CircuitBreaker == b.CircuitBreaker
}

// entryEqual compares option values shallowly. Nested option maps count as
// changed whenever present, which errs towards asking for a restart.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	return maps.EqualFunc(a.Options, b.Options, func(x, y any) bool {
		switch x.(type) {
		case map[string]any, []any:
			return false
		}
		return x == y
	})
}
