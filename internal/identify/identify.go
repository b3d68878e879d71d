// Package identify answers "who is speaking" for one audio window by
// comparing its voiceprint against every enrolled profile.
package identify

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/gamevox/internal/observe"
	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/provider/voiceprint"
	"github.com/MrWong99/gamevox/pkg/speaker"
)

// Unknown is the speaker name reported when no profile matches.
const Unknown = "unknown"

// Default thresholds. A match requires similarity strictly above them.
const (
	DefaultGeneralThreshold  = 0.30
	DefaultGameplayThreshold = 0.15
)

// Mode selects the similarity threshold.
type Mode int

const (
	// ModeGeneral is used outside gameplay.
	ModeGeneral Mode = iota
	// ModeGameplay trades precision for recall while a game is running.
	ModeGameplay
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	if m == ModeGameplay {
		return "gameplay"
	}
	return "general"
}

// ParseMode converts a wire name to a Mode. The empty string is general.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "general":
		return ModeGeneral, nil
	case "gameplay":
		return ModeGameplay, nil
	default:
		return ModeGeneral, fmt.Errorf("identify: unknown mode %q", s)
	}
}

// Match is the identification result for one window.
type Match struct {
	// Name is the enrolled speaker, or [Unknown].
	Name string

	// Similarity is the best cosine similarity seen, floored at 0.
	Similarity float64

	// Confidence equals Similarity for a match and 0 for [Unknown].
	Confidence float64
}

// Known reports whether the match names an enrolled speaker.
func (m Match) Known() bool { return m.Name != Unknown }

// UnknownMatch is the default result for unmatched or abandoned windows.
var UnknownMatch = Match{Name: Unknown}

// Store is the read side of the enrollment store.
type Store interface {
	// Profiles returns every profile in insertion order.
	Profiles(ctx context.Context) ([]speaker.Profile, error)
}

// Option configures an [Identifier].
type Option func(*Identifier)

// WithThresholds overrides the per-mode thresholds.
func WithThresholds(general, gameplay float64) Option {
	return func(id *Identifier) {
		id.thresholds.Store(&thresholds{general: general, gameplay: gameplay})
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(id *Identifier) { id.log = l }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(id *Identifier) { id.metrics = m }
}

// Identifier is safe for concurrent use.
type Identifier struct {
	extractor  voiceprint.Extractor
	store      Store
	thresholds atomic.Pointer[thresholds]
	log        *slog.Logger
	metrics    *observe.Metrics
}

// New returns an Identifier.
func New(ex voiceprint.Extractor, store Store, opts ...Option) *Identifier {
	id := &Identifier{
		extractor: ex,
		store:     store,
		log:       slog.Default(),
	}
	id.thresholds.Store(&thresholds{general: DefaultGeneralThreshold, gameplay: DefaultGameplayThreshold})
	for _, o := range opts {
		o(id)
	}
	if id.metrics == nil {
		id.metrics = observe.DefaultMetrics()
	}
	return id
}

type thresholds struct{ general, gameplay float64 }

// SetThresholds replaces both thresholds. Identifications already running
// keep the values they started with.
func (id *Identifier) SetThresholds(general, gameplay float64) {
	id.thresholds.Store(&thresholds{general: general, gameplay: gameplay})
}

// Threshold returns the similarity a match must exceed in mode.
func (id *Identifier) Threshold(mode Mode) float64 {
	t := id.thresholds.Load()
	if mode == ModeGameplay {
		return t.gameplay
	}
	return t.general
}

// Identify returns the best-matching enrolled speaker for w. When allowed
// is non-empty only those names (case-insensitive) are considered. Among
// equal similarities the earlier-enrolled profile wins.
//
// A failed voiceprint extraction is not an error: the result is
// [UnknownMatch]. Only a failing store is reported, since nothing can be
// identified until it recovers.
func (id *Identifier) Identify(ctx context.Context, w audio.Window, mode Mode, allowed ...string) (Match, error) {
	start := time.Now()
	defer func() {
		id.metrics.IdentifyDuration.Record(ctx, time.Since(start).Seconds())
	}()

	scored, err := id.score(ctx, w, allowed)
	if err != nil {
		return UnknownMatch, err
	}

	best := -1
	for i, s := range scored {
		if best < 0 || s.Similarity > scored[best].Similarity {
			best = i
		}
	}
	if best < 0 {
		return UnknownMatch, nil
	}
	m := scored[best]
	if m.Similarity > id.Threshold(mode) {
		m.Confidence = m.Similarity
		return m, nil
	}
	return Match{Name: Unknown, Similarity: max(m.Similarity, 0)}, nil
}

// Rank returns up to k profiles ordered by similarity, most similar first.
// Entries at or below the mode threshold keep their names but carry zero
// Confidence. An extraction failure yields an empty slice.
func (id *Identifier) Rank(ctx context.Context, w audio.Window, mode Mode, k int) ([]Match, error) {
	scored, err := id.score(ctx, w, nil)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(scored, func(a, b Match) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	th := id.Threshold(mode)
	for i := range scored {
		if scored[i].Similarity > th {
			scored[i].Confidence = scored[i].Similarity
		}
	}
	return scored, nil
}

// score returns the similarity of w to each eligible profile, in store
// order. Confidence is left zero.
func (id *Identifier) score(ctx context.Context, w audio.Window, allowed []string) ([]Match, error) {
	profiles, err := id.store.Profiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("identify: load profiles: %w", err)
	}
	if len(profiles) == 0 {
		return nil, nil
	}

	raw, err := id.extractor.Extract(ctx, w.Samples, w.SampleRate)
	if err != nil {
		observe.Logger(ctx).Debug("identify: extraction failed", "err", err)
		return nil, nil
	}
	emb, err := speaker.Normalize(raw)
	if err != nil {
		observe.Logger(ctx).Debug("identify: unusable embedding", "err", err)
		return nil, nil
	}

	var filter map[string]bool
	if len(allowed) > 0 {
		filter = make(map[string]bool, len(allowed))
		for _, n := range allowed {
			filter[speaker.Key(n)] = true
		}
	}

	out := make([]Match, 0, len(profiles))
	for _, p := range profiles {
		if filter != nil && !filter[speaker.Key(p.Name)] {
			continue
		}
		if len(p.Embedding) != len(emb) {
			id.log.Warn("identify: embedding dimension mismatch",
				"speaker", p.Name, "profile", len(p.Embedding), "window", len(emb))
			continue
		}
		out = append(out, Match{Name: p.Name, Similarity: speaker.Cosine(emb, p.Embedding)})
	}
	return out, nil
}
