// Package admin implements offline maintenance of a gamevox installation:
// listing, removing, clearing, exporting and importing speaker profiles,
// ranking recorded audio against them, and running the command extractor
// on arbitrary text. Both gamevoxctl subcommands and
// its MCP tool server are thin wrappers around [Service].
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrWong99/gamevox/internal/command"
	"github.com/MrWong99/gamevox/internal/identify"
	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/speaker"
)

// ExportVersion is written to every export document.
const ExportVersion = 1

// Export is the portable profile document produced by [Service.Export].
type Export struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exported_at"`
	Speakers   []speaker.Profile `json:"speakers"`
}

// ImportResult counts what [Service.Import] did per profile.
type ImportResult struct {
	Added    []string `json:"added"`
	Replaced []string `json:"replaced"`
	Skipped  []string `json:"skipped"`
}

// Registry is the part of [speaker.Registry] the service uses.
type Registry interface {
	Add(ctx context.Context, name string, embedding []float32) (speaker.Profile, error)
	Update(ctx context.Context, name string, embedding []float32) error
	Remove(ctx context.Context, name string) error
	Clear(ctx context.Context) error
	Get(name string) (speaker.Profile, bool)
	Profiles(ctx context.Context) ([]speaker.Profile, error)
}

var _ Registry = (*speaker.Registry)(nil)

// Extractor runs command extraction.
type Extractor interface {
	Extract(ctx context.Context, text string) command.Parsed
}

// Ranker scores a window against every enrolled speaker.
type Ranker interface {
	Rank(ctx context.Context, w audio.Window, mode identify.Mode, k int) ([]identify.Match, error)
}

var _ Ranker = (*identify.Identifier)(nil)

// Option configures a [Service].
type Option func(*Service)

// WithRanker enables [Service.Identify].
func WithRanker(r Ranker) Option { return func(s *Service) { s.ranker = r } }

// Service performs admin operations. Either dependency may be nil when the
// caller only needs the other half.
type Service struct {
	speakers Registry
	commands Extractor
	ranker   Ranker
	now      func() time.Time
}

// New returns a Service.
func New(speakers Registry, commands Extractor, opts ...Option) *Service {
	s := &Service{speakers: speakers, commands: commands, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ErrNoSpeakers is returned by speaker operations on a Service built
// without a registry.
var ErrNoSpeakers = errors.New("admin: no speaker registry")

// ErrNoExtractor is returned by Extract on a Service built without one.
var ErrNoExtractor = errors.New("admin: no command extractor")

// ErrNoRanker is returned by Identify on a Service built without
// [WithRanker].
var ErrNoRanker = errors.New("admin: no speaker identifier")

// Speakers returns all profiles in enrollment order.
func (s *Service) Speakers(ctx context.Context) ([]speaker.Profile, error) {
	if s.speakers == nil {
		return nil, ErrNoSpeakers
	}
	ps, err := s.speakers.Profiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin: list speakers: %w", err)
	}
	return ps, nil
}

// RemoveSpeaker deletes one profile. Unknown names wrap [speaker.ErrNotFound].
func (s *Service) RemoveSpeaker(ctx context.Context, name string) error {
	if s.speakers == nil {
		return ErrNoSpeakers
	}
	if err := s.speakers.Remove(ctx, name); err != nil {
		return fmt.Errorf("admin: remove %q: %w", name, err)
	}
	return nil
}

// ClearSpeakers deletes every profile and returns how many there were.
func (s *Service) ClearSpeakers(ctx context.Context) (int, error) {
	ps, err := s.Speakers(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.speakers.Clear(ctx); err != nil {
		return 0, fmt.Errorf("admin: clear speakers: %w", err)
	}
	return len(ps), nil
}

// Identify ranks a recording against the enrolled speakers, most similar
// first, keeping at most k entries (all when k <= 0). samples must be mono.
func (s *Service) Identify(ctx context.Context, samples []float32, sampleRate int, mode identify.Mode, k int) ([]identify.Match, error) {
	if s.ranker == nil {
		return nil, ErrNoRanker
	}
	w := audio.Window{
		Samples:    samples,
		SampleRate: sampleRate,
		Duration:   audio.DurationOf(len(samples), sampleRate),
		RMS:        audio.RMS(samples),
	}
	ms, err := s.ranker.Rank(ctx, w, mode, k)
	if err != nil {
		return nil, fmt.Errorf("admin: identify: %w", err)
	}
	return ms, nil
}

// Export writes every profile to w as indented JSON.
func (s *Service) Export(ctx context.Context, w io.Writer) (int, error) {
	ps, err := s.Speakers(ctx)
	if err != nil {
		return 0, err
	}
	doc := Export{Version: ExportVersion, ExportedAt: s.now().UTC(), Speakers: ps}
	if doc.Speakers == nil {
		doc.Speakers = []speaker.Profile{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("admin: export: %w", err)
	}
	return len(ps), nil
}

// Import reads an [Export] document from r. Names not yet enrolled are
// added. Existing names are replaced in place when replace is set and
// skipped otherwise. Processing stops at the first store failure; the
// result reports what was done up to that point.
func (s *Service) Import(ctx context.Context, r io.Reader, replace bool) (ImportResult, error) {
	var res ImportResult
	if s.speakers == nil {
		return res, ErrNoSpeakers
	}

	var doc Export
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return res, fmt.Errorf("admin: import: decode: %w", err)
	}
	if doc.Version != ExportVersion {
		return res, fmt.Errorf("admin: import: unsupported version %d", doc.Version)
	}

	for _, p := range doc.Speakers {
		if _, exists := s.speakers.Get(p.Name); exists {
			if !replace {
				res.Skipped = append(res.Skipped, p.Name)
				continue
			}
			if err := s.speakers.Update(ctx, p.Name, p.Embedding); err != nil {
				return res, fmt.Errorf("admin: import %q: %w", p.Name, err)
			}
			res.Replaced = append(res.Replaced, p.Name)
			continue
		}
		if _, err := s.speakers.Add(ctx, p.Name, p.Embedding); err != nil {
			return res, fmt.Errorf("admin: import %q: %w", p.Name, err)
		}
		res.Added = append(res.Added, p.Name)
	}
	return res, nil
}

// Extract runs the command extractor on text.
func (s *Service) Extract(ctx context.Context, text string) (command.Parsed, error) {
	if s.commands == nil {
		return command.Parsed{}, ErrNoExtractor
	}
	return s.commands.Extract(ctx, text), nil
}
