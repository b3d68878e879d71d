// Package enroll records a new speaker's voice and turns it into an
// enrolled profile.
//
// A [Session] belongs to one connection and walks a small state machine:
//
//	Idle → Recording → Finalizing → Committed | Failed
//	          │             │
//	          └──── Cancel ─┴──→ Cancelled
//
// Audio is only accepted while Recording. A terminal session can be started
// again, which begins a fresh recording.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/provider/voiceprint"
	"github.com/MrWong99/gamevox/pkg/speaker"
)

// Sentinel errors.
var (
	// ErrAlreadyRecording is returned by Start while a recording is active
	// or being finalized.
	ErrAlreadyRecording = errors.New("enroll: enrollment already in progress")

	// ErrNotRecording is returned by Complete when nothing is being recorded.
	ErrNotRecording = errors.New("enroll: no enrollment in progress")

	// ErrTooShort is returned by Complete when less than the minimum
	// duration of audio was collected.
	ErrTooShort = errors.New("enroll: not enough audio collected")

	// ErrCancelled is returned by Complete when Cancel won the race against
	// an in-flight finalization.
	ErrCancelled = errors.New("enroll: enrollment cancelled")
)

// State is the lifecycle position of a [Session].
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
	StateCommitted
	StateCancelled
	StateFailed
)

var stateNames = [...]string{"idle", "recording", "finalizing", "committed", "cancelled", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateCancelled || s == StateFailed
}

// Store is where committed profiles go.
type Store interface {
	Add(ctx context.Context, name string, embedding []float32) (speaker.Profile, error)
}

// Progress is reported periodically while recording.
type Progress struct {
	Name     string
	Elapsed  time.Duration
	Recorded time.Duration
}

// Config tunes a [Session]. Zero values take defaults.
type Config struct {
	// SampleRate of appended audio. Default: 16000.
	SampleRate int

	// MinDuration is the least audio Complete accepts. Default: 2s.
	MinDuration time.Duration

	// DurationHint is the recording length suggested to the user. Default: 5s.
	DurationHint time.Duration

	// ProgressInterval is how often progress is reported. Default: 5s.
	ProgressInterval time.Duration

	// ArchiveDir, when set, receives a WAV copy of every committed
	// enrollment.
	ArchiveDir string
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.MinDuration <= 0 {
		c.MinDuration = 2 * time.Second
	}
	if c.DurationHint <= 0 {
		c.DurationHint = 5 * time.Second
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 5 * time.Second
	}
}

// Option configures a [Session].
type Option func(*Session)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithProgress registers fn to receive progress ticks. fn runs on the
// ticker goroutine and must not block for long.
func WithProgress(fn func(Progress)) Option {
	return func(s *Session) { s.onProgress = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is safe for concurrent use: the connection reader appends audio
// while control messages drive the state.
type Session struct {
	cfg        Config
	extractor  voiceprint.Extractor
	store      Store
	log        *slog.Logger
	now        func() time.Time
	onProgress func(Progress)

	mu        sync.Mutex
	state     State
	name      string
	samples   []int16
	startedAt time.Time
	stopTick  chan struct{}
}

// New returns an idle session.
func New(cfg Config, ex voiceprint.Extractor, store Store, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		cfg:       cfg,
		extractor: ex,
		store:     store,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Name returns the name given to Start.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Recorded returns how much audio has been collected.
func (s *Session) Recorded() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.DurationOf(len(s.samples), s.cfg.SampleRate)
}

// Start begins recording for name and returns the suggested duration.
func (s *Session) Start(name string) (time.Duration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, speaker.ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRecording || s.state == StateFinalizing {
		return 0, ErrAlreadyRecording
	}
	s.state = StateRecording
	s.name = name
	s.samples = nil
	s.startedAt = s.now()
	s.stopTick = make(chan struct{})
	go s.tick(s.stopTick, name, s.startedAt)

	s.log.Info("enrollment started", "name", name)
	return s.cfg.DurationHint, nil
}

// Append adds audio while recording. It returns false, dropping the
// samples, in any other state.
func (s *Session) Append(samples []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return false
	}
	s.samples = append(s.samples, samples...)
	return true
}

// Cancel discards the recording. It returns false when there was nothing
// to cancel.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording && s.state != StateFinalizing {
		return false
	}
	s.stopTickerLocked()
	s.state = StateCancelled
	s.samples = nil
	s.log.Info("enrollment cancelled", "name", s.name)
	return true
}

// Complete stops recording and enrolls the speaker. A non-empty name
// replaces the one given to Start. The session ends Committed on success
// and Failed otherwise; store errors such as [speaker.ErrDuplicate] are
// wrapped.
func (s *Session) Complete(ctx context.Context, name string) (speaker.Profile, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return speaker.Profile{}, ErrNotRecording
	}
	if n := strings.TrimSpace(name); n != "" {
		s.name = n
	}
	s.stopTickerLocked()
	s.state = StateFinalizing
	name = s.name
	pcm := s.samples
	s.samples = nil
	s.mu.Unlock()

	recorded := audio.DurationOf(len(pcm), s.cfg.SampleRate)
	if recorded < s.cfg.MinDuration {
		s.finish(StateFailed)
		return speaker.Profile{}, fmt.Errorf("%w: %.1fs of %.1fs", ErrTooShort, recorded.Seconds(), s.cfg.MinDuration.Seconds())
	}

	samples := audio.Int16ToFloat32(pcm)
	emb, err := s.extractor.Extract(ctx, samples, s.cfg.SampleRate)
	if err != nil {
		s.finish(StateFailed)
		return speaker.Profile{}, fmt.Errorf("enroll: extract voiceprint: %w", err)
	}

	// Cancel may have landed while the model ran.
	s.mu.Lock()
	if s.state != StateFinalizing {
		s.mu.Unlock()
		return speaker.Profile{}, ErrCancelled
	}
	p, err := s.store.Add(ctx, name, emb)
	if err != nil {
		s.state = StateFailed
		s.mu.Unlock()
		return speaker.Profile{}, fmt.Errorf("enroll: save %q: %w", name, err)
	}
	s.state = StateCommitted
	s.mu.Unlock()

	if s.cfg.ArchiveDir != "" {
		if path, err := s.archive(p, samples); err != nil {
			s.log.Warn("enroll: archive failed", "name", name, "err", err)
		} else {
			s.log.Debug("enroll: archived", "name", name, "path", path)
		}
	}
	s.log.Info("enrollment committed", "name", p.Name, "id", p.ID, "recorded", recorded)
	return p, nil
}

// finish moves a finalizing session to a terminal state unless Cancel got
// there first.
func (s *Session) finish(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFinalizing {
		s.state = st
	}
}

func (s *Session) stopTickerLocked() {
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
}

func (s *Session) tick(stop <-chan struct{}, name string, started time.Time) {
	if s.onProgress == nil {
		return
	}
	t := time.NewTicker(s.cfg.ProgressInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.mu.Lock()
			// A restart replaces stopTick; only the current ticker reports.
			recording := s.state == StateRecording && s.name == name && s.startedAt.Equal(started)
			recorded := audio.DurationOf(len(s.samples), s.cfg.SampleRate)
			s.mu.Unlock()
			if !recording {
				return
			}
			s.onProgress(Progress{Name: name, Elapsed: s.now().Sub(started), Recorded: recorded})
		}
	}
}

// archive writes the enrollment audio to ArchiveDir.
func (s *Session) archive(p speaker.Profile, samples []float32) (string, error) {
	if err := os.MkdirAll(s.cfg.ArchiveDir, 0o755); err != nil {
		return "", err
	}
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	path := filepath.Join(s.cfg.ArchiveDir, fileSafe(p.Name)+"-"+id+".wav")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := audio.WriteWAV(f, samples, s.cfg.SampleRate); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
