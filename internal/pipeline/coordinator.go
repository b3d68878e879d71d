package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/gamevox/internal/command"
	"github.com/MrWong99/gamevox/internal/identify"
	"github.com/MrWong99/gamevox/internal/observe"
	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/provider/stt"
)

// DefaultJoinTimeout bounds the concurrent recognition step of one window.
const DefaultJoinTimeout = 800 * time.Millisecond

// Identifier answers who is speaking.
type Identifier interface {
	Identify(ctx context.Context, w audio.Window, mode identify.Mode, allowed ...string) (identify.Match, error)
}

// Transcriber answers what was said. It must not fail.
type Transcriber interface {
	Transcribe(ctx context.Context, w audio.Window) stt.Transcript
}

// Extractor finds the command in a transcript. It must not fail.
type Extractor interface {
	Extract(ctx context.Context, text string) command.Parsed
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithJoinTimeout overrides [DefaultJoinTimeout].
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.joinTimeout = d
		}
	}
}

// WithRestrictToPlayers limits gameplay identification to speakers that
// have a player slot.
func WithRestrictToPlayers(on bool) Option {
	return func(c *Coordinator) { c.restrict = on }
}

// WithErrorReporter registers fn to hear about identification store
// failures. It is called once when failures start, not for every window.
func WithErrorReporter(fn func(error)) Option {
	return func(c *Coordinator) { c.onError = fn }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator turns windows into events for one connection. Process may
// be called from one goroutine at a time; Mode and SetMode are safe from
// any goroutine.
type Coordinator struct {
	identifier  Identifier
	transcriber Transcriber
	extractor   Extractor
	router      *Router

	joinTimeout time.Duration
	restrict    bool
	onError     func(error)
	log         *slog.Logger
	metrics     *observe.Metrics
	now         func() time.Time

	mode atomic.Int32

	mu           sync.Mutex
	speech       speechTracker
	storeFailing bool
}

// NewCoordinator wires the recognition stages for one connection.
func NewCoordinator(id Identifier, tr Transcriber, ex Extractor, router *Router, opts ...Option) *Coordinator {
	c := &Coordinator{
		identifier:  id,
		transcriber: tr,
		extractor:   ex,
		router:      router,
		joinTimeout: DefaultJoinTimeout,
		log:         slog.Default(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Mode returns the identification mode used by Run.
func (c *Coordinator) Mode() identify.Mode {
	return identify.Mode(c.mode.Load())
}

// SetMode changes the identification mode for subsequent windows.
func (c *Coordinator) SetMode(m identify.Mode) {
	c.mode.Store(int32(m))
}

// Run processes windows in arrival order until the channel closes or ctx
// ends, calling emit for every routed event. emit runs on Run's goroutine.
func (c *Coordinator) Run(ctx context.Context, windows <-chan audio.Window, emit func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w, ok := <-windows:
			if !ok {
				return nil
			}
			if e, ok := c.Process(ctx, w, c.Mode()); ok {
				emit(e)
			}
		}
	}
}

// Process runs the full recognition path for one window. ok is false when
// the window produced nothing to send: silence, no speech, no command, an
// unassigned speaker, or a cancelled ctx.
func (c *Coordinator) Process(ctx context.Context, w audio.Window, mode identify.Mode) (Event, bool) {
	if w.Silent {
		c.mu.Lock()
		c.speech.silence()
		c.mu.Unlock()
		c.metrics.RecordWindow(ctx, observe.OutcomeSilent)
		return Event{}, false
	}

	start := time.Now()
	ctx, span := observe.StartWindowSpan(ctx, mode.String(), w)
	defer span.End()

	e, outcome := c.process(ctx, w, mode)

	span.SetAttributes(observe.AttrOutcome.String(outcome))
	c.metrics.RecordWindow(ctx, outcome)
	c.metrics.WindowDuration.Record(ctx, time.Since(start).Seconds())
	return e, outcome == observe.OutcomeCommand
}

func (c *Coordinator) process(ctx context.Context, w audio.Window, mode identify.Mode) (Event, string) {
	log := observe.Logger(ctx)

	var allowed []string
	if c.restrict && mode == identify.ModeGameplay {
		allowed = c.router.Speakers()
	}

	// Tasks write only their own result variables. A task that misses the
	// join deadline may still write later, so those are read only when done.
	var (
		idRes identify.Match
		idErr error
		trRes stt.Transcript
	)
	joinCtx, cancel := context.WithTimeout(ctx, c.joinTimeout)
	done := joinAll(joinCtx,
		func(ctx context.Context) { idRes, idErr = c.identifier.Identify(ctx, w, mode, allowed...) },
		func(ctx context.Context) { trRes = c.transcriber.Transcribe(ctx, w) },
	)
	cancel()

	if ctx.Err() != nil {
		return Event{}, observe.OutcomeCancelled
	}
	match := identify.UnknownMatch
	if done[0] {
		match = c.checkIdentify(ctx, idRes, idErr)
	} else {
		log.Debug("pipeline: identification missed join deadline", "timeout", c.joinTimeout)
	}
	var script stt.Transcript
	if done[1] {
		script = trRes
	} else {
		log.Debug("pipeline: transcription missed join deadline", "timeout", c.joinTimeout)
	}

	c.mu.Lock()
	speech := c.speech.observe(match.Name, w.Start, w.Start.Add(w.Duration))
	c.mu.Unlock()

	if script.Empty() || command.IsHallucination(script.Text) {
		log.Debug("pipeline: no speech", "text", script.Text, "speaker", match.Name)
		return Event{}, observe.OutcomeNoSpeech
	}

	parsed := c.extractor.Extract(ctx, script.Text)
	if ctx.Err() != nil {
		return Event{}, observe.OutcomeCancelled
	}
	if !parsed.Found() {
		log.Debug("pipeline: no command", "text", script.Text, "stage", parsed.Stage, "speaker", match.Name)
		return Event{}, observe.OutcomeNoCommand
	}

	draft := Event{
		Timestamp:         c.now().UTC(),
		Speaker:           match.Name,
		SpeakerConfidence: match.Confidence,
		Command:           parsed.Command,
		RawText:           parsed.RawText,
		CommandConfidence: parsed.Confidence,
		Volume:            w.Volume(),
		SpeechDuration:    speech,
	}
	e, ok := c.router.Route(draft)
	if !ok {
		log.Debug("pipeline: speaker has no player", "speaker", match.Name, "command", parsed.Command)
		return Event{}, observe.OutcomeUnassigned
	}

	c.metrics.RecordCommand(ctx, e.Command, e.Player)
	log.Info("command",
		"player", e.Player,
		"speaker", e.Speaker,
		"command", e.Command,
		"stage", parsed.Stage,
		"text", e.RawText,
		"engine", script.Engine,
	)
	return e, observe.OutcomeCommand
}

// checkIdentify turns a store failure into an unknown speaker, reporting
// it the first time it happens.
func (c *Coordinator) checkIdentify(ctx context.Context, m identify.Match, err error) identify.Match {
	c.mu.Lock()
	wasFailing := c.storeFailing
	c.storeFailing = err != nil
	c.mu.Unlock()

	if err == nil {
		if wasFailing {
			observe.Logger(ctx).Info("pipeline: speaker store recovered")
		}
		return m
	}
	if !wasFailing {
		observe.Logger(ctx).Error("pipeline: speaker identification failed", "err", err)
		if c.onError != nil {
			c.onError(err)
		}
	}
	return identify.UnknownMatch
}

// joinAll runs every task in its own goroutine and waits until all have
// returned or ctx ends. done[i] reports whether task i finished; state
// written by an unfinished task must not be read.
func joinAll(ctx context.Context, tasks ...func(context.Context)) []bool {
	done := make([]bool, len(tasks))
	finished := make(chan int, len(tasks))
	for i, task := range tasks {
		go func() {
			task(ctx)
			finished <- i
		}()
	}
	for range tasks {
		select {
		case i := <-finished:
			done[i] = true
		case <-ctx.Done():
			return done
		}
	}
	return done
}
