package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/gamevox/internal/enroll"
	"github.com/MrWong99/gamevox/internal/identify"
	"github.com/MrWong99/gamevox/internal/observe"
	"github.com/MrWong99/gamevox/internal/pipeline"
	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/speaker"
)

// conn is one client. The reader goroutine owns the converter and all
// control handling; a listen goroutine runs the coordinator while
// listening; enrollment completion runs on its own goroutine.
type conn struct {
	id  string
	srv *Server
	ws  *websocket.Conn
	log *slog.Logger

	buf    *audio.Buffer
	coord  *pipeline.Coordinator
	enroll *enroll.Session
	conv   *audio.Converter

	mu           sync.Mutex
	listenCtx    context.Context
	listenCancel context.CancelFunc
	listenDone   chan struct{}

	tasks sync.WaitGroup
}

func newConn(s *Server, ws *websocket.Conn) (*conn, error) {
	id := uuid.NewString()
	c := &conn{
		id:  id,
		srv: s,
		ws:  ws,
		log: s.log.With("conn_id", id),
	}

	bufCfg := s.cfg.Buffer
	bufCfg.OnDrop = func(n int) {
		s.metrics.RecordDroppedSamples(context.Background(), n)
	}
	c.buf = audio.NewBuffer(bufCfg)
	conv, err := audio.NewConverter(audio.Mono16k, audio.Mono16k)
	if err != nil {
		return nil, fmt.Errorf("server: audio converter: %w", err)
	}
	c.conv = conv

	c.coord = pipeline.NewCoordinator(
		s.deps.Identifier,
		s.deps.Transcriber,
		s.deps.Commands,
		s.deps.Router,
		pipeline.WithJoinTimeout(s.cfg.JoinTimeout),
		pipeline.WithRestrictToPlayers(s.cfg.RestrictToPlayers),
		pipeline.WithErrorReporter(c.reportError),
		pipeline.WithLogger(c.log),
		pipeline.WithMetrics(s.metrics),
	)
	c.coord.SetMode(s.cfg.DefaultMode)

	c.enroll = enroll.New(s.cfg.Enrollment, s.deps.Voiceprint, s.deps.Speakers,
		enroll.WithLogger(c.log),
		enroll.WithProgress(c.sendProgress),
	)
	return c, nil
}

// serve reads frames until the client leaves or ctx ends.
func (c *conn) serve(ctx context.Context) error {
	ctx = observe.WithConnID(ctx, c.id)
	defer c.cleanup()

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			c.handleAudio(ctx, data)
		case websocket.MessageText:
			msg, err := DecodeInbound(data)
			if err != nil {
				c.send(ctx, newError(err.Error()))
				continue
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *conn) cleanup() {
	c.stopListening()
	c.enroll.Cancel()
	c.tasks.Wait()
}

func (c *conn) handle(ctx context.Context, msg Inbound) {
	switch m := msg.(type) {
	case StartListening:
		c.startListening(ctx, m)
	case StopListening, StartDance:
		c.stopListening()
		c.send(ctx, bare{Type: "listening_stopped"})
	case StartEnrollment:
		c.startEnrollment(ctx, m)
	case CompleteEnrollment:
		c.tasks.Add(1)
		go func() {
			defer c.tasks.Done()
			c.completeEnrollment(ctx, m.Name)
		}()
	case CancelEnrollment:
		c.enroll.Cancel()
		c.send(ctx, bare{Type: "enrollment_cancelled"})
	case ListSpeakers:
		names := c.srv.deps.Speakers.Names()
		if names == nil {
			names = []string{}
		}
		c.send(ctx, speakersList{Type: "speakers_list", Speakers: names})
	case RemoveSpeaker:
		err := c.srv.deps.Speakers.Remove(ctx, m.Name)
		if err != nil && !errors.Is(err, speaker.ErrNotFound) {
			c.log.Warn("remove speaker failed", "name", m.Name, "err", err)
		}
		c.send(ctx, speakerRemoved{Type: "speaker_removed", Name: m.Name, Success: err == nil})
	case Ping:
		c.send(ctx, bare{Type: "pong"})
	}
}

// handleAudio routes a PCM frame to the enrollment recording when one is
// active and to the live buffer otherwise. Frames arriving while neither
// is active are dropped.
func (c *conn) handleAudio(ctx context.Context, data []byte) {
	samples, err := audio.DecodePCM16LE(data)
	if err != nil {
		c.send(ctx, newError(err.Error()))
		return
	}
	samples, err = c.conv.Convert(samples)
	if err != nil {
		c.log.Warn("audio conversion failed", "err", err)
		return
	}
	if c.enroll.Append(samples) {
		return
	}
	if c.listening() {
		c.buf.Append(audio.Chunk{Samples: samples})
	}
}

func (c *conn) startListening(ctx context.Context, m StartListening) {
	mode := c.srv.cfg.DefaultMode
	if m.Mode != "" {
		var err error
		if mode, err = identify.ParseMode(m.Mode); err != nil {
			c.send(ctx, newError(err.Error()))
			return
		}
	}

	src := audio.Format{SampleRate: m.SampleRate, Channels: m.Channels}
	if src.SampleRate == 0 {
		src.SampleRate = audio.DefaultSampleRate
	}
	if src.Channels == 0 {
		src.Channels = 1
	}
	conv, err := audio.NewConverter(src, audio.Mono16k)
	if err != nil {
		c.send(ctx, newError(err.Error()))
		return
	}

	c.stopListening()
	c.conv = conv
	c.coord.SetMode(mode)

	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.listenCtx, c.listenCancel, c.listenDone = lctx, cancel, done
	c.mu.Unlock()

	windows := c.buf.Windows(lctx)
	go func() {
		defer close(done)
		err := c.coord.Run(lctx, windows, func(e pipeline.Event) {
			if lctx.Err() != nil {
				return
			}
			c.send(lctx, newCommandMessage(e))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn("pipeline stopped", "err", err)
		}
		// The producer must be gone before done closes, or it could take
		// the ready signal meant for the next session's producer.
		cancel()
		for range windows {
		}
	}()

	c.log.Info("listening started", "mode", mode, "format", src)
	c.send(ctx, bare{Type: "listening_started"})
}

// stopListening abandons in-flight recognition and discards buffered audio.
// It is a no-op when not listening.
func (c *conn) stopListening() {
	c.mu.Lock()
	cancel, done := c.listenCancel, c.listenDone
	c.listenCtx, c.listenCancel, c.listenDone = nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.buf.Reset()
	c.log.Info("listening stopped")
}

func (c *conn) listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listenCtx != nil
}

func (c *conn) startEnrollment(ctx context.Context, m StartEnrollment) {
	c.stopListening()
	hint, err := c.enroll.Start(m.Name)
	switch {
	case errors.Is(err, speaker.ErrInvalidName):
		c.send(ctx, newError("Name is required for enrollment"))
		return
	case errors.Is(err, enroll.ErrAlreadyRecording):
		c.send(ctx, newError("Enrollment already in progress"))
		return
	case err != nil:
		c.send(ctx, newError(err.Error()))
		return
	}
	c.send(ctx, enrollmentStarted{
		Type:            "enrollment_started",
		Name:            c.enroll.Name(),
		DurationSeconds: hint.Seconds(),
	})
}

func (c *conn) completeEnrollment(ctx context.Context, name string) {
	p, err := c.enroll.Complete(ctx, name)
	if name == "" {
		name = c.enroll.Name()
	}

	status := "committed"
	switch {
	case err == nil:
		c.send(ctx, newEnrollmentComplete(true, p.Name, fmt.Sprintf("Enrolled %s", p.Name)))
	case errors.Is(err, enroll.ErrNotRecording):
		c.send(ctx, newError("No enrollment in progress"))
		return
	case errors.Is(err, enroll.ErrCancelled):
		status = "cancelled"
	case errors.Is(err, enroll.ErrTooShort):
		status = "too_short"
		c.send(ctx, newEnrollmentComplete(false, "", "Not enough audio collected"))
	case errors.Is(err, speaker.ErrDuplicate):
		status = "duplicate"
		c.send(ctx, newEnrollmentComplete(false, "", fmt.Sprintf("speaker %s already enrolled", name)))
	default:
		status = "failed"
		c.log.Error("enrollment failed", "name", name, "err", err)
		c.send(ctx, newEnrollmentComplete(false, "", fmt.Sprintf("Enrollment failed: %v", err)))
	}
	c.srv.metrics.RecordEnrollment(ctx, status)
}

func (c *conn) sendProgress(p enroll.Progress) {
	c.send(context.Background(), enrollmentProgress{
		Type:            "enrollment_progress",
		Name:            p.Name,
		ElapsedSeconds:  p.Elapsed.Seconds(),
		RecordedSeconds: p.Recorded.Seconds(),
	})
}

func (c *conn) reportError(err error) {
	c.send(context.Background(), newError(err.Error()))
}

// send writes one JSON message. Failures are logged only: a broken
// transport surfaces on the next Read and ends the connection.
func (c *conn) send(ctx context.Context, v any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.srv.cfg.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, v); err != nil {
		c.log.Debug("write failed", "err", err)
	}
}
