// Package server exposes the recognition pipeline to capture clients over a
// websocket.
//
// Each connection exchanges JSON control messages (text frames) and raw
// PCM16LE audio (binary frames). Recognized commands are pushed back as
// "command" messages while the client is listening.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/gamevox/internal/enroll"
	"github.com/MrWong99/gamevox/internal/health"
	"github.com/MrWong99/gamevox/internal/identify"
	"github.com/MrWong99/gamevox/internal/observe"
	"github.com/MrWong99/gamevox/internal/pipeline"
	"github.com/MrWong99/gamevox/pkg/audio"
	"github.com/MrWong99/gamevox/pkg/provider/voiceprint"
)

// SpeakerStore is the part of the speaker registry the server uses.
type SpeakerStore interface {
	enroll.Store
	Names() []string
	Remove(ctx context.Context, name string) error
}

// Deps are the shared components every connection uses.
type Deps struct {
	Speakers    SpeakerStore
	Voiceprint  voiceprint.Extractor
	Identifier  pipeline.Identifier
	Transcriber pipeline.Transcriber
	Commands    pipeline.Extractor
	Router      *pipeline.Router
}

func (d Deps) validate() error {
	var errs []error
	if d.Speakers == nil {
		errs = append(errs, errors.New("speaker store is required"))
	}
	if d.Voiceprint == nil {
		errs = append(errs, errors.New("voiceprint extractor is required"))
	}
	if d.Identifier == nil {
		errs = append(errs, errors.New("identifier is required"))
	}
	if d.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if d.Commands == nil {
		errs = append(errs, errors.New("command extractor is required"))
	}
	if d.Router == nil {
		errs = append(errs, errors.New("router is required"))
	}
	return errors.Join(errs...)
}

// Config tunes the server. Zero values take defaults.
type Config struct {
	// Addr to listen on. Default: ":8765".
	Addr string

	// AllowedOrigins are host patterns accepted for cross-origin websocket
	// upgrades. Empty means same-origin only.
	AllowedOrigins []string

	// ReadLimit caps a single inbound frame in bytes. Default: 1 MiB.
	ReadLimit int64

	// WriteTimeout bounds each outbound message. Default: 5s.
	WriteTimeout time.Duration

	// Buffer configures each connection's audio buffer.
	Buffer audio.BufferConfig

	// Enrollment configures each connection's enrollment session.
	Enrollment enroll.Config

	// JoinTimeout bounds speaker identification and transcription of one
	// window. Default: [pipeline.DefaultJoinTimeout].
	JoinTimeout time.Duration

	// RestrictToPlayers limits gameplay identification to assigned speakers.
	RestrictToPlayers bool

	// DefaultMode applies when start_listening names no mode.
	DefaultMode identify.Mode
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8765"
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = pipeline.DefaultJoinTimeout
	}
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics sets the metrics instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// Server accepts capture clients.
type Server struct {
	cfg            Config
	deps           Deps
	log            *slog.Logger
	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler

	mu       sync.Mutex
	conns    map[*conn]struct{}
	draining bool
}

// New validates deps and returns a server. It does not listen yet.
func New(cfg Config, deps Deps, opts ...Option) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	cfg.applyDefaults()
	s := &Server{
		cfg:   cfg,
		deps:  deps,
		log:   slog.Default(),
		conns: make(map[*conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Handler returns the HTTP routes wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves on cfg.Addr until ctx ends, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends. Open websockets are
// closed with "going away" before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("server listening", "addr", ln.Addr().String())
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.closeAll()
		return hs.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Connections returns the number of open websockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.isDraining() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)

	c, err := newConn(s, ws)
	if err != nil {
		s.log.Error("connection setup failed", "err", err)
		ws.Close(websocket.StatusInternalError, "connection setup failed")
		return
	}
	if !s.track(c) {
		ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.untrack(c)

	ctx := r.Context()
	s.metrics.ActiveConnections.Add(ctx, 1)
	defer s.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)

	c.log.Info("client connected", "remote", r.RemoteAddr)
	err = c.serve(ctx)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		c.log.Info("client disconnected")
	default:
		if errors.Is(err, context.Canceled) || s.isDraining() {
			c.log.Info("client disconnected")
		} else {
			c.log.Warn("connection closed", "err", err)
		}
		ws.Close(websocket.StatusInternalError, "connection error")
	}
}

func (s *Server) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// closeAll stops accepting websockets and closes the open ones.
func (s *Server) closeAll() {
	if s.health != nil {
		s.health.SetDraining(true)
	}
	s.mu.Lock()
	s.draining = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
