package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// snapshot is one successfully parsed version of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher polls a config file and hands every valid change to a callback.
// Invalid edits are logged and skipped; the last good config stays
// current.
type Watcher struct {
	path     string
	every    time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu   sync.Mutex
	last snapshot
	seen time.Time // mtime of the last file read, valid or not
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.every = d
		}
	}
}

// WithWatcherLogger sets the logger. Default: slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher reads path once and fails if that first read is not a valid
// config. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, every: DefaultWatchInterval, onChange: onChange, log: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.last, w.seen = snap, snap.mtime
	return w, nil
}

// Current returns the most recent valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Run polls until ctx ends. It always returns nil so it can sit in an
// errgroup next to the server.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := w.Check(); err != nil {
				w.log.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Check looks at the file once and reports whether a new config was
// applied. An unchanged mtime skips the read and identical content is
// ignored, so touching the file is not a change. A failed read or parse
// is returned and the current config is kept; the same broken version is
// not reported again.
func (w *Watcher) Check() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	stale := info.ModTime().Equal(w.seen)
	w.mu.Unlock()
	if stale {
		return false, nil
	}

	snap, err := readSnapshot(w.path)
	w.mu.Lock()
	w.seen = info.ModTime()
	if err != nil {
		w.mu.Unlock()
		return false, err
	}
	if snap.sum == w.last.sum {
		w.last.mtime = snap.mtime
		w.mu.Unlock()
		return false, nil
	}
	prev := w.last.cfg
	w.last = snap
	w.mu.Unlock()

	w.log.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev, snap.cfg)
	}
	return true, nil
}

func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
