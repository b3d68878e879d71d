package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/gamevox/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
commands:
  vocabulary: [jump, duck]
providers:
  stt:
    name: whisper
    base_url: http://localhost:8080
`

const watcherUpdatedYAML = `
server:
  log_level: debug
commands:
  vocabulary: [jump, duck, run]
providers:
  stt:
    name: whisper
    base_url: http://localhost:8080
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// writeFile writes content and pushes the mtime forward so a change is
// visible even on filesystems with coarse timestamps.
func writeFile(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	if bump > 0 {
		at := time.Now().Add(bump)
		if err := os.Chtimes(path, at, at); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
}

type recorder struct {
	mu    sync.Mutex
	calls [][2]*config.Config
}

func (r *recorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]*config.Config{old, new})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newWatcher(t *testing.T, content string) (*config.Watcher, *recorder, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content, 0)
	rec := &recorder{}
	w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, rec, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _, _ := newWatcher(t, watcherValidYAML)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherValidYAML)

	writeFile(t, path, watcherUpdatedYAML, time.Second)
	if changed, err := w.Check(); !changed || err != nil {
		t.Fatalf("Check() = %v, %v; want true, nil", changed, err)
	}

	if rec.count() != 1 {
		t.Fatalf("callback calls = %d, want 1", rec.count())
	}
	old, cur := rec.calls[0][0], rec.calls[0][1]
	if old.Server.LogLevel != config.LogInfo || cur.Server.LogLevel != config.LogDebug {
		t.Errorf("callback got %q -> %q", old.Server.LogLevel, cur.Server.LogLevel)
	}
	if got := w.Current().Commands.Vocabulary; len(got) != 3 {
		t.Errorf("Current vocabulary = %v", got)
	}

	d := config.Diff(old, cur)
	if !d.LogLevelChanged || !d.VocabularyChanged || len(d.RestartRequired) != 0 {
		t.Errorf("diff = %+v", d)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherValidYAML)

	writeFile(t, path, watcherInvalidYAML, time.Second)
	if changed, err := w.Check(); changed || err == nil {
		t.Fatalf("Check() = %v, %v; want false and a validation error", changed, err)
	}
	// The same broken version is reported once.
	if _, err := w.Check(); err != nil {
		t.Errorf("second Check() = %v, want nil", err)
	}

	if rec.count() != 0 {
		t.Errorf("callback calls = %d for invalid config", rec.count())
	}

	// Fixing the file applies it.
	writeFile(t, path, watcherUpdatedYAML, 2*time.Second)
	if changed, err := w.Check(); !changed || err != nil {
		t.Fatalf("Check() after fix = %v, %v", changed, err)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() = %q after fix", w.Current().Server.LogLevel)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherValidYAML)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Check(); err == nil {
		t.Error("Check() on removed file returned nil error")
	}
	if rec.count() != 0 || w.Current() == nil {
		t.Errorf("removed file changed state: calls=%d current=%v", rec.count(), w.Current())
	}
}

func TestWatcher_InvalidEditLeavesCurrent(t *testing.T) {
	t.Parallel()
	w, _, path := newWatcher(t, watcherValidYAML)
	writeFile(t, path, watcherInvalidYAML, time.Second)
	_, _ = w.Check()
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() changed to %q", w.Current().Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherValidYAML)

	at := time.Now().Add(time.Second)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if changed, err := w.Check(); changed || err != nil {
		t.Errorf("Check() = %v, %v for touch-only", changed, err)
	}

	if rec.count() != 0 {
		t.Errorf("callback fired %d times for touch-only", rec.count())
	}
}

func TestWatcher_Run(t *testing.T) {
	t.Parallel()
	w, rec, path := newWatcher(t, watcherValidYAML)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, path, watcherUpdatedYAML, time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() != 1 {
		t.Errorf("callback calls = %d, want 1", rec.count())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
