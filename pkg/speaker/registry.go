package speaker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Option configures a [Registry].
type Option func(*Registry)

// WithLogger sets the registry's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithDimensions pins the embedding dimension. Profiles of any other
// length are rejected. When unset, the first profile added fixes it.
func WithDimensions(n int) Option {
	return func(r *Registry) { r.dims = n }
}

// WithClock overrides time.Now for CreatedAt stamps. Useful in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is the shared enrolled-speaker store. Reads (identification
// lookups, listings) may run concurrently with each other; writes (enroll,
// remove) take the lock exclusively and are written through to the
// [Backend] before becoming visible.
type Registry struct {
	backend Backend
	log     *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	profiles []Profile
	index    map[string]int
	dims     int
	closed   bool
}

// Open loads all profiles from backend and returns a ready registry.
// Profiles with non-normalized embeddings are renormalized on load; those
// that cannot be normalized are skipped with a warning.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Registry, error) {
	r := &Registry{
		backend: backend,
		log:     slog.Default(),
		now:     time.Now,
		index:   make(map[string]int),
	}
	for _, o := range opts {
		o(r)
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("speaker registry: load: %w", err)
	}
	for _, p := range loaded {
		key := Key(p.Name)
		if key == "" {
			r.log.Warn("speaker registry: skipping profile with empty name", "id", p.ID)
			continue
		}
		if _, dup := r.index[key]; dup {
			r.log.Warn("speaker registry: skipping duplicate profile", "name", p.Name)
			continue
		}
		emb, err := Normalize(p.Embedding)
		if err != nil {
			r.log.Warn("speaker registry: skipping profile", "name", p.Name, "err", err)
			continue
		}
		if r.dims == 0 {
			r.dims = len(emb)
		} else if len(emb) != r.dims {
			r.log.Warn("speaker registry: skipping profile with wrong dimension",
				"name", p.Name, "got", len(emb), "want", r.dims)
			continue
		}
		p.Embedding = emb
		r.index[key] = len(r.profiles)
		r.profiles = append(r.profiles, p)
	}
	r.log.Info("speaker registry loaded", "profiles", len(r.profiles))
	return r, nil
}

// Add enrolls a new speaker. The embedding is L2-normalized before being
// stored. Returns [ErrDuplicate] when the name is taken.
func (r *Registry) Add(ctx context.Context, name string, embedding []float32) (Profile, error) {
	key := Key(name)
	if key == "" {
		return Profile{}, ErrInvalidName
	}
	emb, err := Normalize(embedding)
	if err != nil {
		return Profile{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Profile{}, ErrClosed
	}
	if _, ok := r.index[key]; ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	if err := r.checkDims(len(emb)); err != nil {
		return Profile{}, err
	}

	p := Profile{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Embedding: emb,
		CreatedAt: r.now().UTC(),
	}
	if err := r.backend.Save(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("speaker registry: save %q: %w", name, err)
	}
	if r.dims == 0 {
		r.dims = len(emb)
	}
	r.index[key] = len(r.profiles)
	r.profiles = append(r.profiles, p)
	return cloneProfile(p), nil
}

// Update replaces an existing speaker's embedding, keeping its ID,
// creation time, and position in insertion order.
func (r *Registry) Update(ctx context.Context, name string, embedding []float32) error {
	emb, err := Normalize(embedding)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	i, ok := r.index[Key(name)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err := r.checkDims(len(emb)); err != nil {
		return err
	}
	p := r.profiles[i]
	p.Embedding = emb
	if err := r.backend.Save(ctx, p); err != nil {
		return fmt.Errorf("speaker registry: save %q: %w", name, err)
	}
	r.profiles[i] = p
	return nil
}

// Remove deletes a speaker. Returns [ErrNotFound] when absent.
func (r *Registry) Remove(ctx context.Context, name string) error {
	key := Key(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	i, ok := r.index[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err := r.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("speaker registry: delete %q: %w", name, err)
	}
	r.profiles = slices.Delete(r.profiles, i, i+1)
	r.reindex()
	return nil
}

// Clear removes every speaker.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	for len(r.profiles) > 0 {
		p := r.profiles[0]
		if err := r.backend.Delete(ctx, Key(p.Name)); err != nil {
			r.reindex()
			return fmt.Errorf("speaker registry: delete %q: %w", p.Name, err)
		}
		r.profiles = r.profiles[1:]
	}
	r.profiles = nil
	r.reindex()
	return nil
}

// Get returns a copy of the named profile.
func (r *Registry) Get(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[Key(name)]
	if !ok {
		return Profile{}, false
	}
	return cloneProfile(r.profiles[i]), true
}

// Names returns enrolled names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.profiles))
	for i, p := range r.profiles {
		names[i] = p.Name
	}
	return names
}

// Len returns the number of enrolled speakers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

// Profiles returns a snapshot of all profiles in insertion order. The
// embeddings are shared with the registry and must not be modified.
func (r *Registry) Profiles(_ context.Context) ([]Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	return slices.Clone(r.profiles), nil
}

// Dimensions returns the embedding dimension, or 0 if not yet fixed.
func (r *Registry) Dimensions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dims
}

// Ping checks the backend.
func (r *Registry) Ping(ctx context.Context) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return r.backend.Ping(ctx)
}

// Close closes the backend. Subsequent operations return [ErrClosed].
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.backend.Close()
}

func (r *Registry) checkDims(n int) error {
	if r.dims != 0 && n != r.dims {
		return fmt.Errorf("%w: dimension %d, registry uses %d", ErrInvalidEmbedding, n, r.dims)
	}
	return nil
}

// reindex rebuilds the name index. Caller holds the write lock.
func (r *Registry) reindex() {
	clear(r.index)
	for i, p := range r.profiles {
		r.index[Key(p.Name)] = i
	}
}
