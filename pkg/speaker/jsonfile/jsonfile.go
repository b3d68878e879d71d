// Package jsonfile persists speaker profiles as a single JSON document.
//
// The file holds {"speakers": [...]} in insertion order. Every write
// rewrites the whole document to a temporary file in the same directory
// and renames it over the original, so a crash never leaves a torn file.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/MrWong99/gamevox/pkg/speaker"
)

var _ speaker.Backend = (*Backend)(nil)

type document struct {
	Speakers []speaker.Profile `json:"speakers"`
}

// Backend stores profiles in one JSON file.
type Backend struct {
	path string

	mu       sync.Mutex
	profiles []speaker.Profile
}

// New returns a backend for path. The parent directory is created when
// missing; the file itself is created on first write.
func New(path string) (*Backend, error) {
	if path == "" {
		return nil, errors.New("jsonfile: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: create directory: %w", err)
	}
	return &Backend{path: path}, nil
}

// Path returns the file location.
func (b *Backend) Path() string { return b.path }

// Load reads the file. A missing file yields no profiles.
func (b *Backend) Load(_ context.Context) ([]speaker.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		b.profiles = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jsonfile: read %s: %w", b.path, err)
	}
	var doc document
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("jsonfile: decode %s: %w", b.path, err)
		}
	}
	b.profiles = doc.Speakers
	return slices.Clone(doc.Speakers), nil
}

// Save upserts p and rewrites the file.
func (b *Backend) Save(_ context.Context, p speaker.Profile) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := slices.Clone(b.profiles)
	key := speaker.Key(p.Name)
	i := slices.IndexFunc(next, func(q speaker.Profile) bool { return speaker.Key(q.Name) == key })
	if i >= 0 {
		next[i] = p
	} else {
		next = append(next, p)
	}
	if err := b.write(next); err != nil {
		return err
	}
	b.profiles = next
	return nil
}

// Delete removes the profile with key and rewrites the file.
func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := slices.DeleteFunc(slices.Clone(b.profiles), func(q speaker.Profile) bool {
		return speaker.Key(q.Name) == key
	})
	if len(next) == len(b.profiles) {
		return nil
	}
	if err := b.write(next); err != nil {
		return err
	}
	b.profiles = next
	return nil
}

// Ping checks that the directory is still writable.
func (b *Backend) Ping(_ context.Context) error {
	info, err := os.Stat(filepath.Dir(b.path))
	if err != nil {
		return fmt.Errorf("jsonfile: stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("jsonfile: %s is not a directory", filepath.Dir(b.path))
	}
	return nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

func (b *Backend) write(profiles []speaker.Profile) error {
	if profiles == nil {
		profiles = []speaker.Profile{}
	}
	data, err := json.MarshalIndent(document{Speakers: profiles}, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".speakers-*.json")
	if err != nil {
		return fmt.Errorf("jsonfile: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonfile: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("jsonfile: replace %s: %w", b.path, err)
	}
	return nil
}
