// Package mock provides an in-memory test double for [speaker.Backend].
//
// Backend keeps profiles in insertion order like the real backends and
// records every call. Set the Err fields to inject failures:
//
//	b := &mock.Backend{SaveErr: errors.New("disk full")}
//	reg, _ := speaker.Open(ctx, b)
//	_, err := reg.Add(ctx, "Ann", emb) // wraps "disk full"
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/gamevox/pkg/speaker"
)

// Backend is a mock implementation of speaker.Backend.
type Backend struct {
	mu sync.Mutex

	// Stored is the current content, in insertion order. Tests may seed it
	// before calling speaker.Open.
	Stored []speaker.Profile

	// LoadErr, if non-nil, is returned by Load.
	LoadErr error

	// SaveErr, if non-nil, is returned by Save and nothing is stored.
	SaveErr error

	// DeleteErr, if non-nil, is returned by Delete and nothing is removed.
	DeleteErr error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// SaveCalls records every profile passed to Save.
	SaveCalls []speaker.Profile

	// DeleteCalls records every key passed to Delete.
	DeleteCalls []string

	// Closed is set by Close.
	Closed bool
}

// Load returns a copy of Stored.
func (b *Backend) Load(_ context.Context) ([]speaker.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.LoadErr != nil {
		return nil, b.LoadErr
	}
	return slices.Clone(b.Stored), nil
}

// Save upserts p by key.
func (b *Backend) Save(_ context.Context, p speaker.Profile) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SaveCalls = append(b.SaveCalls, p)
	if b.SaveErr != nil {
		return b.SaveErr
	}
	for i := range b.Stored {
		if speaker.Key(b.Stored[i].Name) == speaker.Key(p.Name) {
			b.Stored[i] = p
			return nil
		}
	}
	b.Stored = append(b.Stored, p)
	return nil
}

// Delete removes the profile with key.
func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DeleteCalls = append(b.DeleteCalls, key)
	if b.DeleteErr != nil {
		return b.DeleteErr
	}
	b.Stored = slices.DeleteFunc(b.Stored, func(p speaker.Profile) bool {
		return speaker.Key(p.Name) == key
	})
	return nil
}

// Ping returns PingErr.
func (b *Backend) Ping(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.PingErr
}

// Close marks the backend closed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}

var _ speaker.Backend = (*Backend)(nil)
