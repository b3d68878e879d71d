// Package speaker holds the enrolled-speaker registry: named voiceprints
// that identification compares live audio against.
//
// A [Registry] keeps every [Profile] in memory in insertion order behind a
// single-writer/many-reader lock and writes through to a persistent
// [Backend] (JSON file, Badger, or PostgreSQL). Identification reads the
// in-memory snapshot, so lookups never touch the backend.
package speaker

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Sentinel errors returned by the registry and its backends.
var (
	// ErrNotFound is returned when no profile exists for a name.
	ErrNotFound = errors.New("speaker: not found")

	// ErrDuplicate is returned when adding a name that is already enrolled.
	// Names are compared case-insensitively.
	ErrDuplicate = errors.New("speaker: already enrolled")

	// ErrInvalidName is returned for empty or whitespace-only names.
	ErrInvalidName = errors.New("speaker: invalid name")

	// ErrInvalidEmbedding is returned for empty, zero-norm, or non-finite
	// embeddings, and for embeddings whose dimension differs from the rest
	// of the registry.
	ErrInvalidEmbedding = errors.New("speaker: invalid embedding")

	// ErrClosed is returned by a registry after Close. Identification treats
	// it as a store failure.
	ErrClosed = errors.New("speaker: registry closed")
)

// Profile is one enrolled speaker.
type Profile struct {
	// ID is a stable opaque identifier (UUID) assigned at enrollment.
	ID string `json:"id"`

	// Name is the display name. Unique within a registry, case-insensitively.
	Name string `json:"name"`

	// Embedding is the L2-normalized voiceprint.
	Embedding []float32 `json:"embedding"`

	// CreatedAt is when the profile was enrolled.
	CreatedAt time.Time `json:"enrolled_at"`
}

// Key returns the lookup key for a speaker name: trimmed and lowercased.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Normalize returns a unit-length copy of v. It fails when v is empty,
// contains NaN or Inf, or has zero norm.
func Normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrInvalidEmbedding)
	}
	f := toFloat64(v)
	for _, x := range f {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: non-finite component", ErrInvalidEmbedding)
		}
	}
	n := floats.Norm(f, 2)
	if n == 0 {
		return nil, fmt.Errorf("%w: zero norm", ErrInvalidEmbedding)
	}
	floats.Scale(1/n, f)
	out := make([]float32, len(f))
	for i, x := range f {
		out[i] = float32(x)
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. Mismatched
// lengths or zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	fa, fb := toFloat64(a), toFloat64(b)
	na, nb := floats.Norm(fa, 2), floats.Norm(fb, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(fa, fb) / (na * nb)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func cloneProfile(p Profile) Profile {
	p.Embedding = append([]float32(nil), p.Embedding...)
	return p
}
