package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result. It wraps the last entry's error.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the breaker template applied to every entry of a
// [FallbackGroup]. Each entry gets its own breaker named after it.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable providers, each
// behind its own [CircuitBreaker]. [Call] walks the list until one entry
// answers.
//
// The recognition path has one deadline per window, so a context error
// ends the walk at once instead of eating into the next entry's share.
//
// Register all entries before sharing the group between goroutines.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     CircuitBreakerConfig
	log     *slog.Logger
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg.CircuitBreaker, log: cfg.CircuitBreaker.Logger}
	if fg.log == nil {
		fg.log = slog.Default()
	}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	cfg := fg.cfg
	cfg.Name = name
	fg.members = append(fg.members, member[T]{name: name, value: v, breaker: NewCircuitBreaker(cfg)})
}

// Primary returns the first entry's name.
func (fg *FallbackGroup[T]) Primary() string { return fg.members[0].name }

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.members))
	for i, m := range fg.members {
		out[i] = m.name
	}
	return out
}

// States reports each entry's breaker state by name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.members))
	for _, m := range fg.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Available reports whether at least one entry would accept a call right
// now. Half-open counts as available.
func (fg *FallbackGroup[T]) Available() bool {
	for _, m := range fg.members {
		if m.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Call runs fn against each entry in order and returns the first success
// together with the name of the entry that produced it. Open breakers are
// skipped without calling fn.
func Call[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var zero R
	var last error
	for i := range fg.members {
		m := &fg.members[i]
		var res R
		err := m.breaker.Execute(func() error {
			var err error
			res, err = fn(m.value)
			return err
		})
		switch {
		case err == nil:
			return res, m.name, nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return zero, "", fmt.Errorf("%s: %w", m.name, err)
		case errors.Is(err, ErrCircuitOpen):
			fg.log.Debug("resilience: skipping open provider", "provider", m.name)
		default:
			fg.log.Warn("resilience: provider failed", "provider", m.name, "err", err)
		}
		last = err
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, last)
}
