// Package resilience keeps a failing dependency from stalling recognition.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open). In
// gamevox it guards the calls that leave the process: the LLM command
// parser, whose budget is a few hundred milliseconds, and cloud
// transcribers. An open breaker turns a dead endpoint into an immediate
// [ErrCircuitOpen] instead of a timeout on every window. [FallbackGroup]
// orders several instances of one provider type, each behind its own
// breaker.
//
// A call that ends with [context.Canceled] is not counted: the caller gave
// up (listening stopped, connection closed), the dependency did not fail.
// [context.DeadlineExceeded] is counted.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the guarded function while a
// breaker is open or its half-open probe budget is spent.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects every call until the reset timeout has passed.
	StateOpen
	// StateHalfOpen lets a limited number of probes through. Enough
	// successes close the breaker, any failure opens it again.
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Breaker defaults, applied to zero fields of [CircuitBreakerConfig].
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// CircuitBreakerConfig tunes a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and OnStateChange calls.
	Name string

	// MaxFailures consecutive failures open a closed breaker.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	ResetTimeout time.Duration

	// HalfOpenMax is both the number of probes admitted in half-open and
	// the number of successes needed to close.
	HalfOpenMax int

	// Logger receives transitions. Nil means slog.Default().
	Logger *slog.Logger

	// OnStateChange runs after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = DefaultHalfOpenMax
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// CircuitBreaker guards one dependency.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int       // consecutive, closed state only
	openedAt time.Time // last failure that (re)opened or kept it open
	probes   int       // admitted in the current half-open period
	passed   int       // successful probes in the current half-open period
}

// NewCircuitBreaker returns a closed breaker. Zero config fields take the
// Default* values.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults()}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// ticket records how a call was admitted so its outcome is booked against
// the right period.
type ticket struct {
	probe bool
}

// Execute calls fn unless the breaker rejects it with [ErrCircuitOpen], and
// books fn's result. fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	t, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(t, err)
	return err
}

func (cb *CircuitBreaker) admit() (ticket, error) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			cb.mu.Unlock()
			return ticket{}, ErrCircuitOpen
		}
		cb.state, cb.probes, cb.passed = StateHalfOpen, 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			cb.mu.Unlock()
			return ticket{}, ErrCircuitOpen
		}
		cb.probes++
	}
	t := ticket{probe: cb.state == StateHalfOpen}
	to := cb.state
	cb.mu.Unlock()

	cb.transitioned(from, to)
	return t, nil
}

func (cb *CircuitBreaker) settle(t ticket, err error) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case errors.Is(err, context.Canceled):
		// Nothing learned; a probe gets its slot back.
		if t.probe && cb.state == StateHalfOpen {
			cb.probes--
		}
	case err != nil:
		cb.openedAt = cb.cfg.Now()
		if t.probe {
			if cb.state == StateHalfOpen {
				cb.state = StateOpen
			}
			break
		}
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			cb.state = StateOpen
		}
	case t.probe:
		// A probe that finishes after another probe failed books nothing.
		if cb.state != StateHalfOpen {
			break
		}
		cb.passed++
		if cb.passed >= cb.cfg.HalfOpenMax {
			cb.close()
		}
	default:
		cb.failures = 0
	}
	to := cb.state
	cb.mu.Unlock()

	cb.transitioned(from, to)
}

// close resets every counter. cb.mu must be held.
func (cb *CircuitBreaker) close() {
	cb.state, cb.failures, cb.probes, cb.passed = StateClosed, 0, 0, 0
}

func (cb *CircuitBreaker) transitioned(from, to State) {
	if from == to {
		return
	}
	lvl := slog.LevelInfo
	if to == StateOpen {
		lvl = slog.LevelWarn
	}
	cb.cfg.Logger.Log(context.Background(), lvl, "circuit breaker state change",
		"name", cb.cfg.Name, "from", from.String(), "to", to.String())
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the breaker's state. An open breaker whose reset timeout
// has passed reports [StateHalfOpen]; the switch itself happens on the
// next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.close()
	cb.mu.Unlock()
	cb.transitioned(from, StateClosed)
}
