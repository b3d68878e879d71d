package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock for breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openBreaker(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for range n {
		_ = cb.Execute(func() error { return errTest })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after %d failures", cb.State(), n)
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "whisper"})
	if cb.cfg.MaxFailures != DefaultMaxFailures || cb.cfg.ResetTimeout != DefaultResetTimeout || cb.cfg.HalfOpenMax != DefaultHalfOpenMax {
		t.Errorf("config = %+v, want defaults", cb.cfg)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "whisper" {
		t.Errorf("Name() = %q, want whisper", cb.Name())
	}
}

func TestCircuitBreaker_ClosedState(t *testing.T) {
	t.Parallel()

	canceled := context.Canceled
	deadline := context.DeadlineExceeded
	tests := []struct {
		name    string
		results []error
		want    State
	}{
		{name: "below threshold", results: []error{errTest, errTest}, want: StateClosed},
		{name: "threshold opens", results: []error{errTest, errTest, errTest}, want: StateOpen},
		{name: "success resets the count", results: []error{errTest, errTest, nil, errTest, errTest}, want: StateClosed},
		{name: "cancellation is not a failure", results: []error{canceled, canceled, canceled, canceled}, want: StateClosed},
		{name: "deadline is a failure", results: []error{deadline, deadline, deadline}, want: StateOpen},
		{name: "cancellation does not reset", results: []error{errTest, errTest, canceled, errTest}, want: StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm", MaxFailures: 3, ResetTimeout: time.Hour})
			for i, res := range tt.results {
				if err := cb.Execute(func() error { return res }); !errors.Is(err, res) {
					t.Fatalf("call %d: err = %v, want %v passed through", i, err, res)
				}
			}
			if got := cb.State(); got != tt.want {
				t.Fatalf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm", MaxFailures: 3, ResetTimeout: time.Hour})
	openBreaker(t, cb, 3)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn ran while the breaker is open")
	}
}

func TestCircuitBreaker_HalfOpenTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		probes []error
		want   State
	}{
		{"successful probes close", []error{nil, nil}, StateClosed},
		{"failing probe re-opens", []error{errTest}, StateOpen},
		{"one success stays half-open", []error{nil}, StateHalfOpen},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			clk := newFakeClock()
			cb := NewCircuitBreaker(CircuitBreakerConfig{
				Name:         "test",
				MaxFailures:  2,
				ResetTimeout: time.Second,
				HalfOpenMax:  2,
				Now:          clk.Now,
			})
			_ = cb.Execute(func() error { return errTest })
			_ = cb.Execute(func() error { return errTest })

			clk.Advance(999 * time.Millisecond)
			if cb.State() != StateOpen {
				t.Fatalf("state = %v before reset timeout, want open", cb.State())
			}
			clk.Advance(time.Millisecond)
			if cb.State() != StateHalfOpen {
				t.Fatalf("state = %v after reset timeout, want half-open", cb.State())
			}

			for _, perr := range tc.probes {
				_ = cb.Execute(func() error { return perr })
			}

			cb.mu.Lock()
			got := cb.state
			cb.mu.Unlock()
			if got != tc.want {
				t.Fatalf("state = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name: "test", MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 2, Now: clk.Now,
	})
	_ = cb.Execute(func() error { return errTest })
	clk.Advance(time.Second)

	// Two probes in flight exhaust the budget; a third is rejected.
	release := make(chan struct{})
	var wg sync.WaitGroup
	started := make(chan struct{}, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("third probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	wg.Wait()

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after two successful probes", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()

	var (
		mu  sync.Mutex
		got []string
	)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "llm",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		Now:          clk.Now,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			got = append(got, name+":"+from.String()+">"+to.String())
			mu.Unlock()
		},
	})

	_ = cb.Execute(func() error { return errTest })
	clk.Advance(time.Second)
	_ = cb.Execute(func() error { return nil })

	want := []string{"llm:closed>open", "llm:open>half-open", "llm:half-open>closed"}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour})
	openBreaker(t, cb, 2)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for st, want := range map[State]string{
		StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(99): "unknown", State(-1): "unknown",
	} {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(st), got, want)
		}
	}
}

func TestCircuitBreaker_CanceledProbeKeepsBudget(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name: "deepgram", MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1, Now: clk.Now,
	})
	openBreaker(t, cb, 1)
	clk.Advance(time.Second)

	for range 3 {
		if err := cb.Execute(func() error { return context.Canceled }); !errors.Is(err, context.Canceled) {
			t.Fatalf("canceled probe err = %v, want context.Canceled", err)
		}
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe after cancellations rejected: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}
