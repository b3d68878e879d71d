package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// engines is a stand-in provider set: each name maps to the error it
// returns, nil meaning success.
type engines map[string]error

func newGroup(order []string, maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup(order[0], order[0], FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	for _, n := range order[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		results    engines
		wantServed string
		wantCalls  []string
		wantErr    error
	}{
		{
			name:       "primary answers",
			results:    engines{"whisper": nil, "deepgram": nil},
			wantServed: "whisper",
			wantCalls:  []string{"whisper"},
		},
		{
			name:       "fails over in order",
			results:    engines{"whisper": errTest, "deepgram": errTest, "openai": nil},
			wantServed: "openai",
			wantCalls:  []string{"whisper", "deepgram", "openai"},
		},
		{
			name:      "all fail",
			results:   engines{"whisper": errTest, "deepgram": errTest, "openai": errTest},
			wantCalls: []string{"whisper", "deepgram", "openai"},
			wantErr:   ErrAllFailed,
		},
		{
			name:      "deadline stops the walk",
			results:   engines{"whisper": context.DeadlineExceeded, "deepgram": nil, "openai": nil},
			wantCalls: []string{"whisper"},
			wantErr:   context.DeadlineExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup([]string{"whisper", "deepgram", "openai"}, 3)

			var calls []string
			got, served, err := Call(fg, func(name string) (string, error) {
				calls = append(calls, name)
				if err := tt.results[name]; err != nil {
					return "", err
				}
				return "text from " + name, nil
			})

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if served != tt.wantServed {
				t.Errorf("served = %q, want %q", served, tt.wantServed)
			}
			if tt.wantServed != "" && got != "text from "+tt.wantServed {
				t.Errorf("result = %q", got)
			}
			if !slices.Equal(calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
			}
		})
	}
}

func TestCall_OpenBreakerIsSkipped(t *testing.T) {
	t.Parallel()
	fg := newGroup([]string{"whisper", "deepgram"}, 1)

	fail := func(name string) (string, error) {
		if name == "whisper" {
			return "", errTest
		}
		return "ok", nil
	}
	// The first call trips whisper's breaker.
	if _, served, _ := Call(fg, fail); served != "deepgram" {
		t.Fatalf("first call served by %q, want deepgram", served)
	}

	var calls []string
	_, served, err := Call(fg, func(name string) (string, error) {
		calls = append(calls, name)
		return fail(name)
	})
	if err != nil || served != "deepgram" {
		t.Fatalf("second call = %q, %v", served, err)
	}
	if !slices.Equal(calls, []string{"deepgram"}) {
		t.Errorf("calls = %v, want only deepgram", calls)
	}
	if st := fg.States(); st["whisper"] != StateOpen || st["deepgram"] != StateClosed {
		t.Errorf("States() = %v", st)
	}
	if !fg.Available() {
		t.Error("Available() = false with deepgram closed")
	}
}

func TestCall_AllOpen(t *testing.T) {
	t.Parallel()
	fg := newGroup([]string{"whisper", "deepgram"}, 1)
	_, _, _ = Call(fg, func(string) (string, error) { return "", errTest })

	if fg.Available() {
		t.Fatal("Available() = true with every breaker open")
	}
	called := false
	_, _, err := Call(fg, func(string) (string, error) { called = true; return "", nil })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called although every breaker is open")
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()
	fg := newGroup([]string{"ollama", "openai", "anthropic"}, 3)

	if got := fg.Names(); !slices.Equal(got, []string{"ollama", "openai", "anthropic"}) {
		t.Errorf("Names() = %v", got)
	}
	if fg.Primary() != "ollama" {
		t.Errorf("Primary() = %q", fg.Primary())
	}
	if got := len(fg.States()); got != 3 {
		t.Errorf("len(States()) = %d, want 3", got)
	}
}
