package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func readyz(t *testing.T, h *Handler, ctx context.Context) (int, Report) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body Report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func pass(context.Context) error { return nil }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})
	h.SetDraining(true)

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name: "all pass",
			checkers: []Checker{
				Ping("speakers", pinger{}),
				{Name: "transcriber", Check: pass},
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"speakers": "ok", "transcriber": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				Ping("speakers", pinger{err: errors.New("connection refused")}),
				{Name: "transcriber", Check: pass},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"speakers": "fail: connection refused", "transcriber": "ok"},
		},
		{
			name: "not configured",
			checkers: []Checker{
				Configured("transcriber", func() bool { return false }),
				Configured("llm", func() bool { return true }),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"transcriber": "fail: not configured", "llm": "ok"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := readyz(t, New(tc.checkers...), context.Background())
			if code != tc.wantStatus {
				t.Errorf("status = %d, want %d", code, tc.wantStatus)
			}
			wantStatus := "ok"
			if tc.wantStatus != http.StatusOK {
				wantStatus = "fail"
			}
			if body.Status != wantStatus {
				t.Errorf("body status = %q, want %q", body.Status, wantStatus)
			}
			for k, v := range tc.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("check %q = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_Draining(t *testing.T) {
	t.Parallel()
	h := New(Ping("speakers", pinger{}))
	h.SetDraining(true)

	code, body := readyz(t, h, context.Background())
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Checks["server"] != "fail: draining" {
		t.Errorf("server check = %q", body.Checks["server"])
	}

	h.SetDraining(false)
	if code, _ := readyz(t, h, context.Background()); code != http.StatusOK {
		t.Errorf("after undrain status = %d, want %d", code, http.StatusOK)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(100 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(
		Checker{Name: "a", Check: slow},
		Checker{Name: "b", Check: slow},
		Checker{Name: "c", Check: slow},
	)

	start := time.Now()
	code, _ := readyz(t, h, context.Background())
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if d := time.Since(start); d > 250*time.Millisecond {
		t.Errorf("readyz took %v, checks are not concurrent", d)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code, _ := readyz(t, h, ctx); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: pass}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestCheck_PerCheckerTimeout(t *testing.T) {
	t.Parallel()
	h := New(
		Checker{Name: "postgres", Timeout: 20 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		Checker{Name: "speakers", Check: pass},
	)

	start := time.Now()
	rep := h.Check(context.Background())
	if d := time.Since(start); d > time.Second {
		t.Fatalf("Check took %v, per-checker timeout ignored", d)
	}
	if rep.OK() {
		t.Fatal("report ok with a timed-out check")
	}
	if got := rep.Checks["postgres"]; got != "fail: "+context.DeadlineExceeded.Error() {
		t.Errorf("postgres = %q", got)
	}
	if rep.Checks["speakers"] != "ok" {
		t.Errorf("speakers = %q", rep.Checks["speakers"])
	}
}
