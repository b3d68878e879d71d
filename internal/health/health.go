// Package health serves liveness and readiness probes.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only when every [Checker] passes and the server
//     is not draining.
//
// Both respond with {"status": "ok"|"fail", "checks": {...}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a readiness check that sets no Timeout.
const DefaultCheckTimeout = 5 * time.Second

// ErrDraining is reported by /readyz after [Handler.SetDraining].
var ErrDraining = errors.New("draining")

// Checker is a named readiness probe. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error

	// Timeout overrides DefaultCheckTimeout for this probe.
	Timeout time.Duration
}

// Pinger is anything with a liveness ping, such as the speaker registry.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a checker that pings p.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Configured returns a checker that fails while ok reports false. Use it
// for dependencies that have no probe of their own.
func Configured(name string, ok func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !ok() {
			return errors.New("not configured")
		}
		return nil
	}}
}

// Report is the body of both probes.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// OK reports whether Status is "ok".
func (r Report) OK() bool { return r.Status == "ok" }

// Handler serves the probes. Checkers are fixed at construction and run
// concurrently on each /readyz request.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New returns a handler evaluating checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers)}
}

// SetDraining marks the process as shutting down. /readyz fails from then
// on so load balancers stop routing new clients here.
func (h *Handler) SetDraining(on bool) {
	h.draining.Store(on)
}

// Check runs every checker and folds the results into a report.
func (h *Handler) Check(ctx context.Context) Report {
	outcomes := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			d := c.Timeout
			if d <= 0 {
				d = DefaultCheckTimeout
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			outcomes[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: "ok", Checks: make(map[string]string, len(h.checkers)+1)}
	mark := func(name string, err error) {
		if err == nil {
			rep.Checks[name] = "ok"
			return
		}
		rep.Checks[name] = "fail: " + err.Error()
		rep.Status = "fail"
	}
	for i, c := range h.checkers {
		mark(c.Name, outcomes[i])
	}
	if h.draining.Load() {
		mark("server", ErrDraining)
	}
	return rep
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz answers 200 with the report when every check passes, 503
// otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
