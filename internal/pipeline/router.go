package pipeline

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/gamevox/pkg/speaker"
)

// Router maps speakers to player slots. The table can be replaced at
// runtime; Route always sees either the old or the new table in full.
type Router struct {
	mu    sync.RWMutex
	table map[string]string
	names map[string]string
}

// NewRouter returns a router for assignments (speaker name → player slot).
func NewRouter(assignments map[string]string) *Router {
	r := &Router{}
	r.SetAssignments(assignments)
	return r
}

// SetAssignments atomically replaces the table. Speaker names match
// case-insensitively; empty names or slots are ignored.
func (r *Router) SetAssignments(assignments map[string]string) {
	table := make(map[string]string, len(assignments))
	names := make(map[string]string, len(assignments))
	for name, slot := range assignments {
		key, slot := speaker.Key(name), strings.TrimSpace(slot)
		if key == "" || slot == "" {
			continue
		}
		table[key] = slot
		names[key] = strings.TrimSpace(name)
	}
	r.mu.Lock()
	r.table, r.names = table, names
	r.mu.Unlock()
}

// Assignments returns a copy of the table keyed by configured name.
func (r *Router) Assignments() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.table))
	for key, slot := range r.table {
		out[r.names[key]] = slot
	}
	return out
}

// Speakers returns the assigned speaker names, sorted.
func (r *Router) Speakers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Values(r.names))
}

// Player returns the slot for a speaker.
func (r *Router) Player(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.table[speaker.Key(name)]
	return slot, ok
}

// Route fills in the player slot of e. Events from unknown or unassigned
// speakers are rejected.
func (r *Router) Route(e Event) (Event, bool) {
	slot, ok := r.Player(e.Speaker)
	if !ok {
		return Event{}, false
	}
	e.Player = slot
	return e, true
}
