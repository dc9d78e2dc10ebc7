// Package registry implements SessionRegistry: the map from session id
// to Session, owned by the Coordinator, with the terminal-state GC
// check every inbound message/callback must run before further
// processing.
package registry

import (
	"sync"

	"github.com/Kryndex/darkwallet/session"
)

// Registry is the mapping session-id -> *session.Session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// Insert adds a session under its id. Session ids are unique across
// the active registry; Insert overwrites a stale entry under the same
// id rather than erroring, since the only legitimate way to reuse an
// id is after CheckDelete has already removed the terminal one.
func (r *Registry) Insert(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Get returns the session for id, if any.
func (r *Registry) Get(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Has reports whether id is already tracked, the self-match prevention
// check evaluateOpening runs.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// CheckDelete removes the session for id if it is in a terminal state
// (finished or cancelled), which must happen before the next external
// message is processed for that id. Returns true if it deleted the
// entry.
func (r *Registry) CheckDelete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	if !s.Terminal() {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Clear drops every in-flight session, as happens on transport
// disconnect. Persisted tasks are untouched — they live in the
// identity store, not here.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*session.Session)
}

// Len reports how many sessions are currently tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns every tracked session id, for the debug surface.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
