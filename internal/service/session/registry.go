// Package session tracks probing sessions that are currently live on
// this instance.
package session

import (
	"sort"
	"sync"
	"time"

	agentmodel "github.com/moodwheel/agent/backend/internal/model/agent"
)

// Entry is one live session.
type Entry struct {
	Session   *agentmodel.Session
	StartedAt time.Time
}

// Registry is an in-memory index of live sessions, keyed by session ID.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a session when it starts.
func (r *Registry) Register(s *agentmodel.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID] = &Entry{Session: s, StartedAt: time.Now()}
}

// Unregister removes a session when it ends.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}

// Get looks up a live session.
func (r *Registry) Get(sessionID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[sessionID]
	return entry, ok
}

// List returns live sessions ordered by start time.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Count reports how many sessions are live.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
