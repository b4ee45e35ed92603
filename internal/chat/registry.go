// internal/chat/registry.go

package chat

import (
	"sync"
)

// Registry tracks which user owns which live connections. A user may hold
// several simultaneous connections (two devices, two tabs); presence is
// online iff the connection count is above zero, and a presence transition
// is reported only when the count crosses zero in either direction.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]map[int64]*Client
	nextID int64
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[int64]*Client)}
}

// Register adds a connection for a user and returns its connection id plus
// whether this registration flipped the user from offline to online.
func (r *Registry) Register(userID string, c *Client) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasOffline := len(r.conns[userID]) == 0
	if wasOffline {
		r.conns[userID] = make(map[int64]*Client)
	}

	r.nextID++
	id := r.nextID
	r.conns[userID][id] = c
	return id, wasOffline
}

// Unregister removes a connection and reports whether the user went offline.
// Removing an unknown connection is a no-op.
func (r *Registry) Unregister(userID string, connID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.conns[userID]
	if !ok {
		return false
	}
	if _, ok := conns[connID]; !ok {
		return false
	}

	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.conns, userID)
		return true
	}
	return false
}

// IsOnline reports whether the user has at least one live connection
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// OnlineUsers returns a snapshot of every user with a live connection
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		users = append(users, userID)
	}
	return users
}

// Connections returns the live connections for one user
func (r *Registry) Connections(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.conns[userID]))
	for _, c := range r.conns[userID] {
		out = append(out, c)
	}
	return out
}

// All returns every live connection across all users
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Client
	for _, conns := range r.conns {
		for _, c := range conns {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the total number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conns := range r.conns {
		n += len(conns)
	}
	return n
}
