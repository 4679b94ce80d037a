package realtime

import (
	"sort"
	"sync"

	"github.com/jengzang/records-live-go/internal/models"
)

// Registry maps principals to their live connections. A principal may be
// connected from several devices at once.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]*Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[string]*Connection)}
}

// Add registers a connection and returns the principal's connection count.
func (r *Registry) Add(c *Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[c.principalID]
	if !ok {
		set = make(map[string]*Connection)
		r.conns[c.principalID] = set
	}
	set[c.id] = c
	return len(set)
}

// Remove unregisters a connection and returns how many the principal
// still has.
func (r *Registry) Remove(c *Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[c.principalID]
	if !ok {
		return 0
	}
	delete(set, c.id)
	if len(set) == 0 {
		delete(r.conns, c.principalID)
		return 0
	}
	return len(set)
}

// Connections returns the live connections of a principal.
func (r *Registry) Connections(principalID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[principalID]
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// All returns every live connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Connection
	for _, set := range r.conns {
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}

// Deliver queues event on each connection of principalID except
// excludeConnection. It returns the number of connections that accepted it.
func (r *Registry) Deliver(principalID string, event models.Event, excludeConnection string) int {
	delivered := 0
	for _, c := range r.Connections(principalID) {
		if excludeConnection != "" && c.id == excludeConnection {
			continue
		}
		if c.Send(event) {
			delivered++
		}
	}
	return delivered
}

// Count returns the total number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}

// Principals returns the number of connected principals.
func (r *Registry) Principals() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
