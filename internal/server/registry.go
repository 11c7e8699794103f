package server

import (
	"sort"
	"sync"
	"time"
)

// ConnInfo describes one registered connection.
type ConnInfo struct {
	ID            string    `json:"id"`
	Remote        string    `json:"remote"`
	Connected     bool      `json:"connected"`
	Session       string    `json:"session,omitempty"`
	Since         time.Time `json:"since"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
}

// Registry tracks the connections a supervisor has spawned.
type Registry struct {
	mu    sync.Mutex
	conns []*Conn
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = append(r.conns, c)
}

// Prune drops connections that are no longer connected and returns how many remain.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.conns[:0]
	for _, c := range r.conns {
		if c.Connected() {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(r.conns); i++ {
		r.conns[i] = nil
	}
	r.conns = kept
	return len(kept)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Snapshot returns copies ordered by connect time.
func (r *Registry) Snapshot() []ConnInfo {
	r.mu.Lock()
	conns := make([]*Conn, len(r.conns))
	copy(conns, r.conns)
	r.mu.Unlock()

	out := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Info())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, len(r.conns))
	copy(conns, r.conns)
	r.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
