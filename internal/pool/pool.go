// Package pool implements the Connection Pool: a thread-safe registry of
// Facades keyed by remote node identity.
//
// The "lock briefly, copy a snapshot, release" shape is grounded on the
// teacher's core.ChannelState (server/internal/core/channel_state.go):
// r.mu guards the map only long enough to read or write it, and every
// iteration callers perform is over a copied slice, never under r.mu, so
// the pool's lock is never held across a call into a facade.
package pool

import (
	"sync"

	"github.com/google/uuid"

	"github.com/oletizi/midimesh/internal/connection"
)

// Pool is a thread-safe registry of connection Facades keyed by remote
// node id.
type Pool struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*connection.Facade
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{entries: make(map[uuid.UUID]*connection.Facade)}
}

// Add registers f under id. Returns false without replacing the existing
// entry if id is already present — it rejects duplicates.
func (p *Pool) Add(id uuid.UUID, f *connection.Facade) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[id]; exists {
		return false
	}
	p.entries[id] = f
	return true
}

// Remove gracefully disconnects and erases the facade registered under id.
// The facade's Disconnect/Close calls happen outside the pool's lock.
func (p *Pool) Remove(id uuid.UUID) bool {
	p.mu.Lock()
	f, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	f.Disconnect()
	_ = f.Close()
	return true
}

// Get returns the facade registered under id, or nil if absent.
func (p *Pool) Get(id uuid.UUID) *connection.Facade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entries[id]
}

// All returns a snapshot of every pooled facade, keyed by node id.
func (p *Pool) All() map[uuid.UUID]*connection.Facade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[uuid.UUID]*connection.Facade, len(p.entries))
	for id, f := range p.entries {
		out[id] = f
	}
	return out
}

// ByState returns a snapshot of pooled facades currently in state.
func (p *Pool) ByState(state connection.State) map[uuid.UUID]*connection.Facade {
	out := make(map[uuid.UUID]*connection.Facade)
	for id, f := range p.All() {
		if f.GetState() == state {
			out[id] = f
		}
	}
	return out
}

// RemoveDead erases every facade whose state is Failed, or whose state is
// Connected but IsAlive() is false, and returns the ids removed. Driven by
// the Heartbeat Monitor's tick.
func (p *Pool) RemoveDead() []uuid.UUID {
	var dead []uuid.UUID
	for id, f := range p.All() {
		state := f.GetState()
		if state == connection.Failed || (state == connection.Connected && !f.IsAlive()) {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		p.Remove(id)
	}
	return dead
}

// Clear disconnects and erases every pooled facade.
func (p *Pool) Clear() {
	for id := range p.All() {
		p.Remove(id)
	}
}

// Stats is a point-in-time count of pooled connections by state.
type Stats struct {
	Disconnected int
	Connecting   int
	Connected    int
	Failed       int
}

// Stats returns counts by state across every pooled facade.
func (p *Pool) Stats() Stats {
	var s Stats
	for _, f := range p.All() {
		switch f.GetState() {
		case connection.Disconnected:
			s.Disconnected++
		case connection.Connecting:
			s.Connecting++
		case connection.Connected:
			s.Connected++
		case connection.Failed:
			s.Failed++
		}
	}
	return s
}
