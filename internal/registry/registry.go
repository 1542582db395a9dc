// Package registry keeps the discovery view of reachable peers.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/WendelHime/lanshare/internal/shared/models"
)

// Registry maps a peer address to its latest announcement. It is safe for
// concurrent use; readers only ever receive copies.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]models.Peer
	now   func() time.Time
}

type Option func(*Registry)

// WithClock replaces time.Now as the source of last-seen timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		peers: make(map[string]models.Peer),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Upsert creates or refreshes the peer at address.
func (r *Registry) Upsert(address string, port int, name string) {
	if name == "" {
		name = address
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[address] = models.Peer{
		Address:  address,
		Port:     port,
		Name:     name,
		LastSeen: r.now(),
	}
}

// Prune removes every peer not seen within timeout of now and returns how
// many were removed.
func (r *Registry) Prune(now time.Time, timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for address, p := range r.peers {
		if now.Sub(p.LastSeen) > timeout {
			delete(r.peers, address)
			removed++
		}
	}
	return removed
}

// Snapshot returns the known peers ordered by name, then address.
func (r *Registry) Snapshot() []models.Peer {
	r.mu.RLock()
	out := make([]models.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func (r *Registry) Get(address string) (models.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[address]
	return p, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
