package tunnel

import (
	"sync"

	"github.com/go-i2p/logger"
)

// TunnelRegistry holds every tunnel this router can be addressed through by
// an incoming id: inbound tunnels (TunnelData's target) and, were transit
// participation implemented, transit tunnels (spec.md §3, §4.8, §4.10).
// Outbound tunnels are never registered here — nothing looks one up by a
// wire-carried id, since a local sender always already holds the handle it
// got from the pool, and DispatchSend is addressed directly by that handle
// rather than by a TunnelID lookup.
type TunnelRegistry struct {
	mu      sync.RWMutex
	tunnels map[TunnelID]TunnelHandle
}

func NewTunnelRegistry() *TunnelRegistry {
	return &TunnelRegistry{tunnels: make(map[TunnelID]TunnelHandle)}
}

// Add registers a tunnel under its own id. Returns ErrRegistryCollision if
// the id is already taken, since id collisions would silently orphan a
// tunnel (spec.md §8 invariant on id uniqueness).
func (r *TunnelRegistry) Add(t TunnelHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tunnels[t.ID()]; exists {
		return ErrRegistryCollision
	}
	r.tunnels[t.ID()] = t
	return nil
}

func (r *TunnelRegistry) Remove(id TunnelID) {
	r.mu.Lock()
	delete(r.tunnels, id)
	r.mu.Unlock()
}

func (r *TunnelRegistry) Get(id TunnelID) (TunnelHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tunnels[id]
	return t, ok
}

// Each calls fn for every registered tunnel, holding the read lock for the
// duration. fn must not call back into the registry.
func (r *TunnelRegistry) Each(fn func(TunnelHandle)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tunnels {
		fn(t)
	}
}

// Len reports how many tunnels are currently registered.
func (r *TunnelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tunnels)
}

// CountByState reports how many registered tunnels are in a given state,
// grounded on the original's CountInboundTunnels/CountOutboundTunnels
// advisory-locking pattern (spec.md §E Open Question decision: the count
// is a point-in-time snapshot, not synchronized with concurrent Add/Remove).
func (r *TunnelRegistry) CountByState(s TunnelState) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.tunnels {
		if t.State() == s {
			n++
		}
	}
	return n
}

func (r *TunnelRegistry) logFields() logger.Fields {
	return logger.Fields{"num_tunnels": r.Len()}
}
