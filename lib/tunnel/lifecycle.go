package tunnel

import (
	"time"

	"github.com/go-i2p/logger"
)

// LifecycleManager runs the tick-driven sweeps that keep the tunnel set
// healthy without anyone calling in: pending-build timeouts, established
// tunnel expiration and pre-expiry recreation, pool top-up, and periodic
// memory-pool trimming (spec.md §4.9).
type LifecycleManager struct {
	registry *TunnelRegistry
	pending  *PendingTunnels
	pools    *PoolCoordinator
	mpools   *MemoryPools
	rng      *processRNG

	lastPoolsTick time.Time
	lastMemTick   time.Time
}

func NewLifecycleManager(registry *TunnelRegistry, pending *PendingTunnels, pools *PoolCoordinator, mpools *MemoryPools, rng *processRNG) *LifecycleManager {
	return &LifecycleManager{
		registry: registry,
		pending:  pending,
		pools:    pools,
		mpools:   mpools,
		rng:      rng,
	}
}

// tick runs one pass of every sweep, firing the coarser pool-management and
// memory-pool sweeps on their own, longer intervals (spec.md §4.9). Driven
// by DispatchLoop.Run's own ticker so it shares that goroutine rather than
// running on one of its own (spec.md §5).
func (m *LifecycleManager) tick(now time.Time) {
	m.sweepPendingTimeouts(now)
	m.sweepEstablished(now)

	if now.Sub(m.lastPoolsTick) >= TunnelPoolsManageInterval {
		m.lastPoolsTick = now
		if m.pools != nil {
			m.pools.ManageTunnels()
		}
	}
	if now.Sub(m.lastMemTick) >= TunnelMemoryPoolManageInterval {
		m.lastMemTick = now
		if m.mpools != nil {
			m.mpools.Trim()
		}
	}
}

// sweepPendingTimeouts marks every pending build past its deadline
// BuildFailed and drops it, per spec.md §4.9's pending-tunnel timeout
// sweep and the Pending→BuildFailed transition of spec.md §3.
func (m *LifecycleManager) sweepPendingTimeouts(now time.Time) {
	expired := m.pending.SweepExpired(now)
	for _, h := range expired {
		if tb, ok := h.(tunnelBase); ok {
			tb.tunnelBase().setState(StateBuildFailed)
		}
		m.registry.Remove(h.ID())
		log.WithFields(logger.Fields{
			"at":        "(LifecycleManager) sweepPendingTimeouts",
			"tunnel_id": h.ID(),
		}).Warn("tunnel build timed out")
	}
}

// sweepEstablished walks both pools directly (spec.md §3, §4.9) — not the
// registry, which holds only inbound/transit tunnels (spec.md §4.10) and so
// would never see an outbound tunnel age out — and applies the
// Established→Expiring transition and pool recreation/removal callbacks.
// A tunnel within TunnelRecreationThreshold of expiring triggers its pool's
// recreate callback once (latched via SetRecreated so it only fires once),
// even if the same pass also finds it within TunnelExpirationThreshold; a
// tunnel past
// TunnelExpirationThreshold of its expiry is moved to Expiring and, once
// past full expiration, removed.
func (m *LifecycleManager) sweepEstablished(now time.Time) {
	var toRecreate []TunnelHandle
	var toExpire []TunnelHandle
	var toRemove []TunnelHandle

	visit := func(h TunnelHandle) {
		tb, ok := h.(tunnelBase)
		if !ok {
			return
		}
		base := tb.tunnelBase()
		state := base.State()
		age := now.Sub(base.CreatedAt())

		switch {
		case state == StateEstablished:
			remaining := TunnelExpirationTimeout - age
			if remaining <= 0 {
				toExpire = append(toExpire, h)
				return
			}
			// spec.md §4.9 also gates this on the tunnel's hop count still
			// matching the pool's current configuration. Pool exposes no
			// length-mutation API, so a pool's Length() can never drift from
			// what its own tunnels were built with; the comparison would
			// always be true and is omitted rather than written as dead
			// weight (see DESIGN.md's lifecycle.go entry).
			if remaining <= TunnelRecreationThreshold && !base.IsRecreated() {
				base.SetRecreated()
				toRecreate = append(toRecreate, h)
			}
			if remaining <= TunnelExpirationThreshold {
				base.setState(StateExpiring)
			} else {
				base.Touch()
			}
		case state == StateExpiring:
			if age >= TunnelExpirationTimeout {
				toRemove = append(toRemove, h)
			}
		}
	}

	if m.pools != nil {
		for _, h := range m.pools.Inbound().Tunnels() {
			visit(h)
		}
		for _, h := range m.pools.Outbound().Tunnels() {
			visit(h)
		}
	}

	m.shuffleRecreateOrder(toRecreate)
	for _, h := range toRecreate {
		pool := m.poolOf(h)
		if pool == nil {
			continue
		}
		if h.Direction() == Inbound {
			pool.RecreateInboundTunnel(h)
		} else {
			pool.RecreateOutboundTunnel(h)
		}
	}
	for _, h := range toExpire {
		m.expireOne(h)
	}
	for _, h := range toRemove {
		m.expireOne(h)
	}
}

func (m *LifecycleManager) expireOne(h TunnelHandle) {
	if pool := m.poolOf(h); pool != nil {
		pool.TunnelExpired(h)
	}
	m.registry.Remove(h.ID())
	log.WithFields(logger.Fields{
		"at":        "(LifecycleManager) expireOne",
		"tunnel_id": h.ID(),
	}).Debug("tunnel expired")
}

func (m *LifecycleManager) poolOf(h TunnelHandle) PoolCallbacks {
	tb, ok := h.(tunnelBase)
	if !ok {
		return nil
	}
	return tb.tunnelBase().Pool()
}

// shuffleRecreateOrder randomizes which near-expiry tunnels get recreated
// first, so a burst of simultaneously-aging tunnels doesn't recreate in a
// predictable, observable order (spec.md §D.4's recreation shuffling).
func (m *LifecycleManager) shuffleRecreateOrder(handles []TunnelHandle) {
	if m.rng == nil {
		return
	}
	shuffleTunnels(m.rng, handles)
}

// tunnelBase is implemented by every concrete tunnel type, giving the
// lifecycle manager access to *Tunnel's fields through the TunnelHandle
// interface without a type switch per variant.
type tunnelBase interface {
	tunnelBase() *Tunnel
}

func (t *Tunnel) tunnelBase() *Tunnel          { return t }
func (t *InboundTunnel) tunnelBase() *Tunnel   { return t.Tunnel }
func (t *OutboundTunnel) tunnelBase() *Tunnel  { return t.Tunnel }
