package tunnel

import (
	"testing"
	"time"

	"github.com/go-i2p/common/data"
	"github.com/stretchr/testify/require"
)

func newEstablishedPoolTunnel(t *testing.T, id TunnelID, pool *PoolCoordinator, age time.Duration) *OutboundTunnel {
	t.Helper()
	out := newOutboundTunnel(id, TunnelID(0), data.Hash{}, nil, nil, nil, nil, newProcessRNG())
	out.state = StateEstablished
	out.createdAt = time.Now().Add(-age)
	out.SetPool(pool)
	return out
}

func TestSweepPendingTimeoutsMarksBuildFailed(t *testing.T) {
	registry := NewTunnelRegistry()
	pending := NewPendingTunnels()
	m := NewLifecycleManager(registry, pending, nil, nil, newProcessRNG())

	hops := buildTestHops(t, 1)
	cfg, err := NewTunnelConfig(Outbound, false, hops)
	require.NoError(t, err)
	tun := newTunnel(TunnelID(1), Outbound, TunnelID(0), data.Hash{}, cfg, nil, nil, nil, newProcessRNG())
	require.NoError(t, registry.Add(tun))
	pending.AddOutbound(TunnelID(50), tun)

	future := time.Now().Add(TunnelCreationTimeout + time.Second)
	m.sweepPendingTimeouts(future)

	require.Equal(t, StateBuildFailed, tun.State())
	_, ok := registry.Get(TunnelID(1))
	require.False(t, ok)
}

// poolHasTunnel reports whether id is still a member of pool.
func poolHasTunnel(pool *Pool, id TunnelID) bool {
	for _, h := range pool.Tunnels() {
		if h.ID() == id {
			return true
		}
	}
	return false
}

func TestSweepEstablishedExpiresOldTunnels(t *testing.T) {
	registry := NewTunnelRegistry()
	pools := NewPoolCoordinator(registry, NewPendingTunnels(), nil, nil, nil, newProcessRNG(), data.Hash{}, 2, 2, 1, 1)
	m := NewLifecycleManager(registry, NewPendingTunnels(), pools, nil, newProcessRNG())

	old := newEstablishedPoolTunnel(t, TunnelID(1), pools, TunnelExpirationTimeout+time.Second)
	pools.outbound.Add(old)

	m.sweepEstablished(time.Now())

	require.False(t, poolHasTunnel(pools.outbound, TunnelID(1)), "a tunnel past its full expiration timeout should be removed from its pool")
}

func TestSweepEstablishedRecreatesOnceNearExpiry(t *testing.T) {
	registry := NewTunnelRegistry()
	pools := NewPoolCoordinator(registry, NewPendingTunnels(), nil, nil, nil, newProcessRNG(), data.Hash{}, 2, 2, 1, 1)
	m := NewLifecycleManager(registry, NewPendingTunnels(), pools, nil, newProcessRNG())

	near := newEstablishedPoolTunnel(t, TunnelID(2), pools, TunnelExpirationTimeout-TunnelRecreationThreshold+time.Second)
	pools.outbound.Add(near)

	m.sweepEstablished(time.Now())
	require.True(t, near.IsRecreated())

	recreatedAt := near.IsRecreated()
	m.sweepEstablished(time.Now())
	require.Equal(t, recreatedAt, near.IsRecreated(), "recreate latch must not fire a second time")
}

func TestSweepEstablishedMovesToExpiring(t *testing.T) {
	registry := NewTunnelRegistry()
	pools := NewPoolCoordinator(registry, NewPendingTunnels(), nil, nil, nil, newProcessRNG(), data.Hash{}, 2, 2, 1, 1)
	m := NewLifecycleManager(registry, NewPendingTunnels(), pools, nil, newProcessRNG())

	near := newEstablishedPoolTunnel(t, TunnelID(3), pools, TunnelExpirationTimeout-TunnelExpirationThreshold+time.Second)
	pools.outbound.Add(near)

	m.sweepEstablished(time.Now())
	require.Equal(t, StateExpiring, near.State())
}
