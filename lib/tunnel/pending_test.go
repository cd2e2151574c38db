package tunnel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPendingInboundAddResolve(t *testing.T) {
	p := NewPendingTunnels()
	tun := &Tunnel{id: 1}

	p.AddInbound(TunnelID(42), tun)
	require.Equal(t, 1, p.Len())

	got, ok := p.ResolveInbound(TunnelID(42))
	require.True(t, ok)
	require.Same(t, tun, got)
	require.Equal(t, 0, p.Len())

	_, ok = p.ResolveInbound(TunnelID(42))
	require.False(t, ok)
}

func TestPendingOutboundAddResolve(t *testing.T) {
	p := NewPendingTunnels()
	tun := &Tunnel{id: 1}

	p.AddOutbound(TunnelID(42), tun)
	require.Equal(t, 1, p.Len())

	got, ok := p.ResolveOutbound(TunnelID(42))
	require.True(t, ok)
	require.Same(t, tun, got)
	require.Equal(t, 0, p.Len())
}

func TestPendingInboundAndOutboundMapsAreIndependent(t *testing.T) {
	p := NewPendingTunnels()
	p.AddInbound(TunnelID(1), &Tunnel{id: 1})

	_, ok := p.ResolveOutbound(TunnelID(1))
	require.False(t, ok, "an inbound correlation id must not resolve against the outbound map")

	_, ok = p.ResolveInbound(TunnelID(1))
	require.True(t, ok)
}

func TestPendingSweepExpired(t *testing.T) {
	p := NewPendingTunnels()
	inTun := &Tunnel{id: 2}
	outTun := &Tunnel{id: 3}
	p.AddInbound(TunnelID(7), inTun)
	p.AddOutbound(TunnelID(8), outTun)

	require.Empty(t, p.SweepExpired(time.Now()))

	future := time.Now().Add(TunnelCreationTimeout + time.Second)
	expired := p.SweepExpired(future)
	require.Len(t, expired, 2)
	require.Equal(t, 0, p.Len())
}

// TestPendingSweepExpiredDropsBuildFailedImmediately pins spec.md §4.9's
// state-aware removal rule: a pending tunnel already known BuildFailed (its
// build dispatch was dropped by the transport) must
// not wait out the rest of its creation timeout before being swept.
func TestPendingSweepExpiredDropsBuildFailedImmediately(t *testing.T) {
	p := NewPendingTunnels()
	failed := &Tunnel{id: 9, state: StateBuildFailed}
	p.AddInbound(TunnelID(11), failed)

	expired := p.SweepExpired(time.Now())
	require.Len(t, expired, 1)
	require.Same(t, failed, expired[0])
	require.Equal(t, 0, p.Len())
}

// TestPendingSweepExpiredKeepsBuildReplyReceived pins the other half of the
// same rule: a pending tunnel whose reply has already arrived and is being
// processed must not be swept out from under that processing just because
// its creation deadline has also passed.
func TestPendingSweepExpiredKeepsBuildReplyReceived(t *testing.T) {
	p := NewPendingTunnels()
	inFlight := &Tunnel{id: 10, state: StateBuildReplyReceived}
	p.AddOutbound(TunnelID(12), inFlight)

	future := time.Now().Add(TunnelCreationTimeout + time.Second)
	expired := p.SweepExpired(future)
	require.Empty(t, expired)
	require.Equal(t, 1, p.Len())
}
