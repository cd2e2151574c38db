package tunnel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTunnelHandle struct {
	id    TunnelID
	dir   Direction
	state TunnelState
	hops  int
}

func (f *fakeTunnelHandle) ID() TunnelID        { return f.id }
func (f *fakeTunnelHandle) Direction() Direction { return f.dir }
func (f *fakeTunnelHandle) State() TunnelState   { return f.state }
func (f *fakeTunnelHandle) NumHops() int         { return f.hops }

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewTunnelRegistry()
	h := &fakeTunnelHandle{id: 1, state: StateEstablished}

	require.NoError(t, r.Add(h))
	require.Equal(t, 1, r.Len())

	got, ok := r.Get(1)
	require.True(t, ok)
	require.Equal(t, h, got)

	r.Remove(1)
	require.Equal(t, 0, r.Len())
	_, ok = r.Get(1)
	require.False(t, ok)
}

func TestRegistryRejectsCollision(t *testing.T) {
	r := NewTunnelRegistry()
	require.NoError(t, r.Add(&fakeTunnelHandle{id: 5}))
	require.ErrorIs(t, r.Add(&fakeTunnelHandle{id: 5}), ErrRegistryCollision)
}

func TestRegistryCountByState(t *testing.T) {
	r := NewTunnelRegistry()
	require.NoError(t, r.Add(&fakeTunnelHandle{id: 1, state: StateEstablished}))
	require.NoError(t, r.Add(&fakeTunnelHandle{id: 2, state: StateEstablished}))
	require.NoError(t, r.Add(&fakeTunnelHandle{id: 3, state: StatePending}))

	require.Equal(t, 2, r.CountByState(StateEstablished))
	require.Equal(t, 1, r.CountByState(StatePending))
	require.Equal(t, 0, r.CountByState(StateExpiring))
}

func TestRegistryEachVisitsEveryTunnel(t *testing.T) {
	r := NewTunnelRegistry()
	require.NoError(t, r.Add(&fakeTunnelHandle{id: 1}))
	require.NoError(t, r.Add(&fakeTunnelHandle{id: 2}))

	seen := make(map[TunnelID]bool)
	r.Each(func(h TunnelHandle) { seen[h.ID()] = true })
	require.Len(t, seen, 2)
}
