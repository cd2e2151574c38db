package tunnel

import (
	"encoding/binary"
	"testing"

	"github.com/go-i2p/common/data"
	"github.com/stretchr/testify/require"
)

func TestDispatchSendBatchFlushesGatewayOnce(t *testing.T) {
	transport := &fakeTransport{}
	out := newOutboundTunnel(TunnelID(1), TunnelID(2), data.Hash{}, nil, transport, nil, nil, newProcessRNG())
	out.state = StateEstablished

	d := NewDispatchLoop(NewTunnelRegistry(), NewPendingTunnels(), nil)
	d.queue <- DispatchMessage{Kind: DispatchSend, Outbound: out, Block: NewTunnelMessageBlock(nil, nil, []byte("b"))}
	d.queue <- DispatchMessage{Kind: DispatchSend, Outbound: out, Block: NewTunnelMessageBlock(nil, nil, []byte("c"))}

	first := <-d.queue
	d.handleBatch(first)

	require.Len(t, transport.Sent(), 1, "two small same-tunnel sends should flush as a single wire fragment")
}

func TestDispatchSendDropsWithoutOutbound(t *testing.T) {
	d := NewDispatchLoop(NewTunnelRegistry(), NewPendingTunnels(), nil)
	// Should log and return, not panic, when no outbound tunnel is supplied.
	d.handleBatch(DispatchMessage{Kind: DispatchSend, Block: NewTunnelMessageBlock(nil, nil, []byte("x"))})
}

func TestDispatchTunnelDataRoutesToInbound(t *testing.T) {
	registry := NewTunnelRegistry()
	dest := &fakeDestination{}
	in := newInboundTunnel(TunnelID(5), TunnelID(0), data.Hash{}, nil, nil, nil, dest, newProcessRNG())
	in.state = StatePending
	pool := &fakePool{}
	in.SetPool(pool)
	require.NoError(t, registry.Add(in))

	d := NewDispatchLoop(registry, NewPendingTunnels(), nil)
	msg := buildTunnelDataMsg(t, in.ID(), []TunnelMessageBlock{NewTunnelMessageBlock(nil, nil, []byte("x"))})

	d.handleOne(DispatchMessage{Kind: DispatchTunnelData, TunnelID: 5, Payload: msg})
	require.Equal(t, StateEstablished, in.State(), "a routed data message must drive the tunnel's proof-of-life transition")
	require.Equal(t, []bool{true}, pool.LeaseSetUpdates())
}

// countingInboundDispatcher is a fake inboundDispatcher that records how
// many times Dispatch and FlushTunnelDataMsgs are called, for S5 (spec.md
// §8): consecutive same-id TunnelData messages must all reach Dispatch
// without an intervening flush, and the run must flush exactly once when
// the id changes.
type countingInboundDispatcher struct {
	dispatches int
	flushes    int
}

func (c *countingInboundDispatcher) Dispatch(msg []byte) error {
	c.dispatches++
	return nil
}

func (c *countingInboundDispatcher) FlushTunnelDataMsgs() error {
	c.flushes++
	return nil
}

func TestDispatchTunnelDataBatchesConsecutiveSameIDThenFlushes(t *testing.T) {
	registry := NewTunnelRegistry()
	d1 := &countingInboundDispatcher{}
	d2 := &countingInboundDispatcher{}
	registry.tunnels[1] = &dispatcherTunnelHandle{fakeTunnelHandle: &fakeTunnelHandle{id: 1, state: StateEstablished}, inboundDispatcher: d1}
	registry.tunnels[2] = &dispatcherTunnelHandle{fakeTunnelHandle: &fakeTunnelHandle{id: 2, state: StateEstablished}, inboundDispatcher: d2}

	d := NewDispatchLoop(registry, NewPendingTunnels(), nil)

	for i := 0; i < 5; i++ {
		d.handleOne(DispatchMessage{Kind: DispatchTunnelData, TunnelID: 1, Payload: []byte("x")})
	}
	require.Equal(t, 5, d1.dispatches, "5 consecutive same-id messages should all reach Dispatch")
	require.Equal(t, 0, d1.flushes, "no flush until the tunnel id changes")

	for i := 0; i < 3; i++ {
		d.handleOne(DispatchMessage{Kind: DispatchTunnelData, TunnelID: 2, Payload: []byte("y")})
	}
	require.Equal(t, 1, d1.flushes, "switching tunnel id flushes the previous tunnel exactly once")
	require.Equal(t, 3, d2.dispatches)
	require.Equal(t, 0, d2.flushes, "the new run isn't flushed until it too ends")

	d.flushLastInbound()
	require.Equal(t, 1, d2.flushes)
}

// dispatcherTunnelHandle layers an inboundDispatcher onto a fakeTunnelHandle
// so dispatchToInbound's registry lookup and batching logic can be exercised
// against a counting fake rather than a real *InboundTunnel.
type dispatcherTunnelHandle struct {
	*fakeTunnelHandle
	inboundDispatcher
}

func TestDispatchBuildReplyResolvesPendingAndDoesNotRegisterOutbound(t *testing.T) {
	registry := NewTunnelRegistry()
	pending := NewPendingTunnels()
	hops := buildTestHops(t, 1)
	cfg, err := NewTunnelConfig(Outbound, false, hops)
	require.NoError(t, err)
	tun := newOutboundTunnel(TunnelID(1), TunnelID(0), data.Hash{}, cfg, nil, nil, nil, newProcessRNG())
	hops[0].RecordIndex = 0

	buf := make([]byte, 1+cfg.NumRecords()*cfg.RecordSize())
	buf[0] = byte(cfg.NumRecords())
	require.NoError(t, hops[0].CreateBuildRequestRecord(buf[1:], TunnelID(77)))
	for i := 1; i < cfg.NumRecords(); i++ {
		start := 1 + i*cfg.RecordSize()
		require.NoError(t, readRandomBytes(buf[start:start+cfg.RecordSize()]))
	}

	pending.AddOutbound(TunnelID(77), tun)

	d := NewDispatchLoop(registry, pending, nil)
	d.handleOne(DispatchMessage{Kind: DispatchBuildReply, ReplyMsgID: 77, Payload: buf})

	require.Equal(t, StateEstablished, tun.State())
	require.Equal(t, 0, pending.Len())
	// Outbound tunnels are never registered, only inbound/transit ones.
	_, ok := registry.Get(TunnelID(1))
	require.False(t, ok)
}

func TestDispatchBuildRequestCompletesPendingInbound(t *testing.T) {
	registry := NewTunnelRegistry()
	pending := NewPendingTunnels()
	hops := buildTestHops(t, 1)
	cfg, err := NewTunnelConfig(Inbound, false, hops)
	require.NoError(t, err)
	tun := newInboundTunnel(TunnelID(1), TunnelID(0), data.Hash{}, cfg, nil, nil, nil, newProcessRNG())
	hops[0].RecordIndex = 0

	buf := make([]byte, 1+cfg.NumRecords()*cfg.RecordSize())
	buf[0] = byte(cfg.NumRecords())
	require.NoError(t, hops[0].CreateBuildRequestRecord(buf[1:], TunnelID(88)))
	for i := 1; i < cfg.NumRecords(); i++ {
		start := 1 + i*cfg.RecordSize()
		require.NoError(t, readRandomBytes(buf[start:start+cfg.RecordSize()]))
	}

	pending.AddInbound(TunnelID(88), tun)

	d := NewDispatchLoop(registry, pending, nil)
	d.handleOne(DispatchMessage{Kind: DispatchBuildRequest, ReplyMsgID: 88, Payload: buf})

	require.Equal(t, StateEstablished, tun.State())
	_, ok := registry.Get(TunnelID(1))
	require.True(t, ok, "a successfully built inbound tunnel must join the registry")
}

func TestDispatchBuildRequestFallsBackToTransit(t *testing.T) {
	transit := &fakeTransitHandler{}
	d := NewDispatchLoop(NewTunnelRegistry(), NewPendingTunnels(), transit)

	payload := []byte{1, 2, 3}
	d.handleOne(DispatchMessage{Kind: DispatchBuildRequest, ReplyMsgID: 999, Payload: payload})

	require.Equal(t, [][]byte{payload}, transit.received)
}

func TestClassifyWireMessageTunnelGatewayUnwrapsNestedHeader(t *testing.T) {
	inner := []byte("hello")
	body := make([]byte, GatewayHeaderSize+len(inner))
	binary.BigEndian.PutUint32(body[0:4], 42)
	binary.BigEndian.PutUint16(body[4:6], uint16(len(inner)))
	copy(body[GatewayHeaderSize:], inner)

	raw := make([]byte, 5+len(body))
	raw[0] = byte(I2NPTunnelGateway)
	copy(raw[5:], body)

	msg, err := classifyWireMessage(raw)
	require.NoError(t, err)
	require.Equal(t, DispatchTunnelGateway, msg.Kind)
	require.Equal(t, TunnelID(42), msg.TunnelID)
	require.Equal(t, inner, msg.Payload)
}

func TestClassifyWireMessageTunnelData(t *testing.T) {
	raw := make([]byte, 5+3)
	raw[0] = byte(I2NPTunnelData)
	binary.BigEndian.PutUint32(raw[1:5], 7)
	copy(raw[5:], []byte("abc"))

	msg, err := classifyWireMessage(raw)
	require.NoError(t, err)
	require.Equal(t, DispatchTunnelData, msg.Kind)
	require.Equal(t, TunnelID(7), msg.TunnelID)
	require.Equal(t, []byte("abc"), msg.Payload)
}

func TestClassifyWireMessageLegacyTypesAreDropped(t *testing.T) {
	raw := make([]byte, 5)
	raw[0] = byte(I2NPTunnelBuild)
	msg, err := classifyWireMessage(raw)
	require.NoError(t, err)
	require.Equal(t, DispatchLegacy, msg.Kind)
}

func TestClassifyWireMessageRejectsShortBuffer(t *testing.T) {
	_, err := classifyWireMessage([]byte{1, 2})
	require.Error(t, err)
}

type fakeTransitHandler struct {
	received [][]byte
}

func (f *fakeTransitHandler) PostTransitTunnelBuildMsg(msg []byte) {
	f.received = append(f.received, msg)
}
