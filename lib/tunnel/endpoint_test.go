package tunnel

import (
	"testing"

	"github.com/go-i2p/common/data"
	"github.com/stretchr/testify/require"
)

func TestDecodeTunnelDataPayloadStopsAtTerminator(t *testing.T) {
	blocks := []TunnelMessageBlock{
		NewTunnelMessageBlock(nil, nil, []byte("first")),
		NewTunnelMessageBlock(nil, nil, []byte("second")),
	}
	buf := make([]byte, 0, TunnelDataPayloadSize)
	for _, b := range blocks {
		buf = append(buf, encodeDeliveryInstructions(b)...)
		buf = append(buf, b.Payload...)
	}
	buf = append(buf, make([]byte, TunnelDataPayloadSize-len(buf))...) // zero-padded terminator

	decoded, err := decodeTunnelDataPayload(buf)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	require.Equal(t, []byte("first"), decoded[0].Payload)
	require.Equal(t, []byte("second"), decoded[1].Payload)
}

func TestDispatchBlockLocalDeliversToDestinationWithoutTouchingLeaseSet(t *testing.T) {
	dest := &fakeDestination{}
	b := NewTunnelMessageBlock(nil, nil, []byte("payload"))
	require.NoError(t, dispatchBlock(b, dest, nil))
	require.Equal(t, [][]byte{[]byte("payload")}, dest.Received(), "a local delivery block must reach the destination's ReceiveTunnelMessage")
	require.Empty(t, dest.LeaseSetUpdates(), "the lease set republish signal is the inbound tunnel's proof-of-life transition, not every local block")
}

func TestDispatchBlockLocalDroppedWithoutDestination(t *testing.T) {
	b := NewTunnelMessageBlock(nil, nil, []byte("payload"))
	require.NoError(t, dispatchBlock(b, nil, nil), "no destination configured must drop, not error")
}

func TestDispatchBlockRouterForwardsThroughTransport(t *testing.T) {
	transport := &fakeTransport{}
	var gwHash data.Hash
	gwHash[0] = 3
	b := NewTunnelMessageBlock(&gwHash, nil, []byte("payload"))
	require.NoError(t, dispatchBlock(b, nil, transport))

	sent := transport.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, gwHash, sent[0].identHash)
}

func TestDispatchBlockTunnelDeliveryIsDroppedNotError(t *testing.T) {
	var gwHash data.Hash
	gwTunnel := TunnelID(9)
	b := NewTunnelMessageBlock(&gwHash, &gwTunnel, []byte("payload"))
	require.NoError(t, dispatchBlock(b, nil, nil))
}
