package tunnel

import (
	"encoding/binary"

	"github.com/go-i2p/common/data"
)

// InboundTunnel is a local-endpoint tunnel: tunnel-data messages arrive
// addressed to its id, get layer-transformed hop by hop, and the resulting
// plaintext blocks are dispatched locally (spec.md §4.5).
type InboundTunnel struct {
	*Tunnel
}

func newInboundTunnel(id TunnelID, nextTunnelID TunnelID, nextIdent data.Hash, config *TunnelConfig, transport Transport, netdb NetDB, dest Destination, rng *processRNG) *InboundTunnel {
	return &InboundTunnel{
		Tunnel: newTunnel(id, Inbound, nextTunnelID, nextIdent, config, transport, netdb, dest, rng),
	}
}

// HandleTunnelDataMsg processes one arriving TunnelDataMsgSize-byte wire
// message addressed to this tunnel: validates the tunnel id, runs the
// payload through the layered transform, and decodes the resulting
// delivery blocks (spec.md §4.5). A data message is processed regardless of
// the tunnel's current state; state only gates a proof-of-life transition:
// if the tunnel isn't already established and isn't expiring, an arriving
// message is evidence the tunnel is alive, so it transitions to Established
// and tells its pool the local lease set needs republishing.
func (t *InboundTunnel) HandleTunnelDataMsg(msg []byte) ([]TunnelMessageBlock, error) {
	if len(msg) != TunnelDataMsgSize {
		return nil, wrapf(ErrMalformedReply, "tunnel data message is %d bytes, want %d", len(msg), TunnelDataMsgSize)
	}
	tid := TunnelID(binary.BigEndian.Uint32(msg[0:4]))
	if tid != t.ID() {
		return nil, ErrUnknownTunnelID
	}

	if t.State() != StateEstablished && t.State() != StateExpiring {
		t.setState(StateEstablished)
		if pool := t.Pool(); pool != nil {
			pool.SetLeaseSetUpdated(true)
		}
	}

	t.addReceivedBytes(len(msg))

	payload, err := t.transformTunnelData(msg[4:])
	if err != nil {
		return nil, wrapf(err, "failed to transform inbound tunnel data payload")
	}
	return decodeTunnelDataPayload(payload)
}

// Dispatch decodes and routes every block of an arriving message in one
// call, the convenience path DispatchLoop uses (spec.md §4.5, §4.8).
func (t *InboundTunnel) Dispatch(msg []byte) error {
	blocks, err := t.HandleTunnelDataMsg(msg)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		if err := dispatchBlock(b, t.dest, t.transport); err != nil {
			return err
		}
	}
	return nil
}

// FlushTunnelDataMsgs is DispatchLoop's batch-boundary call, made once a run
// of consecutive TunnelData messages addressed to this tunnel ends (spec.md
// §4.8). Dispatch already decodes and delivers each message inline, so there
// is nothing queued to flush; this exists so the dispatch loop's batching
// discipline has a call to make at the boundary, the same way Gateway.Flush
// closes an outbound batch.
func (t *InboundTunnel) FlushTunnelDataMsgs() error { return nil }
