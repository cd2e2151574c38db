package tunnel

import (
	"encoding/binary"

	"github.com/go-i2p/common/data"
)

// OutboundTunnel is a local-sender tunnel: messages enter through its
// Gateway, get layer-transformed hop by hop, and leave for the first hop's
// router (spec.md §4.6).
type OutboundTunnel struct {
	*Tunnel
	gw *Gateway
}

func newOutboundTunnel(id TunnelID, nextTunnelID TunnelID, nextIdent data.Hash, config *TunnelConfig, transport Transport, netdb NetDB, dest Destination, rng *processRNG) *OutboundTunnel {
	t := &OutboundTunnel{
		Tunnel: newTunnel(id, Outbound, nextTunnelID, nextIdent, config, transport, netdb, dest, rng),
	}
	t.gw = newGateway(t)
	return t
}

// Gateway returns the tunnel's batching entry point, used by DispatchLoop
// to amortize sends across a batch (spec.md §4.8).
func (t *OutboundTunnel) Gateway() *Gateway { return t.gw }

// SendTunnelDataMsgTo is the single-message convenience form of
// SendTunnelDataMsgs for one gateway-addressed payload (spec.md §4.6).
func (t *OutboundTunnel) SendTunnelDataMsgTo(gwHash *data.Hash, gwTunnel *TunnelID, payload []byte, onDrop func()) error {
	return t.SendTunnelDataMsgs([]TunnelMessageBlock{NewTunnelMessageBlock(gwHash, gwTunnel, payload)}, onDrop)
}

// SendTunnelDataMsgs enqueues and immediately flushes a set of delivery
// blocks, packing them into as many TunnelDataPayloadSize (1020-byte)
// fragments as required
// (spec.md §4.6). Used outside of DispatchLoop's batching path, e.g. by
// Tunnel.Build when dispatching a build request through a carrier.
func (t *OutboundTunnel) SendTunnelDataMsgs(blocks []TunnelMessageBlock, onDrop func()) error {
	for _, b := range blocks {
		if err := t.gw.PutI2NPMsg(b, onDrop); err != nil {
			return err
		}
	}
	return t.gw.Flush(onDrop)
}

// sendFragment pads fragment to TunnelDataPayloadSize, runs it through the
// tunnel's layered transform, prefixes the next hop's tunnel id, and
// dispatches the resulting TunnelDataMsgSize-byte wire message to the first
// hop (spec.md §4.4, §6).
func (t *OutboundTunnel) sendFragment(fragment []byte, onDrop func()) error {
	if len(fragment) > TunnelDataPayloadSize {
		return errf("fragment of %d bytes exceeds tunnel data payload size %d", len(fragment), TunnelDataPayloadSize)
	}
	padded := make([]byte, TunnelDataPayloadSize)
	copy(padded, fragment)
	if len(fragment) < TunnelDataPayloadSize {
		if err := readRandomBytes(padded[len(fragment):]); err != nil {
			return wrapf(err, "failed to pad tunnel data fragment")
		}
		// Zero the padding's first delivery header (flag and 2-byte length)
		// so the endpoint's decode loop reads it as a terminating
		// DeliveryLocal/zero-length block rather than random bytes.
		end := len(fragment) + 3
		if end > TunnelDataPayloadSize {
			end = TunnelDataPayloadSize
		}
		for i := len(fragment); i < end; i++ {
			padded[i] = 0
		}
	}

	transformed, err := t.transformTunnelData(padded)
	if err != nil {
		return wrapf(err, "failed to transform outbound tunnel data payload")
	}

	msg := make([]byte, TunnelDataMsgSize)
	binary.BigEndian.PutUint32(msg[0:4], uint32(t.NextTunnelID()))
	copy(msg[4:], transformed)

	if t.transport == nil {
		return errf("no transport configured to dispatch tunnel data message")
	}
	return t.transport.SendMessage(t.NextIdent(), msg, onDrop)
}
