package tunnel

import (
	"github.com/go-i2p/logger"
)

// decodeTunnelDataPayload splits a transformed, de-padded tunnel-data
// payload back into the delivery blocks the sender packed, stopping at the
// first zero-length DeliveryLocal block, which sendFragment's padding
// produces as a terminator (spec.md §4.5, §6).
func decodeTunnelDataPayload(buf []byte) ([]TunnelMessageBlock, error) {
	var blocks []TunnelMessageBlock
	for len(buf) >= 3 {
		dtype, hash, tid, payloadLen, headerLen, err := decodeDeliveryInstructions(buf)
		if err != nil {
			return blocks, nil // trailing padding too short for another header
		}
		if dtype == DeliveryLocal && payloadLen == 0 {
			break
		}
		if headerLen+payloadLen > len(buf) {
			return nil, wrapf(ErrMalformedReply, "tunnel data block declares %d byte payload beyond buffer", payloadLen)
		}
		b := TunnelMessageBlock{
			DeliveryType: dtype,
			Hash:         hash,
			TunnelID:     tid,
			Payload:      buf[headerLen : headerLen+payloadLen],
		}
		blocks = append(blocks, b)
		buf = buf[headerLen+payloadLen:]
	}
	return blocks, nil
}

// dispatchBlock routes one decoded block to its destination per its
// delivery type (spec.md §4.5): Local delivery hands the payload to the
// configured Destination's ReceiveTunnelMessage, the tunnel endpoint
// handler hand-off spec.md §4.5 names; Router delivery goes back out
// through Transport directly to the block's router hash. Tunnel delivery is
// logged and dropped: it is not wrapped as a gateway message or sent
// anywhere, from an inbound endpoint or a zero-hop outbound tunnel. The local destination's lease set republish signal is not fired
// here — that's a one-time proof-of-life transition
// InboundTunnel.HandleTunnelDataMsg drives on the tunnel's
// not-established→established edge, not something that happens again on
// every ordinary message this tunnel carries.
func dispatchBlock(b TunnelMessageBlock, dest Destination, transport Transport) error {
	switch b.DeliveryType {
	case DeliveryLocal:
		if dest == nil {
			log.WithFields(logger.Fields{"at": "dispatchBlock"}).Warn("local delivery block dropped: no destination configured")
			return nil
		}
		return dest.ReceiveTunnelMessage(b.Payload)
	case DeliveryRouter:
		if transport == nil {
			return errf("no transport configured for router-delivery block")
		}
		return transport.SendMessage(b.Hash, b.Payload, nil)
	default:
		log.WithFields(logger.Fields{"at": "dispatchBlock", "delivery_type": b.DeliveryType}).Warn("tunnel delivery block dropped: transit forwarding out of scope")
		return nil
	}
}
