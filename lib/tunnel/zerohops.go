package tunnel

import "github.com/go-i2p/common/data"

// ZeroHopsInboundTunnel and ZeroHopsOutboundTunnel are the degenerate,
// zero-length tunnels Tunnels.Start bootstraps (via bootstrapZeroHops) so
// the router has something usable before any real tunnel exists
// (spec.md §4.7). The lifecycle sweeps and pool replenishment never create
// them; they are made once, at Start. They skip the build/peel machinery
// entirely: Tunnel's layered transform is already a no-op over an empty
// hop list, so these only need to start life Established and short-circuit
// wire framing, since there is no hop to address a wire message to.

type ZeroHopsInboundTunnel struct {
	*InboundTunnel
}

func newZeroHopsInboundTunnel(id TunnelID, dest Destination) *ZeroHopsInboundTunnel {
	t := &ZeroHopsInboundTunnel{
		InboundTunnel: newInboundTunnel(id, id, data.Hash{}, nil, nil, nil, dest, nil),
	}
	t.state = StateEstablished
	return t
}

type ZeroHopsOutboundTunnel struct {
	*OutboundTunnel
}

func newZeroHopsOutboundTunnel(id TunnelID, dest Destination, transport Transport) *ZeroHopsOutboundTunnel {
	t := &ZeroHopsOutboundTunnel{
		OutboundTunnel: newOutboundTunnel(id, id, data.Hash{}, nil, transport, nil, dest, nil),
	}
	t.state = StateEstablished
	return t
}

// SendTunnelDataMsgs for a zero-hop outbound tunnel hands every block to
// dispatchBlock rather than packing a wire fragment: there is no next hop
// and no layer to encrypt for (spec.md §4.7). Local blocks go to the
// destination and Router blocks to Transport; Tunnel-delivery blocks are
// dropped.
func (t *ZeroHopsOutboundTunnel) SendTunnelDataMsgs(blocks []TunnelMessageBlock, onDrop func()) error {
	for _, b := range blocks {
		if err := dispatchBlock(b, t.dest, t.transport); err != nil {
			if onDrop != nil {
				onDrop()
			}
			return err
		}
	}
	return nil
}
