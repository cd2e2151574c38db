package tunnel

import (
	"sync"

	"github.com/go-i2p/logger"
)

// Gateway buffers outgoing delivery-instruction blocks for one outbound
// tunnel, packing them greedily into TunnelDataPayloadSize fragments and
// flushing complete (or explicitly forced) fragments through the tunnel's
// layered transform. DispatchLoop batches several PutI2NPMsg calls for the
// same outbound tunnel before calling Flush once per batch boundary (spec.md §4.8),
// so a burst of small messages doesn't cost one wire message each.
type Gateway struct {
	mu      sync.Mutex
	tunnel  *OutboundTunnel
	pending []TunnelMessageBlock
}

func newGateway(t *OutboundTunnel) *Gateway {
	return &Gateway{tunnel: t}
}

// PutI2NPMsg enqueues one block. If the buffered blocks no longer fit in a
// single fragment, the overflow is flushed immediately so the queue never
// grows past what one Flush can't clear eventually.
func (g *Gateway) PutI2NPMsg(b TunnelMessageBlock, onDrop func()) error {
	g.mu.Lock()
	g.pending = append(g.pending, b)
	pending := g.pending
	g.mu.Unlock()

	if fragmentLen(pending) <= TunnelDataPayloadSize {
		return nil
	}
	return g.Flush(onDrop)
}

// Flush packs every pending block into as many fragments as needed and
// sends them, clearing the queue. A block too large for one fragment is
// dropped, and Flush returns an error after sending the others. Called once per DispatchLoop batch
// boundary even when PutI2NPMsg never triggered an overflow flush, so a
// small trailing batch still goes out promptly (spec.md §4.8).
func (g *Gateway) Flush(onDrop func()) error {
	g.mu.Lock()
	blocks := g.pending
	g.pending = nil
	g.mu.Unlock()

	var dropErr error
	for len(blocks) > 0 {
		var fragment []byte
		fragment, blocks = packFragment(blocks)
		if len(fragment) == 0 {
			dropErr = errf("tunnel message block too large to fit in one fragment")
			continue
		}
		if err := g.tunnel.sendFragment(fragment, onDrop); err != nil {
			return err
		}
	}
	return dropErr
}

func fragmentLen(blocks []TunnelMessageBlock) int {
	n := 0
	for _, b := range blocks {
		n += len(encodeDeliveryInstructions(b)) + len(b.Payload)
	}
	return n
}

// packFragment greedily fills one TunnelDataPayloadSize-sized fragment from
// the front of blocks, returning the packed (unpadded) bytes and the blocks
// left over for the next fragment.
func packFragment(blocks []TunnelMessageBlock) ([]byte, []TunnelMessageBlock) {
	buf := make([]byte, 0, TunnelDataPayloadSize)
	i := 0
	for i < len(blocks) {
		hdr := encodeDeliveryInstructions(blocks[i])
		need := len(hdr) + len(blocks[i].Payload)
		if len(buf)+need > TunnelDataPayloadSize {
			break
		}
		buf = append(buf, hdr...)
		buf = append(buf, blocks[i].Payload...)
		i++
	}
	if i == 0 && len(blocks) > 0 {
		log.WithFields(logger.Fields{
			"at": "packFragment",
		}).Warn("tunnel message block exceeds one fragment and was dropped")
		return nil, blocks[1:]
	}
	return buf, blocks[i:]
}
