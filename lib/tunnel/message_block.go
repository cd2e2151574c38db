package tunnel

import (
	"encoding/binary"

	"github.com/go-i2p/common/data"
)

// TunnelMessageBlock describes how the remote endpoint of an outbound
// tunnel should dispatch one payload, per spec.md §3. Built by callers of
// OutboundTunnel.SendTunnelDataMsgTo/SendTunnelDataMsgs; consumed by the
// gateway when it packs blocks into tunnel-data fragments.
//
// Delivery type is inferred from which fields are populated:
//   - Hash and TunnelID both set -> DeliveryTunnel
//   - Hash only                  -> DeliveryRouter
//   - neither                    -> DeliveryLocal
type TunnelMessageBlock struct {
	DeliveryType DeliveryType
	Hash         data.Hash
	TunnelID     TunnelID
	Payload      []byte
}

// NewTunnelMessageBlock infers the delivery type the way
// spec.md §4.6 describes: "if gwHash present and gwTunnel present -> Tunnel;
// if only gwHash -> Router; else -> Local".
func NewTunnelMessageBlock(gwHash *data.Hash, gwTunnel *TunnelID, payload []byte) TunnelMessageBlock {
	b := TunnelMessageBlock{Payload: payload}
	switch {
	case gwHash != nil && gwTunnel != nil:
		b.DeliveryType = DeliveryTunnel
		b.Hash = *gwHash
		b.TunnelID = *gwTunnel
	case gwHash != nil:
		b.DeliveryType = DeliveryRouter
		b.Hash = *gwHash
	default:
		b.DeliveryType = DeliveryLocal
	}
	return b
}

// Delivery-instruction flag layout, condensed from the real I2P
// TunnelMessageDeliveryInstructions format
// (https://geti2p.net/spec/tunnel-message) to the subset this engine
// actually interprets: a one-byte flag naming the delivery type, optionally
// followed by a 32-byte hash and then a 4-byte tunnel id, then a 2-byte
// payload length.
const (
	diFlagDeliveryTypeMask = 0x30
	diFlagDeliveryTypeShift = 4
	diFlagHasTunnelID       = 0x08
	diFlagHasHash           = 0x04
)

// encodeDeliveryInstructions writes the condensed delivery header for one
// block: [flag:1][hash:32]?[tunnel_id:4]?[length:2][payload].
func encodeDeliveryInstructions(b TunnelMessageBlock) []byte {
	flag := byte(b.DeliveryType) << diFlagDeliveryTypeShift
	size := 1 + 2
	if b.DeliveryType != DeliveryLocal {
		flag |= diFlagHasHash
		size += 32
	}
	if b.DeliveryType == DeliveryTunnel {
		flag |= diFlagHasTunnelID
		size += 4
	}

	out := make([]byte, size)
	out[0] = flag
	off := 1
	if b.DeliveryType != DeliveryLocal {
		copy(out[off:], b.Hash[:])
		off += 32
	}
	if b.DeliveryType == DeliveryTunnel {
		binary.BigEndian.PutUint32(out[off:], uint32(b.TunnelID))
		off += 4
	}
	binary.BigEndian.PutUint16(out[off:], uint16(len(b.Payload)))
	return out
}

// decodeDeliveryInstructions reads the header produced by
// encodeDeliveryInstructions, returning the parsed block's metadata, the
// declared payload length, and the number of header bytes consumed.
func decodeDeliveryInstructions(buf []byte) (deliveryType DeliveryType, hash data.Hash, tid TunnelID, payloadLen int, headerLen int, err error) {
	if len(buf) < 1 {
		return 0, data.Hash{}, 0, 0, 0, errf("delivery instructions buffer too short")
	}
	flag := buf[0]
	deliveryType = DeliveryType((flag & diFlagDeliveryTypeMask) >> diFlagDeliveryTypeShift)
	off := 1

	if flag&diFlagHasHash != 0 {
		if len(buf) < off+32 {
			return 0, data.Hash{}, 0, 0, 0, errf("delivery instructions truncated reading hash")
		}
		copy(hash[:], buf[off:off+32])
		off += 32
	}
	if flag&diFlagHasTunnelID != 0 {
		if len(buf) < off+4 {
			return 0, data.Hash{}, 0, 0, 0, errf("delivery instructions truncated reading tunnel id")
		}
		tid = TunnelID(binary.BigEndian.Uint32(buf[off:]))
		off += 4
	}
	if len(buf) < off+2 {
		return 0, data.Hash{}, 0, 0, 0, errf("delivery instructions truncated reading length")
	}
	payloadLen = int(binary.BigEndian.Uint16(buf[off:]))
	off += 2

	return deliveryType, hash, tid, payloadLen, off, nil
}
