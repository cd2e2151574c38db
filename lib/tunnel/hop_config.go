package tunnel

import (
	"encoding/binary"

	"github.com/go-i2p/common/data"
	"github.com/go-i2p/common/session_key"
	"github.com/go-i2p/logger"
)

// record field offsets within a hop's plaintext record, before it is sealed
// by the record's own cipher. Kept private: callers never see raw records,
// only CreateBuildRequestRecord/DecryptRecord/DecryptBuildResponseRecord.
const (
	recOffReceiveTunnel = 0
	recOffOurIdent      = 4
	recOffNextTunnel    = recOffOurIdent + 32
	recOffNextIdent     = recOffNextTunnel + 4
	recOffLayerKey      = recOffNextIdent + 32
	recOffIVKey         = recOffLayerKey + 32
	recOffReplyKey       = recOffIVKey + 32
	recOffReplyIV        = recOffReplyKey + 32
	recOffFlag           = recOffReplyIV + 16
	recOffRequestTime    = recOffFlag + 1
	recOffSendMessageID  = recOffRequestTime + 4
	recOffRetCode        = recOffSendMessageID + 4
	recPlaintextSize      = recOffRetCode + 1 // 194 bytes of meaningful plaintext
)

// RetAccepted and RetDeclined* are the accept/reject return codes a hop
// writes into its own record slot, mirrored from the real protocol's
// "0 = accepted, non-zero = declined" convention (spec.md §4.3).
const (
	RetAccepted       uint8 = 0
	RetDeclinedBandwidth uint8 = 10
	RetDeclinedTransient uint8 = 20
	RetDeclinedHop       uint8 = 30
)

// HopConfig describes one hop in a tunnel build: identity, next-hop routing,
// per-hop symmetric key material, and its position in the build message.
// Hops form a doubly-linked chain (Prev/Next) in build order, first to last
// (spec.md §3).
type HopConfig struct {
	Identity     data.Hash // this hop's router identity hash
	NextIdent    data.Hash // next hop's identity hash (or the endpoint, for the last hop)
	NextTunnelID TunnelID
	ReceiveTunnelID TunnelID // the tunnel id this hop is told to use when receiving
	LayerKey     session_key.SessionKey
	IVKey        session_key.SessionKey
	ReplyKey     session_key.SessionKey
	ReplyIV      [16]byte

	RecordIndex int // slot this hop's record occupies in the build message

	Prev *HopConfig
	Next *HopConfig

	recordSize int
	cipher     HopRecordCipher
}

// newHopConfig builds a HopConfig with a freshly derived record cipher from
// its reply key/IV. recordSize is the wire size of one build-message slot,
// fixed per tunnel (short vs. variable format).
func newHopConfig(identity, nextIdent data.Hash, nextTunnelID, receiveTunnelID TunnelID, recordSize int) (*HopConfig, error) {
	layerKey, err := generateSessionKey()
	if err != nil {
		return nil, wrapf(err, "failed to generate layer key")
	}
	ivKey, err := generateSessionKey()
	if err != nil {
		return nil, wrapf(err, "failed to generate iv key")
	}
	replyKey, err := generateSessionKey()
	if err != nil {
		return nil, wrapf(err, "failed to generate reply key")
	}
	var replyIV [16]byte
	if err := readRandomBytes(replyIV[:]); err != nil {
		return nil, wrapf(err, "failed to generate reply iv")
	}

	cipher, err := newRecordStreamCipher(replyKey, replyIV)
	if err != nil {
		return nil, err
	}

	return &HopConfig{
		Identity:        identity,
		NextIdent:       nextIdent,
		NextTunnelID:    nextTunnelID,
		ReceiveTunnelID: receiveTunnelID,
		LayerKey:        layerKey,
		IVKey:           ivKey,
		ReplyKey:        replyKey,
		ReplyIV:         replyIV,
		recordSize:      recordSize,
		cipher:          cipher,
	}, nil
}

func generateSessionKey() (session_key.SessionKey, error) {
	var key session_key.SessionKey
	if err := readRandomBytes(key[:]); err != nil {
		return session_key.SessionKey{}, err
	}
	return key, nil
}

func (h *HopConfig) slot(buf []byte, idx int) ([]byte, error) {
	start := idx * h.recordSize
	end := start + h.recordSize
	if start < 0 || end > len(buf) {
		return nil, errf("record slot %d out of range (buffer has %d bytes, record size %d)", idx, len(buf), h.recordSize)
	}
	return buf[start:end], nil
}

// CreateBuildRequestRecord writes this hop's record into its assigned slot
// of buf, encrypted with this hop's key material. replyMsgID is the inner
// correlation value this hop's record carries: every hop but the last gets a
// fresh random one, the last hop gets the caller's correlation id
// (spec.md §4.2 step 4).
func (h *HopConfig) CreateBuildRequestRecord(buf []byte, replyMsgID TunnelID) error {
	slot, err := h.slot(buf, h.RecordIndex)
	if err != nil {
		return err
	}

	plain := make([]byte, recPlaintextSize)
	binary.BigEndian.PutUint32(plain[recOffReceiveTunnel:], uint32(h.ReceiveTunnelID))
	copy(plain[recOffOurIdent:], h.Identity[:])
	binary.BigEndian.PutUint32(plain[recOffNextTunnel:], uint32(h.NextTunnelID))
	copy(plain[recOffNextIdent:], h.NextIdent[:])
	copy(plain[recOffLayerKey:], h.LayerKey[:])
	copy(plain[recOffIVKey:], h.IVKey[:])
	copy(plain[recOffReplyKey:], h.ReplyKey[:])
	copy(plain[recOffReplyIV:], h.ReplyIV[:])
	plain[recOffFlag] = 0
	binary.BigEndian.PutUint32(plain[recOffRequestTime:], uint32(0))
	binary.BigEndian.PutUint32(plain[recOffSendMessageID:], uint32(replyMsgID))
	plain[recOffRetCode] = RetAccepted

	sealed, err := h.cipher.Encrypt(plain)
	if err != nil {
		return wrapf(err, "failed to seal build request record")
	}
	if len(sealed) > len(slot) {
		return errf("sealed record (%d bytes) exceeds slot size %d", len(sealed), len(slot))
	}
	// Pad the remainder of the slot with random bytes so real and fake
	// records stay indistinguishable (spec.md §3 "Record indexing").
	if err := readRandomBytes(slot); err != nil {
		return wrapf(err, "failed to pad record slot")
	}
	copy(slot, sealed)
	return nil
}

// DecryptRecord peels one outer layer off slot idx using this hop's own
// key material, in place. Used both to pre-obfuscate downstream slots
// before sending (spec.md §4.1) and to peel reply records on the way back.
func (h *HopConfig) DecryptRecord(buf []byte, idx int) error {
	slot, err := h.slot(buf, idx)
	if err != nil {
		return err
	}
	peeled, err := h.cipher.Decrypt(slot)
	if err != nil {
		return wrapf(err, "failed to peel record slot %d", idx)
	}
	n := len(peeled)
	if n > len(slot) {
		n = len(slot)
	}
	copy(slot, peeled[:n])
	return nil
}

// DecryptBuildResponseRecord removes this hop's own outer layer from its own
// slot and returns the resulting plaintext, from which GetRetCode reads the
// outcome byte (spec.md §4.1).
func (h *HopConfig) DecryptBuildResponseRecord(buf []byte) ([]byte, error) {
	if err := h.DecryptRecord(buf, h.RecordIndex); err != nil {
		return nil, err
	}
	slot, err := h.slot(buf, h.RecordIndex)
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// GetRetCode reads the outcome byte (0 = accepted, non-zero = declined)
// from this hop's own slot, after DecryptBuildResponseRecord has been
// applied to it.
func (h *HopConfig) GetRetCode(buf []byte) (uint8, error) {
	slot, err := h.slot(buf, h.RecordIndex)
	if err != nil {
		return 0, err
	}
	if recOffRetCode >= len(slot) {
		return 0, ErrRecordIndexRange
	}
	return slot[recOffRetCode], nil
}

func (h *HopConfig) logFields() logger.Fields {
	return logger.Fields{
		"record_index": h.RecordIndex,
	}
}
