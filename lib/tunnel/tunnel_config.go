package tunnel

import "github.com/go-i2p/common/data"

// TunnelConfig is the ordered chain of HopConfigs used to plan a tunnel
// build, plus the direction and record-format flag that fix the wire
// layout of the build message (spec.md §3).
type TunnelConfig struct {
	Direction      Direction
	IsShortBuild   bool // short-format (218-byte) vs. variable-format (528-byte) records
	Hops           []*HopConfig
	recordSize     int
	numRecords     int
}

// NewTunnelConfig links hops (already ordered first-to-last) into a
// doubly-linked chain and picks the record format/slot count per
// spec.md §4.2 step 1.
func NewTunnelConfig(direction Direction, isShortBuild bool, hops []*HopConfig) (*TunnelConfig, error) {
	if len(hops) == 0 {
		return nil, ErrNoHops
	}
	if len(hops) > MaxNumRecords {
		return nil, ErrTooManyHops
	}

	for i, h := range hops {
		if i > 0 {
			h.Prev = hops[i-1]
			hops[i-1].Next = h
		}
	}
	hops[0].Prev = nil
	hops[len(hops)-1].Next = nil

	recordSize := ShortTunnelBuildRecordSize
	if !isShortBuild {
		recordSize = TunnelBuildRecordSize
	}

	numRecords := StandardNumRecords
	if len(hops) > StandardNumRecords {
		numRecords = MaxNumRecords
	}

	return &TunnelConfig{
		Direction:    direction,
		IsShortBuild: isShortBuild,
		Hops:         hops,
		recordSize:   recordSize,
		numRecords:   numRecords,
	}, nil
}

func (tc *TunnelConfig) NumHops() int     { return len(tc.Hops) }
func (tc *TunnelConfig) NumRecords() int  { return tc.numRecords }
func (tc *TunnelConfig) RecordSize() int  { return tc.recordSize }

func (tc *TunnelConfig) FirstHop() *HopConfig { return tc.Hops[0] }
func (tc *TunnelConfig) LastHop() *HopConfig  { return tc.Hops[len(tc.Hops)-1] }

// peers returns hop identities in build order, first hop to last
// (spec.md §D.1 "GetPeers").
func (tc *TunnelConfig) peers() []data.Hash {
	out := make([]data.Hash, len(tc.Hops))
	for i, h := range tc.Hops {
		out[i] = h.Identity
	}
	return out
}

// preObfuscate performs the build-time obfuscation pass of spec.md §4.1:
// walking the chain from last-but-one back to first, each hop decrypts
// every downstream slot with its own keys, mirroring the layer-stripping
// hops downstream will see happen in flight.
func (tc *TunnelConfig) preObfuscate(buf []byte) error {
	for i := len(tc.Hops) - 2; i >= 0; i-- {
		h := tc.Hops[i]
		for j := i + 1; j < len(tc.Hops); j++ {
			if err := h.DecryptRecord(buf, tc.Hops[j].RecordIndex); err != nil {
				return wrapf(err, "pre-obfuscation failed at hop %d on slot %d", i, tc.Hops[j].RecordIndex)
			}
		}
	}
	return nil
}

// peelReply performs the reply peel of spec.md §4.1. preObfuscate leaves
// slot j encrypted under every hop i<j's key in addition to slot j's own
// hop's key (each hop i<j's DecryptRecord pass touches it exactly once);
// since every hop's record cipher is a self-inverse keystream, running
// that exact same cross-hop pass a second time cancels those extra layers
// out again, leaving each slot under only its own hop's layer. Stripping
// that own layer then recovers the original plaintext record for every
// hop, regardless of chain length. Returns one return code per hop,
// indexed the same as tc.Hops (build order).
func (tc *TunnelConfig) peelReply(buf []byte) ([]uint8, error) {
	if err := tc.preObfuscate(buf); err != nil {
		return nil, wrapf(err, "reply peel failed undoing cross-hop obfuscation")
	}

	retCodes := make([]uint8, len(tc.Hops))
	for i, h := range tc.Hops {
		if _, err := h.DecryptBuildResponseRecord(buf); err != nil {
			return nil, wrapf(err, "reply peel failed decrypting own slot for hop %d", i)
		}
		code, err := h.GetRetCode(buf)
		if err != nil {
			return nil, err
		}
		retCodes[i] = code
	}
	return retCodes, nil
}
