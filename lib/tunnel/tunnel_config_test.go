package tunnel

import (
	"testing"

	"github.com/go-i2p/common/data"
	"github.com/stretchr/testify/require"
)

func buildTestHops(t *testing.T, n int) []*HopConfig {
	t.Helper()
	hops := make([]*HopConfig, n)
	for i := 0; i < n; i++ {
		var identity, nextIdent data.Hash
		identity[0] = byte(i + 1)
		nextIdent[0] = byte(i + 2)
		h, err := newHopConfig(identity, nextIdent, TunnelID(100+i), TunnelID(i), TunnelBuildRecordSize)
		require.NoError(t, err)
		hops[i] = h
	}
	return hops
}

// TestPreObfuscateAndPeelReplyRecoversAcceptCodes verifies the full
// build-walk/peel-walk sequence round-trips exactly for chains from one to
// MaxNumRecords hops: every hop's accept code, freshly written by
// CreateBuildRequestRecord, survives preObfuscate followed by peelReply
// unchanged, regardless of chain length.
func TestPreObfuscateAndPeelReplyRecoversAcceptCodes(t *testing.T) {
	for n := 1; n <= MaxNumRecords; n++ {
		hops := buildTestHops(t, n)
		cfg, err := NewTunnelConfig(Outbound, false, hops)
		require.NoError(t, err)

		buf := make([]byte, cfg.NumRecords()*cfg.RecordSize())
		slots := make([]int, cfg.NumRecords())
		for i := range slots {
			slots[i] = i
		}
		for i, h := range cfg.Hops {
			h.RecordIndex = slots[i]
			require.NoError(t, h.CreateBuildRequestRecord(buf, TunnelID(1000+i)))
		}
		for i := len(hops); i < cfg.NumRecords(); i++ {
			require.NoError(t, readRandomBytes(buf[i*cfg.RecordSize():(i+1)*cfg.RecordSize()]))
		}

		require.NoError(t, cfg.preObfuscate(buf))
		codes, err := cfg.peelReply(buf)
		require.NoError(t, err)
		require.Len(t, codes, n)
		for i, c := range codes {
			require.Equal(t, RetAccepted, c, "hop %d in a %d-hop chain", i, n)
		}
	}
}

// TestSingleHopReplyIsExactRoundTrip pins the degenerate case separately:
// preObfuscate is a no-op for one hop (its loop only runs over pairs of
// distinct hops), so the reply peel only ever undoes that hop's own
// encrypt, with no cross-hop layer to cancel.
func TestSingleHopReplyIsExactRoundTrip(t *testing.T) {
	hops := buildTestHops(t, 1)
	cfg, err := NewTunnelConfig(Outbound, false, hops)
	require.NoError(t, err)

	buf := make([]byte, cfg.NumRecords()*cfg.RecordSize())
	hops[0].RecordIndex = 0
	require.NoError(t, hops[0].CreateBuildRequestRecord(buf, TunnelID(5)))
	for i := 1; i < cfg.NumRecords(); i++ {
		require.NoError(t, readRandomBytes(buf[i*cfg.RecordSize():(i+1)*cfg.RecordSize()]))
	}

	require.NoError(t, cfg.preObfuscate(buf))
	codes, err := cfg.peelReply(buf)
	require.NoError(t, err)
	require.Equal(t, []uint8{RetAccepted}, codes)
}

// TestMultiHopPeelRecoversEachHopIndependently pins a 3-hop chain
// explicitly: preObfuscate leaves slot j encrypted under every
// earlier hop's key as well as its own, and peelReply must cancel exactly
// those cross-hop layers (by re-running preObfuscate's own transform, which
// is self-inverse) before stripping each hop's own layer. A chain with a
// mix of accepted and declined hops must recover each hop's code correctly.
func TestMultiHopPeelRecoversEachHopIndependently(t *testing.T) {
	hops := buildTestHops(t, 3)
	cfg, err := NewTunnelConfig(Outbound, false, hops)
	require.NoError(t, err)

	buf := make([]byte, cfg.NumRecords()*cfg.RecordSize())
	for i, h := range hops {
		h.RecordIndex = i
		require.NoError(t, h.CreateBuildRequestRecord(buf, TunnelID(i)))
	}
	for i := len(hops); i < cfg.NumRecords(); i++ {
		require.NoError(t, readRandomBytes(buf[i*cfg.RecordSize():(i+1)*cfg.RecordSize()]))
	}

	// Flip the middle hop's own plaintext return code to a decline after
	// sealing, the same way a real middle hop would write its own verdict
	// into its own slot before the message continues on.
	declineSlot, err := hops[1].slot(buf, hops[1].RecordIndex)
	require.NoError(t, err)
	plain, err := hops[1].cipher.Decrypt(declineSlot)
	require.NoError(t, err)
	plain[recOffRetCode] = RetDeclinedBandwidth
	sealedDecline, err := hops[1].cipher.Encrypt(plain)
	require.NoError(t, err)
	copy(declineSlot, sealedDecline)

	require.NoError(t, cfg.preObfuscate(buf))
	codes, err := cfg.peelReply(buf)
	require.NoError(t, err)
	require.Equal(t, []uint8{RetAccepted, RetDeclinedBandwidth, RetAccepted}, codes)
}
