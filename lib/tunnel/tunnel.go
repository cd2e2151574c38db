package tunnel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
)

// establishedHop is one hop's surviving state after a successful build:
// identity plus the §4.4 data-message layer decryptor. HopConfig's key
// material and record-build machinery are discarded once the config is
// released (spec.md §3 "Tunnel" lifecycle).
type establishedHop struct {
	identity data.Hash
	cipher   HopRecordCipher
}

// Tunnel is the base type shared by InboundTunnel and OutboundTunnel:
// build-time config, the reply-peel machinery, established-hop state, and
// the lifecycle state machine (spec.md §3, §4.2–§4.4).
type Tunnel struct {
	mu sync.Mutex

	id           TunnelID
	direction    Direction
	nextTunnelID TunnelID
	nextIdent    data.Hash

	config *TunnelConfig     // released once Established
	hops   []establishedHop  // reverse order, see spec.md §4.3 note

	state        TunnelState
	isShortBuild bool
	replyMsgID   TunnelID

	createdAt time.Time
	recreated bool
	latency   time.Duration

	numReceivedBytes uint64 // atomic counter of tunnel-data message bytes received, spec.md §9

	// pool is a conceptual weak back-link (spec.md §9): a tunnel does not
	// keep its pool alive. Go's GC makes literal weak pointers unnecessary;
	// the discipline is enforced by convention — Tunnel never retains the
	// pool anywhere else, and Pool() tolerates a nil pool.
	pool PoolCallbacks

	transport Transport
	netdb     NetDB
	dest      Destination
	rng       *processRNG
}

// newTunnel constructs a pending tunnel around a build plan. id is this
// tunnel's own locally-assigned id; nextTunnelID/nextIdent describe the
// peer past the local endpoint (spec.md §3 "Tunnel" attributes).
func newTunnel(id TunnelID, direction Direction, nextTunnelID TunnelID, nextIdent data.Hash, config *TunnelConfig, transport Transport, netdb NetDB, dest Destination, rng *processRNG) *Tunnel {
	return &Tunnel{
		id:           id,
		direction:    direction,
		nextTunnelID: nextTunnelID,
		nextIdent:    nextIdent,
		config:       config,
		state:        StatePending,
		latency:      UnknownLatency,
		createdAt:    time.Now(),
		transport:    transport,
		netdb:        netdb,
		dest:         dest,
		rng:          rng,
	}
}

func (t *Tunnel) ID() TunnelID          { return t.id }
func (t *Tunnel) Direction() Direction  { return t.direction }
func (t *Tunnel) NextTunnelID() TunnelID { return t.nextTunnelID }
func (t *Tunnel) NextIdent() data.Hash  { return t.nextIdent }

func (t *Tunnel) State() TunnelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tunnel) setState(s TunnelState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// NumHops returns the established hop count, or the planned count while
// still pending.
func (t *Tunnel) NumHops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.config != nil {
		return t.config.NumHops()
	}
	return len(t.hops)
}

func (t *Tunnel) CreatedAt() time.Time { return t.createdAt }

func (t *Tunnel) IsRecreated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recreated
}

// SetRecreated latches the recreated flag; invariant 9 (spec.md §8) relies
// on this never being un-set.
func (t *Tunnel) SetRecreated() {
	t.mu.Lock()
	t.recreated = true
	t.mu.Unlock()
}

// Pool returns the tunnel's owning pool, or nil if it has none (spec.md
// §9's weak back-link).
func (t *Tunnel) Pool() PoolCallbacks {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pool
}

func (t *Tunnel) SetPool(p PoolCallbacks) {
	t.mu.Lock()
	t.pool = p
	t.mu.Unlock()
}

// LatencyFitsRange reports whether the tunnel's last measured latency
// falls within [lo, hi]. A tunnel with no sample (UnknownLatency) never
// fits any range, matching the original's UNKNOWN_LATENCY sentinel
// (spec.md §D.2).
func (t *Tunnel) LatencyFitsRange(lo, hi time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latency == UnknownLatency {
		return false
	}
	return t.latency >= lo && t.latency <= hi
}

func (t *Tunnel) RecordLatency(d time.Duration) {
	t.mu.Lock()
	t.latency = d
	t.mu.Unlock()
}

// Touch is invoked by LifecycleManager on every established tunnel that is
// neither expired nor about to expire (spec.md §D.3). It's an extension
// point for latency-sample decay; currently a no-op because nothing in this
// engine ages latency samples yet.
func (t *Tunnel) Touch() {}

func (t *Tunnel) NumReceivedBytes() uint64 {
	return atomic.LoadUint64(&t.numReceivedBytes)
}

func (t *Tunnel) addReceivedBytes(n int) {
	atomic.AddUint64(&t.numReceivedBytes, uint64(n))
}

// Peers returns established hop identities in build order (first hop to
// last), reversing the stored (reply-order) slice — spec.md §D.1.
func (t *Tunnel) Peers() []data.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]data.Hash, len(t.hops))
	for i, h := range t.hops {
		out[len(out)-1-i] = h.identity
	}
	return out
}

// InvertedPeers returns established hop identities in the stored (reverse)
// order directly, used verbatim when building a symmetric outbound tunnel
// for an unpooled inbound tunnel (spec.md §D.1, §D.5).
func (t *Tunnel) InvertedPeers() []data.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]data.Hash, len(t.hops))
	for i, h := range t.hops {
		out[i] = h.identity
	}
	return out
}

// Build assembles and dispatches the build-request message for this
// tunnel's config (spec.md §4.2). carrier, if non-nil, is an established
// outbound tunnel used to deliver the request for inbound builds; without
// one, the request goes straight to the first hop via Transport.
func (t *Tunnel) Build(replyMsgID TunnelID, carrier *OutboundTunnel) error {
	t.mu.Lock()
	cfg := t.config
	t.mu.Unlock()
	if cfg == nil {
		return ErrNoHops
	}

	buf := make([]byte, 1+cfg.NumRecords()*cfg.RecordSize())
	buf[0] = byte(cfg.NumRecords())
	records := buf[1:]

	slots := t.rng.shuffleSlots(cfg.NumRecords())
	used := make(map[int]bool, len(cfg.Hops))
	for i, h := range cfg.Hops {
		h.RecordIndex = slots[i]
		used[h.RecordIndex] = true

		innerReplyID := replyMsgID
		if h != cfg.LastHop() {
			id, err := randomTunnelID()
			if err != nil {
				return wrapf(err, "failed to generate inner reply id for hop %d", i)
			}
			innerReplyID = id
		}
		if err := h.CreateBuildRequestRecord(records, innerReplyID); err != nil {
			return wrapf(err, "failed to create build request record for hop %d", i)
		}
	}
	for i := 0; i < cfg.NumRecords(); i++ {
		if used[i] {
			continue
		}
		start := i * cfg.RecordSize()
		if err := readRandomBytes(records[start : start+cfg.RecordSize()]); err != nil {
			return wrapf(err, "failed to fill fake record slot %d", i)
		}
	}

	if err := cfg.preObfuscate(records); err != nil {
		return wrapf(err, "pre-obfuscation failed")
	}

	t.mu.Lock()
	t.replyMsgID = replyMsgID
	t.mu.Unlock()

	onDrop := func() { t.setState(StateBuildFailed) }

	firstHop := cfg.FirstHop()
	lastHop := cfg.LastHop()

	if carrier != nil {
		msg := buf
		if cfg.IsShortBuild && firstHop.Identity != carrier.NextIdent() {
			if t.dest == nil {
				return errf("no destination configured to seal one-time build envelope for first hop")
			}
			sealed, err := t.dest.SealOneTimeEnvelope(buf, firstHop.Identity)
			if err != nil {
				return wrapf(err, "failed to seal one-time build envelope for first hop")
			}
			msg = sealed
			log.WithFields(logger.Fields{
				"at":        "(Tunnel) Build",
				"tunnel_id": t.id,
			}).Debug("wrapped build message in one-time asymmetric envelope for first hop")
		}
		block := NewTunnelMessageBlock(&firstHop.Identity, nil, msg)
		return carrier.SendTunnelDataMsgs([]TunnelMessageBlock{block}, onDrop)
	}

	if lastHop.NextIdent != lastHop.Identity && t.dest != nil {
		t.dest.SubmitECIESx25519Key([32]byte(lastHop.ReplyKey), uint32(replyMsgID))
	}
	if t.transport == nil {
		return errf("no transport configured to dispatch build request")
	}
	return t.transport.SendMessage(firstHop.Identity, buf, onDrop)
}

// HandleTunnelBuildResponse processes a build reply per spec.md §4.3.
// Returns true and transitions to Established iff every hop accepted.
func (t *Tunnel) HandleTunnelBuildResponse(buf []byte) (bool, error) {
	t.mu.Lock()
	cfg := t.config
	t.mu.Unlock()
	if cfg == nil {
		return false, ErrTunnelNotEstablished
	}
	if len(buf) < 1 {
		return false, ErrMalformedReply
	}
	count := int(buf[0])
	if count > MaxNumRecords {
		return false, wrapf(ErrMalformedReply, "record count %d exceeds MAX_NUM_RECORDS", count)
	}
	if len(buf) < 1+count*cfg.RecordSize() {
		return false, wrapf(ErrMalformedReply, "buffer length %d too short for %d records of size %d", len(buf), count, cfg.RecordSize())
	}

	t.setState(StateBuildReplyReceived)

	records := buf[1 : 1+count*cfg.RecordSize()]
	retCodes, err := cfg.peelReply(records)
	if err != nil {
		return false, wrapf(err, "reply peel failed")
	}

	declined := false
	for i, h := range cfg.Hops {
		accepted := retCodes[i] == RetAccepted
		if !accepted {
			declined = true
		}
		if t.netdb != nil {
			t.netdb.UpdateRouterProfile(h.Identity, accepted, retCodes[i])
		}
	}

	if declined {
		t.setState(StateBuildFailed)
		return false, nil
	}

	hops := make([]establishedHop, len(cfg.Hops))
	for i := len(cfg.Hops) - 1; i >= 0; i-- {
		h := cfg.Hops[i]
		cipher, err := newDataHopCipher(h.LayerKey, h.IVKey)
		if err != nil {
			return false, wrapf(err, "failed to construct data cipher for hop %d", i)
		}
		hops[len(cfg.Hops)-1-i] = establishedHop{identity: h.Identity, cipher: cipher}
	}

	t.mu.Lock()
	t.hops = hops
	t.isShortBuild = cfg.IsShortBuild
	t.config = nil
	t.state = StateEstablished
	t.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":        "(Tunnel) HandleTunnelBuildResponse",
		"tunnel_id": t.id,
		"num_hops":  len(hops),
	}).Info("tunnel established")
	return true, nil
}

// transformTunnelData applies the §4.4 layered transform: walk established
// hops in stored (reverse) order, each hop's Decrypt output feeding the
// next hop's input. payload excludes the 4-byte tunnel id field.
func (t *Tunnel) transformTunnelData(payload []byte) ([]byte, error) {
	t.mu.Lock()
	hops := t.hops
	t.mu.Unlock()

	cur := payload
	for i, h := range hops {
		out, err := h.cipher.Decrypt(cur)
		if err != nil {
			return nil, wrapf(err, "layered transform failed at established hop %d", i)
		}
		cur = out
	}
	return cur, nil
}
