package tunnel

import (
	"sync"

	"github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
)

// Pool is one direction's target tunnel set: how many hops each tunnel
// should have, how many tunnels should be kept established, and which
// tunnels currently fill that quota (spec.md §4.9, §6).
type Pool struct {
	mu        sync.Mutex
	direction Direction
	length    int
	quantity  int
	active    bool
	tunnels   []TunnelHandle
}

func NewPool(direction Direction, length, quantity int) *Pool {
	return &Pool{direction: direction, length: length, quantity: quantity}
}

func (p *Pool) Direction() Direction { p.mu.Lock(); defer p.mu.Unlock(); return p.direction }
func (p *Pool) Length() int          { p.mu.Lock(); defer p.mu.Unlock(); return p.length }
func (p *Pool) Quantity() int        { p.mu.Lock(); defer p.mu.Unlock(); return p.quantity }

func (p *Pool) SetActive(active bool) {
	p.mu.Lock()
	p.active = active
	p.mu.Unlock()
}

func (p *Pool) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pool) Add(t TunnelHandle) {
	p.mu.Lock()
	p.tunnels = append(p.tunnels, t)
	p.mu.Unlock()
}

func (p *Pool) Remove(id TunnelID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.tunnels {
		if t.ID() == id {
			p.tunnels = append(p.tunnels[:i], p.tunnels[i+1:]...)
			return
		}
	}
}

// Tunnels returns a snapshot of the pool's current membership.
func (p *Pool) Tunnels() []TunnelHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TunnelHandle, len(p.tunnels))
	copy(out, p.tunnels)
	return out
}

// EstablishedCount counts pool members that have finished building.
func (p *Pool) EstablishedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.tunnels {
		if t.State() == StateEstablished {
			n++
		}
	}
	return n
}

// NeedsMore reports how many additional tunnels an active pool should
// build to reach its quantity target; zero for an inactive pool.
func (p *Pool) NeedsMore() int {
	if !p.IsActive() {
		return 0
	}
	need := p.Quantity() - p.EstablishedCount()
	if need < 0 {
		return 0
	}
	return need
}

// PoolCoordinator owns the inbound and outbound pools and implements
// PoolCallbacks so individual tunnels can report lifecycle events back
// without holding a reference to the whole engine (spec.md §4.9, §6).
type PoolCoordinator struct {
	mu            sync.Mutex
	registry      *TunnelRegistry
	pending       *PendingTunnels
	netdb         NetDB
	transport     Transport
	dest          Destination
	rng           *processRNG
	selfIdentity  data.Hash
	inbound       *Pool
	outbound      *Pool
}

func NewPoolCoordinator(registry *TunnelRegistry, pending *PendingTunnels, netdb NetDB, transport Transport, dest Destination, rng *processRNG, selfIdentity data.Hash, inboundLength, outboundLength, inboundQuantity, outboundQuantity int) *PoolCoordinator {
	return &PoolCoordinator{
		registry:     registry,
		pending:      pending,
		netdb:        netdb,
		transport:    transport,
		dest:         dest,
		rng:          rng,
		selfIdentity: selfIdentity,
		inbound:      NewPool(Inbound, inboundLength, inboundQuantity),
		outbound:     NewPool(Outbound, outboundLength, outboundQuantity),
	}
}

func (c *PoolCoordinator) Inbound() *Pool  { return c.inbound }
func (c *PoolCoordinator) Outbound() *Pool { return c.outbound }

func (c *PoolCoordinator) TunnelCreated(t TunnelHandle) {
	if t.Direction() == Inbound {
		c.inbound.Add(t)
	} else {
		c.outbound.Add(t)
	}
}

func (c *PoolCoordinator) TunnelExpired(t TunnelHandle) {
	if t.Direction() == Inbound {
		c.inbound.Remove(t.ID())
	} else {
		c.outbound.Remove(t.ID())
	}
	c.registry.Remove(t.ID())
}

func (c *PoolCoordinator) RecreateInboundTunnel(old TunnelHandle) {
	if err := c.buildPoolTunnel(Inbound, c.inbound.Length()); err != nil {
		log.WithFields(logger.Fields{"at": "(PoolCoordinator) RecreateInboundTunnel"}).WithError(err).Warn("failed to recreate inbound tunnel")
	}
}

func (c *PoolCoordinator) RecreateOutboundTunnel(old TunnelHandle) {
	if err := c.buildPoolTunnel(Outbound, c.outbound.Length()); err != nil {
		log.WithFields(logger.Fields{"at": "(PoolCoordinator) RecreateOutboundTunnel"}).WithError(err).Warn("failed to recreate outbound tunnel")
	}
}

func (c *PoolCoordinator) SetLeaseSetUpdated(updated bool) {
	if c.dest != nil {
		c.dest.SetLeaseSetUpdated(updated)
	}
}

// ManageTunnels is the pool-management tick (spec.md §4.9): tops up each
// active pool to its quantity, falling back to a one-hop tunnel per
// spec.md §D.4 when a full-length build can't be attempted because the
// netdb can't offer enough distinct peers.
func (c *PoolCoordinator) ManageTunnels() {
	for _, pool := range []*Pool{c.inbound, c.outbound} {
		need := pool.NeedsMore()
		for i := 0; i < need; i++ {
			length := pool.Length()
			if err := c.buildPoolTunnel(pool.direction, length); err != nil {
				log.WithFields(logger.Fields{"at": "(PoolCoordinator) ManageTunnels", "direction": pool.direction}).
					WithError(err).Warn("full-length build failed, falling back to one hop")
				if err := c.buildPoolTunnel(pool.direction, 1); err != nil {
					log.WithFields(logger.Fields{"at": "(PoolCoordinator) ManageTunnels", "direction": pool.direction}).
						WithError(err).Warn("one-hop fallback build also failed")
				}
			}
		}
	}
}

// buildPoolTunnel selects length peers from the netdb, assembles a hop
// chain, and dispatches the build. The new tunnel is tracked pending under
// its reply correlation id; registry membership (inbound only — spec.md
// §3, §4.10) and pool membership both happen once HandleTunnelBuildResponse
// (driven by DispatchLoop's completeBuild) succeeds, not here.
func (c *PoolCoordinator) buildPoolTunnel(direction Direction, length int) error {
	if c.netdb == nil {
		return errf("no netdb configured for peer selection")
	}
	exclude := make([]data.Hash, 0, length)
	peers := make([]data.Hash, 0, length)
	for i := 0; i < length; i++ {
		p, err := c.netdb.GetRandomRouter(exclude, true)
		if err != nil {
			return wrapf(err, "peer selection failed at hop %d", i)
		}
		h := p.IdentHash()
		peers = append(peers, h)
		exclude = append(exclude, h)
	}

	id, err := randomTunnelID()
	if err != nil {
		return wrapf(err, "failed to allocate tunnel id")
	}
	replyMsgID, err := randomTunnelID()
	if err != nil {
		return wrapf(err, "failed to allocate reply correlation id")
	}

	hops, err := c.buildHopChain(direction, id, peers)
	if err != nil {
		return wrapf(err, "failed to build hop chain")
	}
	cfg, err := NewTunnelConfig(direction, len(hops) <= StandardNumRecords, hops)
	if err != nil {
		return wrapf(err, "failed to construct tunnel config")
	}

	var handle TunnelHandle
	var base *Tunnel
	if direction == Inbound {
		t := newInboundTunnel(id, hops[len(hops)-1].NextTunnelID, hops[len(hops)-1].NextIdent, cfg, c.transport, c.netdb, c.dest, c.rng)
		t.SetPool(c)
		handle, base = t, t.Tunnel
		c.pending.AddInbound(replyMsgID, handle)
	} else {
		t := newOutboundTunnel(id, hops[len(hops)-1].NextTunnelID, hops[len(hops)-1].NextIdent, cfg, c.transport, c.netdb, c.dest, c.rng)
		t.SetPool(c)
		handle, base = t, t.Tunnel
		c.pending.AddOutbound(replyMsgID, handle)
	}

	var carrier *OutboundTunnel
	if direction == Inbound {
		carrier = c.pickCarrier()
	}
	if err := base.Build(replyMsgID, carrier); err != nil {
		if direction == Inbound {
			c.pending.ResolveInbound(replyMsgID)
		} else {
			c.pending.ResolveOutbound(replyMsgID)
		}
		return wrapf(err, "failed to dispatch build request")
	}
	return nil
}

// pickCarrier returns a uniformly-random established outbound tunnel to
// deliver an inbound build request through, or nil if none is available yet
// (the build then goes out directly, matching spec.md §4.2's
// earliest-bootstrap case). Uniform selection matches spec.md §6's
// GetNextOutboundTunnel contract and testable property 7 (§8): every
// established outbound tunnel is an equally likely carrier, not just
// whichever one the pool happens to list first.
func (c *PoolCoordinator) pickCarrier() *OutboundTunnel {
	var candidates []*OutboundTunnel
	for _, t := range c.outbound.Tunnels() {
		if t.State() != StateEstablished {
			continue
		}
		switch v := t.(type) {
		case *OutboundTunnel:
			candidates = append(candidates, v)
		case *ZeroHopsOutboundTunnel:
			candidates = append(candidates, v.OutboundTunnel)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[c.rng.intn(len(candidates))]
}

// buildHopChain wires HopConfigs in build order. For an outbound tunnel the
// last hop's NextIdent equals its own identity, a terminal marker (no
// further hop). For an inbound tunnel the last hop's NextIdent is this
// router's own identity and its NextTunnelID is the inbound tunnel's id, so
// that hop's tunnel-data messages land on our own endpoint.
func (c *PoolCoordinator) buildHopChain(direction Direction, tunnelID TunnelID, peers []data.Hash) ([]*HopConfig, error) {
	recordSize := TunnelBuildRecordSize
	if len(peers) <= StandardNumRecords {
		recordSize = ShortTunnelBuildRecordSize
	}

	hops := make([]*HopConfig, len(peers))
	for i, peer := range peers {
		var nextIdent data.Hash
		var nextTunnelID TunnelID

		switch {
		case i < len(peers)-1:
			nextIdent = peers[i+1]
			nid, err := randomTunnelID()
			if err != nil {
				return nil, err
			}
			nextTunnelID = nid
		case direction == Outbound:
			nextIdent = peer
			nextTunnelID = 0
		default:
			nextIdent = c.selfIdentity
			nextTunnelID = tunnelID
		}

		receiveID, err := randomTunnelID()
		if err != nil {
			return nil, err
		}
		h, err := newHopConfig(peer, nextIdent, nextTunnelID, receiveID, recordSize)
		if err != nil {
			return nil, err
		}
		hops[i] = h
	}
	return hops, nil
}
