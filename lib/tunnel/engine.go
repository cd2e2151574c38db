package tunnel

import (
	"context"

	"github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
)

// Config is the subset of router configuration the tunnel engine needs to
// size its exploratory pools (spec.md §6; keys match lib/config's
// exploratory.* settings).
type Config struct {
	ExploratoryInboundLength    int
	ExploratoryOutboundLength   int
	ExploratoryInboundQuantity  int
	ExploratoryOutboundQuantity int
}

// Tunnels is the engine's top-level singleton: the one type external
// packages construct and call into (spec.md §4.10, §6). It wires together
// the registry, pending-build tracker, pool coordinator, memory pools, and
// the single goroutine that runs the dispatch loop and drives the lifecycle
// sweeps.
type Tunnels struct {
	registry *TunnelRegistry
	pending  *PendingTunnels
	pools    *PoolCoordinator
	mpools   *MemoryPools
	dispatch *DispatchLoop
	lifecycle *LifecycleManager
	rng      *processRNG

	selfIdentity data.Hash
	dest         Destination
	transport    Transport
	netdb        NetDB

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTunnels constructs the engine around its collaborators. selfIdentity
// is this router's own identity hash, used to address the last hop of
// inbound tunnels at ourselves (spec.md §4.2). transit handles arriving
// transit build requests (spec.md §1); nil falls back to NopTransitHandler
// so the engine runs standalone.
func NewTunnels(cfg Config, selfIdentity data.Hash, transport Transport, netdb NetDB, dest Destination, transit TransitTunnelHandler) *Tunnels {
	registry := NewTunnelRegistry()
	pending := NewPendingTunnels()
	rng := newProcessRNG()
	pools := NewPoolCoordinator(registry, pending, netdb, transport, dest, rng, selfIdentity,
		cfg.ExploratoryInboundLength, cfg.ExploratoryOutboundLength,
		cfg.ExploratoryInboundQuantity, cfg.ExploratoryOutboundQuantity)
	mpools := NewMemoryPools()

	dispatch := NewDispatchLoop(registry, pending, transit)
	lifecycle := NewLifecycleManager(registry, pending, pools, mpools, rng)
	dispatch.SetLifecycle(lifecycle)

	return &Tunnels{
		registry:     registry,
		pending:      pending,
		pools:        pools,
		mpools:       mpools,
		dispatch:     dispatch,
		lifecycle:    lifecycle,
		rng:          rng,
		selfIdentity: selfIdentity,
		dest:         dest,
		transport:    transport,
		netdb:        netdb,
	}
}

// Start activates the exploratory pools, bootstraps a zero-hop pair so the
// router has something usable before any real build succeeds, and launches
// the dispatch loop, which also drives the lifecycle manager's sweeps on the
// same goroutine (spec.md §4.9, §D.4, §5). parent is typically
// context.Background(); Start derives its own cancelable context so Stop
// doesn't require the caller to have kept one around.
func (t *Tunnels) Start(parent context.Context) {
	t.pools.Inbound().SetActive(true)
	t.pools.Outbound().SetActive(true)

	if err := t.bootstrapZeroHops(); err != nil {
		log.WithFields(logger.Fields{"at": "(Tunnels) Start"}).WithError(err).Warn("zero-hop bootstrap failed")
	}

	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		t.dispatch.Run(ctx)
	}()
}

// Stop cancels the engine's goroutines and blocks until they've exited.
func (t *Tunnels) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
}

// Wait blocks until the engine's background goroutines have exited,
// whether because Stop was called or the context passed to Start was
// cancelled by the caller.
func (t *Tunnels) Wait() {
	if t.done == nil {
		return
	}
	<-t.done
}

func (t *Tunnels) bootstrapZeroHops() error {
	inID, err := randomTunnelID()
	if err != nil {
		return err
	}
	outID, err := randomTunnelID()
	if err != nil {
		return err
	}
	in := newZeroHopsInboundTunnel(inID, t.dest)
	out := newZeroHopsOutboundTunnel(outID, t.dest, t.transport)
	if err := t.registry.Add(in); err != nil {
		return err
	}
	t.pools.TunnelCreated(in)
	t.pools.TunnelCreated(out)
	return nil
}

// Registry exposes tunnel lookup to callers that need it directly (e.g. a
// CLI status command).
func (t *Tunnels) Registry() *TunnelRegistry { return t.registry }

// Dispatch exposes the send/receive queue so transport and application
// code can feed the engine.
func (t *Tunnels) Dispatch() *DispatchLoop { return t.dispatch }

// Pools exposes pool membership and sizing for status reporting.
func (t *Tunnels) Pools() *PoolCoordinator { return t.pools }

// GetInboundTunnel returns an established inbound tunnel from the
// exploratory pool to publish as a lease, or nil if none is ready yet.
// Among established candidates it load-balances on NumReceivedBytes,
// picking whichever has carried the least traffic so far, the same
// least-loaded selection the original's GetNextInboundTunnel performs.
func (t *Tunnels) GetInboundTunnel() *InboundTunnel {
	var best *InboundTunnel
	var bestBytes uint64
	for _, h := range t.pools.Inbound().Tunnels() {
		if h.State() != StateEstablished {
			continue
		}
		var candidate *InboundTunnel
		switch v := h.(type) {
		case *InboundTunnel:
			candidate = v
		case *ZeroHopsInboundTunnel:
			candidate = v.InboundTunnel
		default:
			continue
		}
		bytes := candidate.NumReceivedBytes()
		if best == nil || bytes < bestBytes {
			best = candidate
			bestBytes = bytes
		}
	}
	return best
}

// GetOutboundTunnelFor returns an established outbound tunnel suitable for
// sending to inbound: a uniformly-random pick among established candidates,
// matching spec.md §6's GetNextOutboundTunnel contract and testable
// property 7 (§8) rather than a deterministic first-match. When the inbound
// tunnel doesn't belong to a pool of its own (e.g. it was built standalone
// rather than through PoolCoordinator), this builds a symmetric outbound
// tunnel that retraces the inbound tunnel's hops in reverse, per spec.md
// §D.5, rather than pulling an unrelated tunnel from the general outbound
// pool.
func (t *Tunnels) GetOutboundTunnelFor(in *InboundTunnel) (*OutboundTunnel, error) {
	if in.Pool() != nil {
		var candidates []*OutboundTunnel
		for _, h := range t.pools.Outbound().Tunnels() {
			if h.State() != StateEstablished {
				continue
			}
			switch v := h.(type) {
			case *OutboundTunnel:
				candidates = append(candidates, v)
			case *ZeroHopsOutboundTunnel:
				candidates = append(candidates, v.OutboundTunnel)
			}
		}
		if len(candidates) > 0 {
			return candidates[t.rng.intn(len(candidates))], nil
		}
	}
	return t.buildSymmetricOutbound(in)
}

// buildSymmetricOutbound constructs an outbound tunnel using the inbound
// tunnel's own hops in reverse, so a reply can be routed back through
// peers already known to behave rather than a freshly (and separately)
// selected set (spec.md §D.5).
func (t *Tunnels) buildSymmetricOutbound(in *InboundTunnel) (*OutboundTunnel, error) {
	peers := in.InvertedPeers()
	if len(peers) == 0 {
		return nil, ErrNoHops
	}

	id, err := randomTunnelID()
	if err != nil {
		return nil, err
	}
	recordSize := TunnelBuildRecordSize
	if len(peers) <= StandardNumRecords {
		recordSize = ShortTunnelBuildRecordSize
	}

	hops := make([]*HopConfig, len(peers))
	for i, peer := range peers {
		var nextIdent data.Hash
		var nextTunnelID TunnelID
		if i < len(peers)-1 {
			nextIdent = peers[i+1]
			nid, err := randomTunnelID()
			if err != nil {
				return nil, err
			}
			nextTunnelID = nid
		} else {
			nextIdent = peer
			nextTunnelID = 0
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

	cfg, err := NewTunnelConfig(Outbound, len(hops) <= StandardNumRecords, hops)
	if err != nil {
		return nil, err
	}
	out := newOutboundTunnel(id, hops[len(hops)-1].NextTunnelID, hops[len(hops)-1].NextIdent, cfg, t.transport, t.netdb, t.dest, t.rng)
	out.SetPool(t.pools)

	replyMsgID, err := randomTunnelID()
	if err != nil {
		return nil, err
	}
	t.pending.AddOutbound(replyMsgID, out)
	if err := out.Build(replyMsgID, nil); err != nil {
		t.pending.ResolveOutbound(replyMsgID)
		return nil, err
	}
	return out, nil
}
