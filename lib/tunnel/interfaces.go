package tunnel

import (
	"github.com/go-i2p/common/data"
	"github.com/go-i2p/common/router_info"
)

// Transport is the out-of-scope collaborator that ships individual messages
// to peer routers (spec.md §1, §6 "Downstream"). SendMessage is
// fire-and-forget; onDrop, if non-nil, is invoked if the transport discards
// the message before it leaves.
type Transport interface {
	SendMessage(identHash data.Hash, msg []byte, onDrop func()) error
}

// NetDB is the out-of-scope network database collaborator that yields router
// identities and carries per-router build-success profiling.
type NetDB interface {
	GetRandomRouter(exclude []data.Hash, reachable bool) (router_info.RouterInfo, error)
	UpdateRouterProfile(hash data.Hash, accepted bool, retCode uint8)
}

// Destination is the local destination / router-context collaborator that
// owns the garlic/ratchet layer and one-time reply decryption keys
// (spec.md §4.2 step 8, §6 "SubmitECIESx25519Key"). ReceiveTunnelMessage is
// this module's seam for spec.md §4.5's "tunnel endpoint handler (external)":
// every DeliveryLocal block an inbound (or zero-hop outbound) tunnel decodes
// is still garlic/ratchet-wrapped, and unwrapping it is the destination
// layer's job, out of scope here — but something has to own receiving it,
// named after the i2cp Session.ReceiveMessage convention.
type Destination interface {
	SubmitECIESx25519Key(key [32]byte, tag uint32)
	SetLeaseSetUpdated(updated bool)
	ReceiveTunnelMessage(payload []byte) error

	// SealOneTimeEnvelope wraps a short-format build message addressed to
	// firstHop in a one-time asymmetric envelope (spec.md §4.2 step 8), used
	// when a carrier-delivered inbound build's first hop differs from the
	// carrier's own endpoint. The real primitive (ElGamal/ECIES-X25519
	// hybrid key agreement) is out of scope per spec.md §1; this is the seam
	// a real destination/router-context implementation plugs into.
	SealOneTimeEnvelope(payload []byte, firstHop data.Hash) ([]byte, error)
}

// TransitTunnelHandler is the seam for transit-tunnel participation
// (forwarding build requests on behalf of others), explicitly out of scope
// for implementation per spec.md §1. DispatchLoop forwards unmatched
// ShortTunnelBuild/VariableTunnelBuild messages here exactly as the original
// hands them to its transit-tunnel subsystem.
type TransitTunnelHandler interface {
	PostTransitTunnelBuildMsg(msg []byte)
}

// NopTransitHandler logs and drops every message handed to it, so the
// engine is runnable standalone without a transit-tunnel implementation.
type NopTransitHandler struct{}

func (NopTransitHandler) PostTransitTunnelBuildMsg(msg []byte) {
	log.WithField("size", len(msg)).Debug("dropped transit tunnel build message: no transit handler configured")
}

// PoolCallbacks is what Tunnel/Tunnels invoke on a tunnel's owning pool.
// Implemented by *Pool; declared here as an interface so tunnel.go doesn't
// need to import pool.go's concrete type for the weak back-reference.
type PoolCallbacks interface {
	TunnelCreated(t TunnelHandle)
	TunnelExpired(t TunnelHandle)
	RecreateInboundTunnel(t TunnelHandle)
	RecreateOutboundTunnel(t TunnelHandle)
	SetLeaseSetUpdated(updated bool)
}

// TunnelHandle is the subset of *Tunnel a Pool needs without importing the
// concrete established-hop/build machinery; kept intentionally small.
type TunnelHandle interface {
	ID() TunnelID
	Direction() Direction
	State() TunnelState
	NumHops() int
}
