// Package tunnel implements the build protocol, lifecycle, registry, and
// dispatch for unidirectional, layer-encrypted tunnels.
//
// # Overview
//
// Tunnels are unidirectional multi-hop paths: an InboundTunnel terminates
// at this router's own endpoint, an OutboundTunnel originates at this
// router's gateway. Transit participation — forwarding someone else's
// build requests or data through hops this router doesn't own — is
// explicitly out of scope; TransitTunnelHandler is the seam where that
// would plug in.
//
// # Build protocol
//
// Build requests are assembled by TunnelConfig/HopConfig: one record per
// hop (plus padding/fake records) scattered into random slots of a build
// message, pre-obfuscated so each hop only ever sees what it would see in
// flight. Replies are peeled in the reverse walk (TunnelConfig.peelReply)
// to recover each hop's accept/decline code. See spec.md §4.1-§4.3 for the
// exact walk order; record_cipher.go documents where a delegated primitive
// boundary was simplified to a stdlib stand-in and why.
//
// # Lifecycle
//
// A Tunnel moves Pending -> BuildReplyReceived -> {Established | BuildFailed}
// while being built (or straight from Pending to BuildFailed when its build
// message is dropped or times out), then Established -> Expiring -> removed
// once it's live. HandleTunnelBuildResponse performs the reply-driven
// transitions; the transport's drop callback in Tunnel.Build and
// LifecycleManager's pending sweep fail builds that never get a reply; and
// LifecycleManager moves established tunnels to Expiring and removes them.
// An inbound tunnel that receives data before it is established also
// promotes itself to Established.
//
// # Dispatch
//
// DispatchLoop is the single worker that both accepts local sends bound
// for an OutboundTunnel's Gateway and routes arriving wire messages to the
// right InboundTunnel or pending build, batching consecutive same-tunnel
// sends so a burst doesn't cost one flush per message.
//
// # Pools
//
// PoolCoordinator keeps the exploratory inbound/outbound pools topped up,
// falls back to a one-hop tunnel when full-length builds can't find
// enough peers, and recreates tunnels shortly before they expire rather
// than waiting for them to drop.
package tunnel
