package tunnel

import (
	"sync"
	"time"
)

// pendingEntry tracks one in-flight build alongside the deadline the
// lifecycle manager's pending-tunnel sweep enforces (spec.md §4.9). handle
// is the concrete tunnel wrapper (*InboundTunnel/*OutboundTunnel or a
// zero-hops variant), not the embedded *Tunnel, so that a successful build
// can hand the same value straight to PoolCallbacks.TunnelCreated without
// losing its concrete type.
type pendingEntry struct {
	handle   TunnelHandle
	deadline time.Time
}

// PendingTunnels indexes tunnels awaiting a build reply by the correlation
// id placed in the last hop's record, since that id — not the tunnel's own
// id — is what the reply message carries (spec.md §3, §4.10). Inbound and
// outbound builds are tracked in separate maps, matching spec.md §3's "one
// each for inbound and outbound": spec.md §4.8's dispatch table
// disambiguates a ShortTunnelBuild/VariableTunnelBuild message (possibly the
// tail of our own inbound build) from a
// ShortTunnelBuildReply/VariableTunnelBuildReply message (always an
// outbound build's reply) by which map the correlation id is found in.
type PendingTunnels struct {
	mu       sync.Mutex
	inbound  map[TunnelID]pendingEntry
	outbound map[TunnelID]pendingEntry
}

func NewPendingTunnels() *PendingTunnels {
	return &PendingTunnels{
		inbound:  make(map[TunnelID]pendingEntry),
		outbound: make(map[TunnelID]pendingEntry),
	}
}

func (p *PendingTunnels) AddInbound(replyMsgID TunnelID, h TunnelHandle) {
	p.mu.Lock()
	p.inbound[replyMsgID] = pendingEntry{handle: h, deadline: time.Now().Add(TunnelCreationTimeout)}
	p.mu.Unlock()
}

func (p *PendingTunnels) AddOutbound(replyMsgID TunnelID, h TunnelHandle) {
	p.mu.Lock()
	p.outbound[replyMsgID] = pendingEntry{handle: h, deadline: time.Now().Add(TunnelCreationTimeout)}
	p.mu.Unlock()
}

// ResolveInbound removes and returns the inbound tunnel awaiting
// replyMsgID, if any. A miss here (§4.8) means the message is a genuine
// transit build request rather than the tail of one of our own builds.
func (p *PendingTunnels) ResolveInbound(replyMsgID TunnelID) (TunnelHandle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.inbound[replyMsgID]
	if !ok {
		return nil, false
	}
	delete(p.inbound, replyMsgID)
	return entry.handle, true
}

// ResolveOutbound removes and returns the outbound tunnel awaiting
// replyMsgID, if any.
func (p *PendingTunnels) ResolveOutbound(replyMsgID TunnelID) (TunnelHandle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.outbound[replyMsgID]
	if !ok {
		return nil, false
	}
	delete(p.outbound, replyMsgID)
	return entry.handle, true
}

// SweepExpired removes and returns every pending tunnel, inbound or
// outbound, that spec.md §4.9's state-aware removal rule says is done
// waiting: a tunnel already known BuildFailed (its dispatch was dropped by
// the transport before any reply could reach us) is
// swept immediately rather than sitting out the rest of its creation
// timeout; a tunnel still Pending is swept only once its deadline passes;
// a tunnel whose reply already arrived (BuildReplyReceived) is left alone —
// it's actively being processed, not stuck. Established tunnels are never
// found here: completeBuild resolves (and removes) the pending entry before
// HandleTunnelBuildResponse can reach that state.
func (p *PendingTunnels) SweepExpired(now time.Time) []TunnelHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []TunnelHandle
	for _, m := range [2]map[TunnelID]pendingEntry{p.inbound, p.outbound} {
		for id, entry := range m {
			switch entry.handle.State() {
			case StateBuildFailed:
				expired = append(expired, entry.handle)
				delete(m, id)
			case StateBuildReplyReceived:
				continue
			default:
				if now.After(entry.deadline) {
					expired = append(expired, entry.handle)
					delete(m, id)
				}
			}
		}
	}
	return expired
}

func (p *PendingTunnels) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inbound) + len(p.outbound)
}
