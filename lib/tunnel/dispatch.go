package tunnel

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/go-i2p/common/data"
	"github.com/go-i2p/logger"
)

// DispatchKind classifies one item on the dispatch queue, following
// spec.md §4.8's wire-message classification table plus the purely local
// DispatchSend kind a caller uses to hand outbound payloads to the loop.
type DispatchKind int

const (
	// DispatchSend carries a block a local caller wants delivered through
	// one of this router's outbound tunnels, addressed directly by its
	// Gateway rather than by a registry lookup: outbound tunnels are never
	// registered, since nothing ever addresses them by incoming id.
	DispatchSend DispatchKind = iota
	// DispatchTunnelData carries a wire TunnelData message addressed to one
	// of this router's inbound (or transit) tunnels.
	DispatchTunnelData
	// DispatchTunnelGateway carries a wire TunnelGateway message: its own
	// nested [tunnel_id:4][length:2] header names the target tunnel and the
	// payload to inject at that tunnel's gateway.
	DispatchTunnelGateway
	// DispatchBuildRequest carries a ShortTunnelBuild/VariableTunnelBuild
	// message. It is either the tail delivery of one of our own pending
	// inbound builds (its correlation id resolves against pending.inbound)
	// or a transit build request meant for a router we aren't the owner
	// of, forwarded to the configured TransitTunnelHandler.
	DispatchBuildRequest
	// DispatchBuildReply carries a ShortTunnelBuildReply/
	// VariableTunnelBuildReply message correlated against a pending
	// outbound build.
	DispatchBuildReply
	// DispatchLegacy carries the deprecated TunnelBuild/TunnelBuildReply
	// message types. Nothing in this engine issues them; arriving ones are
	// logged and dropped.
	DispatchLegacy
)

// DispatchMessage is one item the single dispatch worker consumes.
type DispatchMessage struct {
	Kind DispatchKind

	// Outbound is DispatchSend's target, supplied directly by the caller
	// (who already resolved it via the pool, not a registry lookup).
	Outbound outboundGatewayHolder

	TunnelID   TunnelID // DispatchTunnelData/DispatchTunnelGateway target
	ReplyMsgID TunnelID // DispatchBuildRequest/DispatchBuildReply correlation id

	Block   TunnelMessageBlock
	Payload []byte
	OnDrop  func()
}

// DispatchLoop is the single worker that both accepts local send requests
// destined for an outbound tunnel's Gateway and routes arriving wire
// messages to the right inbound tunnel, tunnel gateway, or pending build,
// per spec.md §4.8, §5. It polls with a 1s timeout so a quiet queue still
// closes out an in-progress TunnelData run, drives the lifecycle sweeps from
// its own ticker on the same goroutine, and batches consecutive
// DispatchSend items for the same outbound tunnel so their Gateway is
// flushed once per batch rather than once per item.
type DispatchLoop struct {
	registry  *TunnelRegistry
	pending   *PendingTunnels
	transit   TransitTunnelHandler
	lifecycle *LifecycleManager
	queue     chan DispatchMessage

	// lastTunnelID/lastInbound/lastValid remember the most recently dispatched
	// DispatchTunnelData target, so a run of consecutive messages for the
	// same tunnel id skips the registry lookup and is flushed once as a
	// batch when the id changes (spec.md §4.8's TunnelData batching, S5).
	lastTunnelID TunnelID
	lastInbound  inboundDispatcher
	lastValid    bool
}

// NewDispatchLoop wires the loop's collaborators. A nil transit defaults to
// NopTransitHandler, so the engine stays runnable standalone (spec.md §1's
// transit-tunnel participation is explicitly out of scope to implement).
func NewDispatchLoop(registry *TunnelRegistry, pending *PendingTunnels, transit TransitTunnelHandler) *DispatchLoop {
	if transit == nil {
		transit = NopTransitHandler{}
	}
	return &DispatchLoop{
		registry: registry,
		pending:  pending,
		transit:  transit,
		queue:    make(chan DispatchMessage, MaxTunnelMsgsBatchSize),
	}
}

// Enqueue hands one item to the dispatch worker. Blocks if the queue is
// full, giving backpressure to callers instead of silently dropping work.
func (d *DispatchLoop) Enqueue(msg DispatchMessage) {
	d.queue <- msg
}

// SetLifecycle wires the lifecycle manager whose periodic sweeps Run ticks
// on the same goroutine as message dispatch, so pending-build timeouts,
// established-tunnel expiration/recreation, and pool/memory-pool
// housekeeping never run concurrently with the decrypt/dispatch path
// (spec.md §5's single dedicated worker thread). Left nil, Run still drains
// the queue; tests that only exercise dispatch can skip wiring it.
func (d *DispatchLoop) SetLifecycle(m *LifecycleManager) {
	d.lifecycle = m
}

// PostTunnelData classifies a raw wire message per spec.md §4.8's dispatch
// table and enqueues it. A malformed message is logged and dropped rather
// than returned as an error, matching the fire-and-forget contract the
// transport sees from every other entry point into this engine.
func (d *DispatchLoop) PostTunnelData(raw []byte, onDrop func()) {
	msg, err := classifyWireMessage(raw)
	if err != nil {
		log.WithFields(logger.Fields{"at": "(DispatchLoop) PostTunnelData", "size": len(raw)}).
			WithError(err).Warn("dropped malformed wire message")
		if onDrop != nil {
			onDrop()
		}
		return
	}
	msg.OnDrop = onDrop
	d.Enqueue(msg)
}

// classifyWireMessage reads the outer envelope this engine models for every
// arriving message, [type:1][id:4][body...], and classifies it per
// spec.md §4.8. The id field means different things by type: the target
// tunnel id for TunnelData, a correlation id for the build/build-reply
// types, and (for TunnelGateway) nothing at all — that message carries its
// own nested [tunnel_id:4][length:2] header ahead of its data, which is
// unwrapped here into the same TunnelID/Payload shape the other kinds use.
func classifyWireMessage(raw []byte) (DispatchMessage, error) {
	const envelopeHeaderSize = 1 + 4
	if len(raw) < envelopeHeaderSize {
		return DispatchMessage{}, wrapf(ErrMalformedReply, "wire message of %d bytes too short for envelope header", len(raw))
	}
	msgType := I2NPMessageType(raw[0])
	id := TunnelID(binary.BigEndian.Uint32(raw[1:5]))
	body := raw[envelopeHeaderSize:]

	switch msgType {
	case I2NPTunnelData:
		return DispatchMessage{Kind: DispatchTunnelData, TunnelID: id, Payload: body}, nil
	case I2NPTunnelGateway:
		if len(body) < GatewayHeaderSize {
			return DispatchMessage{}, wrapf(ErrMalformedReply, "tunnel gateway message of %d bytes too short for its own header", len(body))
		}
		gwTunnel := TunnelID(binary.BigEndian.Uint32(body[0:4]))
		length := int(binary.BigEndian.Uint16(body[4:6]))
		if len(body)-GatewayHeaderSize < length {
			return DispatchMessage{}, wrapf(ErrMalformedReply, "tunnel gateway payload length %d exceeds available %d bytes", length, len(body)-GatewayHeaderSize)
		}
		return DispatchMessage{Kind: DispatchTunnelGateway, TunnelID: gwTunnel, Payload: body[GatewayHeaderSize : GatewayHeaderSize+length]}, nil
	case I2NPShortTunnelBuild, I2NPVariableTunnelBuild:
		return DispatchMessage{Kind: DispatchBuildRequest, ReplyMsgID: id, Payload: body}, nil
	case I2NPShortTunnelBuildReply, I2NPVariableTunnelBuildReply:
		return DispatchMessage{Kind: DispatchBuildReply, ReplyMsgID: id, Payload: body}, nil
	case I2NPTunnelBuild, I2NPTunnelBuildReply:
		return DispatchMessage{Kind: DispatchLegacy, Payload: raw}, nil
	default:
		return DispatchMessage{}, wrapf(ErrMalformedReply, "unrecognized wire message type %d", msgType)
	}
}

// Run drains the queue until ctx is cancelled. It must run on exactly one
// goroutine; Gateway batching assumes a single consumer. The same goroutine
// also ticks the wired lifecycle manager's sweeps, so tunnel-data decryption,
// build-reply processing, and lifecycle management all happen strictly in
// order on this one thread rather than racing across goroutines (spec.md
// §5).
func (d *DispatchLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(TunnelManageInterval)
	defer ticker.Stop()

	if d.lifecycle != nil {
		now := time.Now()
		d.lifecycle.lastPoolsTick = now
		d.lifecycle.lastMemTick = now
	}

	for {
		select {
		case <-ctx.Done():
			return
		case first := <-d.queue:
			d.handleBatch(first)
		case now := <-ticker.C:
			if d.lifecycle != nil {
				d.lifecycle.tick(now)
			}
		case <-time.After(DispatchPollTimeout):
			// A quiet queue ends whatever TunnelData run was in progress;
			// flush its last-touched tunnel per spec.md §4.8.
			d.flushLastInbound()
		}
	}
}

// handleBatch processes one item, and if it's a DispatchSend, greedily
// drains any immediately-available consecutive items for the same
// outbound tunnel before flushing that tunnel's Gateway exactly once.
func (d *DispatchLoop) handleBatch(first DispatchMessage) {
	if first.Kind != DispatchSend {
		d.handleOne(first)
		return
	}
	// Switching to a DispatchSend batch ends whatever TunnelData run was in
	// progress.
	d.flushLastInbound()
	if first.Outbound == nil {
		log.WithField("at", "(DispatchLoop) handleBatch").Warn("dispatch send dropped: no outbound tunnel supplied")
		return
	}

	batch := []DispatchMessage{first}
drain:
	for len(batch) < MaxTunnelMsgsBatchSize {
		select {
		case next := <-d.queue:
			if next.Kind != DispatchSend || next.Outbound != first.Outbound {
				d.handleOne(next)
				break drain
			}
			batch = append(batch, next)
		default:
			break drain
		}
	}

	gw := first.Outbound.Gateway()
	for _, item := range batch {
		if err := gw.PutI2NPMsg(item.Block, item.OnDrop); err != nil {
			log.WithField("at", "(DispatchLoop) handleBatch").WithError(err).Warn("failed to enqueue tunnel message block")
		}
	}
	if err := gw.Flush(first.OnDrop); err != nil {
		log.WithField("at", "(DispatchLoop) handleBatch").WithError(err).Warn("failed to flush outbound tunnel gateway")
	}
}

// outboundGatewayHolder is satisfied by OutboundTunnel and
// ZeroHopsOutboundTunnel, letting callers hand DispatchSend its target
// directly without a registry lookup outbound tunnels are never subject to.
type outboundGatewayHolder interface {
	Gateway() *Gateway
}

// inboundDispatcher is satisfied by InboundTunnel and ZeroHopsInboundTunnel.
// FlushTunnelDataMsgs is the batch-boundary call DispatchLoop makes once a
// run of consecutive same-id TunnelData messages ends (spec.md §4.8
// "FlushTunnelDataMsgs").
type inboundDispatcher interface {
	Dispatch(msg []byte) error
	FlushTunnelDataMsgs() error
}

// tunnelGatewayTarget is satisfied by OutboundTunnel and
// ZeroHopsOutboundTunnel, letting a DispatchTunnelGateway message inject
// its payload at whatever tunnel the registry resolves its id to. Since
// this engine only ever registers inbound (and, were it implemented,
// transit) tunnels, the real engine never exercises this path for an
// outbound target; it exists so a transit implementation plugged in later
// has a gateway to dispatch into, and so tests can exercise the table row
// directly against a fake.
type tunnelGatewayTarget interface {
	SendTunnelDataMsgTo(gwHash *data.Hash, gwTunnel *TunnelID, payload []byte, onDrop func()) error
}

func (d *DispatchLoop) handleOne(msg DispatchMessage) {
	if msg.Kind != DispatchTunnelData {
		// Any non-TunnelData message ends whatever same-id TunnelData run
		// was in progress.
		d.flushLastInbound()
	}
	switch msg.Kind {
	case DispatchTunnelData:
		d.dispatchToInbound(msg)
	case DispatchTunnelGateway:
		d.dispatchToGateway(msg)
	case DispatchBuildRequest:
		d.dispatchBuildRequest(msg)
	case DispatchBuildReply:
		d.dispatchBuildReply(msg)
	case DispatchLegacy:
		log.WithField("at", "(DispatchLoop) handleOne").Debug("dropped legacy TunnelBuild/TunnelBuildReply message: not supported")
	}
}

// dispatchToInbound routes one TunnelData message, batching consecutive
// messages for the same tunnel id: a repeat id reuses the previously
// resolved tunnel without a registry lookup, and a changed id flushes the
// previous tunnel before resolving the new one (spec.md §4.8, S5).
func (d *DispatchLoop) dispatchToInbound(msg DispatchMessage) {
	if d.lastValid && msg.TunnelID == d.lastTunnelID {
		if err := d.lastInbound.Dispatch(msg.Payload); err != nil {
			log.WithFields(logger.Fields{"at": "(DispatchLoop) dispatchToInbound", "tunnel_id": msg.TunnelID}).
				WithError(err).Warn("failed to dispatch tunnel data message")
		}
		return
	}

	d.flushLastInbound()

	handle, ok := d.registry.Get(msg.TunnelID)
	if !ok {
		log.WithFields(logger.Fields{"at": "(DispatchLoop) dispatchToInbound", "tunnel_id": msg.TunnelID}).
			Warn("tunnel data message dropped: unknown tunnel id")
		return
	}
	in, ok := handle.(inboundDispatcher)
	if !ok {
		log.WithFields(logger.Fields{"at": "(DispatchLoop) dispatchToInbound", "tunnel_id": msg.TunnelID}).
			Warn("tunnel data message dropped: tunnel is not an inbound endpoint")
		return
	}

	d.lastTunnelID = msg.TunnelID
	d.lastInbound = in
	d.lastValid = true

	if err := in.Dispatch(msg.Payload); err != nil {
		log.WithFields(logger.Fields{"at": "(DispatchLoop) dispatchToInbound", "tunnel_id": msg.TunnelID}).
			WithError(err).Warn("failed to dispatch tunnel data message")
	}
}

// flushLastInbound ends the current TunnelData batch, if any, by calling
// FlushTunnelDataMsgs on the last-touched tunnel exactly once (spec.md
// §4.8).
func (d *DispatchLoop) flushLastInbound() {
	if !d.lastValid {
		return
	}
	in := d.lastInbound
	d.lastInbound = nil
	d.lastValid = false
	if err := in.FlushTunnelDataMsgs(); err != nil {
		log.WithFields(logger.Fields{"at": "(DispatchLoop) flushLastInbound", "tunnel_id": d.lastTunnelID}).
			WithError(err).Warn("failed to flush tunnel data batch")
	}
}

func (d *DispatchLoop) dispatchToGateway(msg DispatchMessage) {
	handle, ok := d.registry.Get(msg.TunnelID)
	if !ok {
		log.WithFields(logger.Fields{"at": "(DispatchLoop) dispatchToGateway", "tunnel_id": msg.TunnelID}).
			Warn("tunnel gateway message dropped: unknown tunnel id")
		return
	}
	gwTarget, ok := handle.(tunnelGatewayTarget)
	if !ok {
		log.WithFields(logger.Fields{"at": "(DispatchLoop) dispatchToGateway", "tunnel_id": msg.TunnelID}).
			Warn("tunnel gateway message dropped: tunnel has no gateway to inject at")
		return
	}
	if err := gwTarget.SendTunnelDataMsgTo(nil, nil, msg.Payload, msg.OnDrop); err != nil {
		log.WithFields(logger.Fields{"at": "(DispatchLoop) dispatchToGateway", "tunnel_id": msg.TunnelID}).
			WithError(err).Warn("failed to inject tunnel gateway payload")
	}
}

// dispatchBuildRequest resolves a ShortTunnelBuild/VariableTunnelBuild
// message against our own pending inbound builds first, since the tail
// delivery of an inbound build arrives in this same message type rather
// than a *Reply type (spec.md §4.2 step 7). A miss means the message is a
// genuine transit build request, out of scope to act on ourselves.
func (d *DispatchLoop) dispatchBuildRequest(msg DispatchMessage) {
	if handle, ok := d.pending.ResolveInbound(msg.ReplyMsgID); ok {
		d.completeBuild(handle, msg.Payload)
		return
	}
	d.transit.PostTransitTunnelBuildMsg(msg.Payload)
}

func (d *DispatchLoop) dispatchBuildReply(msg DispatchMessage) {
	handle, ok := d.pending.ResolveOutbound(msg.ReplyMsgID)
	if !ok {
		log.WithFields(logger.Fields{"at": "(DispatchLoop) dispatchBuildReply", "reply_msg_id": msg.ReplyMsgID}).
			Warn("build reply dropped: no matching pending tunnel")
		return
	}
	d.completeBuild(handle, msg.Payload)
}

// completeBuild runs a pending tunnel's build reply through
// HandleTunnelBuildResponse and, on success, finishes the bookkeeping that
// only happens once a build is known-good: inbound tunnels join the
// registry so arriving TunnelData/TunnelGateway messages can find them by
// id (outbound tunnels never do, since nothing looks them up that way —
// spec.md §4.8, §4.10), and the tunnel's pool, if it has one, is told the
// tunnel now exists so pool-sizing and the lifecycle sweep can see it.
func (d *DispatchLoop) completeBuild(handle TunnelHandle, payload []byte) {
	tb, ok := handle.(tunnelBase)
	if !ok {
		log.WithField("at", "(DispatchLoop) completeBuild").Warn("pending tunnel does not expose its base type")
		return
	}
	base := tb.tunnelBase()

	ok, err := base.HandleTunnelBuildResponse(payload)
	if err != nil {
		log.WithFields(logger.Fields{"at": "(DispatchLoop) completeBuild", "tunnel_id": handle.ID()}).
			WithError(err).Warn("failed to handle tunnel build response")
		return
	}
	if !ok {
		return
	}

	if handle.Direction() == Inbound {
		if err := d.registry.Add(handle); err != nil {
			log.WithFields(logger.Fields{"at": "(DispatchLoop) completeBuild", "tunnel_id": handle.ID()}).
				WithError(err).Warn("failed to register newly established inbound tunnel")
		}
	}
	if pool := base.Pool(); pool != nil {
		pool.TunnelCreated(handle)
	}
}
