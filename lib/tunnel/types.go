package tunnel

import (
	"time"

	"github.com/go-i2p/logger"
)

// log is the package-wide structured logger, shared by every file in this
// package the same way the rest of the router's lib/ packages do it.
var log = logger.GetGoI2PLogger()

// TunnelID identifies a tunnel locally, either as a registry key (inbound,
// transit) or as the field carried in tunnel-data/gateway messages.
type TunnelID uint32

// Direction distinguishes inbound from outbound tunnels.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// TunnelState is the tunnel lifecycle state machine described in spec.md §3.
//
//	Pending -> BuildReplyReceived -> {Established | BuildFailed}
//	Established -> Expiring -> (removed)
type TunnelState int

const (
	StatePending TunnelState = iota
	StateBuildReplyReceived
	StateBuildFailed
	StateEstablished
	StateExpiring
)

func (s TunnelState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBuildReplyReceived:
		return "build_reply_received"
	case StateBuildFailed:
		return "build_failed"
	case StateEstablished:
		return "established"
	case StateExpiring:
		return "expiring"
	default:
		return "unknown"
	}
}

// Record sizes and slot counts for the two build-message record formats.
const (
	TunnelBuildRecordSize      = 528 // TUNNEL_BUILD_RECORD_SIZE
	ShortTunnelBuildRecordSize = 218 // SHORT_TUNNEL_BUILD_RECORD_SIZE

	MaxNumRecords      = 8 // MAX_NUM_RECORDS
	StandardNumRecords = 5 // STANDARD_NUM_RECORDS: default cap for compact builds
)

// Tunnel-data / tunnel-gateway wire sizes, per spec.md §6.
const (
	TunnelDataMsgSize     = 1024 // [tunnel_id:4][encrypted_payload:1020]
	TunnelDataPayloadSize = TunnelDataMsgSize - 4
	GatewayHeaderSize     = 4 + 2 // [tunnel_id:4][length:2]
)

// I2NPMessageType tags the outer wire envelope PostTunnelData reads to
// classify a message per spec.md §4.8's dispatch table. Values match the
// real protocol's message type field. The envelope this engine models is
// [type:1][msgID:4][payload...]: the rest of a full I2NP header (size,
// expiration, checksum) is a framing-layer concern owned by the transport
// that hands messages to PostTunnelData, the same boundary Transport and
// NetDB already sit behind.
type I2NPMessageType uint8

const (
	I2NPTunnelData               I2NPMessageType = 18
	I2NPTunnelGateway            I2NPMessageType = 19
	I2NPTunnelBuild              I2NPMessageType = 21 // legacy, deprecated
	I2NPTunnelBuildReply         I2NPMessageType = 22 // legacy, deprecated
	I2NPVariableTunnelBuild      I2NPMessageType = 23
	I2NPVariableTunnelBuildReply I2NPMessageType = 24
	I2NPShortTunnelBuild         I2NPMessageType = 25
	I2NPShortTunnelBuildReply    I2NPMessageType = 26
)

// Timing constants, all observable behavior per spec.md §6.
const (
	TunnelExpirationTimeout        = 10 * time.Minute
	TunnelCreationTimeout          = 30 * time.Second
	TunnelRecreationThreshold      = 3 * time.Minute
	TunnelExpirationThreshold      = 1 * time.Minute
	TunnelManageInterval           = 15 * time.Second
	TunnelPoolsManageInterval      = 5 * time.Second
	TunnelMemoryPoolManageInterval = 120 * time.Second

	DispatchPollTimeout     = 1 * time.Second
	MaxTunnelMsgsBatchSize  = 32
	TCSRStartValue          = 0.5 // seed for a success-rate EMA external profiles may keep
)

// DeliveryType is the delivery field of a TunnelMessageBlock, see spec.md §3.
type DeliveryType int

const (
	DeliveryLocal DeliveryType = iota
	DeliveryTunnel
	DeliveryRouter
)

func (d DeliveryType) String() string {
	switch d {
	case DeliveryLocal:
		return "local"
	case DeliveryTunnel:
		return "tunnel"
	case DeliveryRouter:
		return "router"
	default:
		return "unknown"
	}
}

// UnknownLatency marks a tunnel whose round-trip has never been sampled.
const UnknownLatency = -1 * time.Millisecond
