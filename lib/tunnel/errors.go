package tunnel

import (
	"errors"

	"github.com/samber/oops"
)

// Sentinel errors, checked with errors.Is by callers that care about the
// specific failure rather than a formatted message.
var (
	ErrNilEncryption      = errors.New("encryption tunnel cannot be nil")
	ErrNilDecryption      = errors.New("decryption tunnel cannot be nil")
	ErrNilHandler         = errors.New("message handler cannot be nil")
	ErrTooManyHops        = errors.New("hop count exceeds MAX_NUM_RECORDS")
	ErrNoHops             = errors.New("tunnel config has no hops")
	ErrHopDeclined        = errors.New("hop declined tunnel build")
	ErrMalformedReply     = errors.New("malformed tunnel build reply")
	ErrRecordIndexRange   = errors.New("record index out of range")
	ErrTunnelNotEstablished = errors.New("tunnel is not established")
	ErrRegistryCollision  = errors.New("tunnel id already registered")
	ErrPendingNotFound    = errors.New("pending tunnel not found for correlation id")
	ErrUnknownTunnelID    = errors.New("no tunnel registered for id")
	ErrUnknownMessageType = errors.New("unrecognized i2np message type")
	ErrQueueClosed        = errors.New("dispatch queue is closed")
)

// wrapf constructs contextual errors with oops rather than fmt.Errorf, to
// match the rest of this codebase's error style.
func wrapf(err error, msg string, args ...any) error {
	return oops.Wrapf(err, msg, args...)
}

func errf(msg string, args ...any) error {
	return oops.Errorf(msg, args...)
}
