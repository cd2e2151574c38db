package tunnel

import (
	"sync"

	"github.com/go-i2p/common/data"
)

// fakeTransport records every SendMessage call instead of touching a
// network, for tests that only need to observe what would have gone out.
type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

type sentMessage struct {
	identHash data.Hash
	msg       []byte
}

func (f *fakeTransport) SendMessage(identHash data.Hash, msg []byte, onDrop func()) error {
	if f.err != nil {
		if onDrop != nil {
			onDrop()
		}
		return f.err
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{identHash: identHash, msg: append([]byte{}, msg...)})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeDestination records SubmitECIESx25519Key/SetLeaseSetUpdated/
// ReceiveTunnelMessage calls.
type fakeDestination struct {
	mu              sync.Mutex
	keysSubmitted   int
	leaseSetUpdates []bool
	received        [][]byte
	sealedFor       []data.Hash
}

func (f *fakeDestination) SubmitECIESx25519Key(key [32]byte, tag uint32) {
	f.mu.Lock()
	f.keysSubmitted++
	f.mu.Unlock()
}

func (f *fakeDestination) SetLeaseSetUpdated(updated bool) {
	f.mu.Lock()
	f.leaseSetUpdates = append(f.leaseSetUpdates, updated)
	f.mu.Unlock()
}

func (f *fakeDestination) ReceiveTunnelMessage(payload []byte) error {
	f.mu.Lock()
	f.received = append(f.received, append([]byte{}, payload...))
	f.mu.Unlock()
	return nil
}

func (f *fakeDestination) LeaseSetUpdates() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.leaseSetUpdates))
	copy(out, f.leaseSetUpdates)
	return out
}

func (f *fakeDestination) Received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.received))
	copy(out, f.received)
	return out
}

// fakeEnvelopeMarker prefixes every fakeDestination.SealOneTimeEnvelope
// result, so a test can tell a sealed build message apart from the raw one
// without needing a real asymmetric primitive.
var fakeEnvelopeMarker = []byte("SEALED:")

func (f *fakeDestination) SealOneTimeEnvelope(payload []byte, firstHop data.Hash) ([]byte, error) {
	f.mu.Lock()
	f.sealedFor = append(f.sealedFor, firstHop)
	f.mu.Unlock()
	sealed := make([]byte, 0, len(fakeEnvelopeMarker)+len(payload))
	sealed = append(sealed, fakeEnvelopeMarker...)
	sealed = append(sealed, payload...)
	return sealed, nil
}

func (f *fakeDestination) SealedFor() []data.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]data.Hash, len(f.sealedFor))
	copy(out, f.sealedFor)
	return out
}

// fakePool is a minimal PoolCallbacks that only records
// SetLeaseSetUpdated calls, for tests of the proof-of-life transition that
// don't need real pool membership bookkeeping.
type fakePool struct {
	mu              sync.Mutex
	leaseSetUpdates []bool
}

func (f *fakePool) TunnelCreated(t TunnelHandle)         {}
func (f *fakePool) TunnelExpired(t TunnelHandle)         {}
func (f *fakePool) RecreateInboundTunnel(t TunnelHandle) {}
func (f *fakePool) RecreateOutboundTunnel(t TunnelHandle) {}

func (f *fakePool) SetLeaseSetUpdated(updated bool) {
	f.mu.Lock()
	f.leaseSetUpdates = append(f.leaseSetUpdates, updated)
	f.mu.Unlock()
}

func (f *fakePool) LeaseSetUpdates() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.leaseSetUpdates))
	copy(out, f.leaseSetUpdates)
	return out
}
