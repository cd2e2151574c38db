package tunnel

import (
	"encoding/binary"
	"math/rand"
	"time"

	cryptorand "github.com/go-i2p/crypto/rand"
)

// processRNG is the per-engine PRNG used for build-record slot shuffles and
// outbound-tunnel selection, seeded from the wall clock's nanosecond count
// modulo one million; the seed is not read from a monotonic clock.
//
// It is not a source of cryptographic randomness; correlation ids and
// fake-record padding always go through readRandomBytes/randomTunnelID below.
type processRNG struct {
	r *rand.Rand
}

func newProcessRNG() *processRNG {
	seed := time.Now().UnixNano() % 1_000_000
	return &processRNG{r: rand.New(rand.NewSource(seed))}
}

// shuffleSlots returns a random permutation of 0..n-1, used to scatter real
// hop records among build-message slots.
func (p *processRNG) shuffleSlots(n int) []int {
	slots := make([]int, n)
	for i := range slots {
		slots[i] = i
	}
	p.r.Shuffle(n, func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })
	return slots
}

// intn returns a pseudo-random int in [0, n), used for uniform outbound
// tunnel selection.
func (p *processRNG) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return p.r.Intn(n)
}

// shuffleTunnels shuffles a slice of established tunnels in place, used by
// LifecycleManager to randomize recreation order so replacements don't storm
// the network in lockstep.
func shuffleTunnels[T any](p *processRNG, s []T) {
	p.r.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

// readRandomBytes fills buf with cryptographically secure random bytes, used
// for fake-record padding and IVs.
func readRandomBytes(buf []byte) error {
	_, err := cryptorand.Read(buf)
	return err
}

// randomTunnelID generates a cryptographically random 32-bit id, used both
// for tunnel ids themselves and build-reply correlation ids.
func randomTunnelID() (TunnelID, error) {
	var b [4]byte
	if err := readRandomBytes(b[:]); err != nil {
		return 0, err
	}
	return TunnelID(binary.BigEndian.Uint32(b[:])), nil
}
