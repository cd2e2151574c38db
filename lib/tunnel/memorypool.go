package tunnel

import (
	"sync"
	"sync/atomic"

	"github.com/go-i2p/logger"
)

// messagePool is a sync.Pool-backed allocator for one class of tunnel
// message buffer. The original keeps two separate pools —
// m_I2NPTunnelEndpointMessagesMemoryPool for endpoint-bound buffers and
// m_I2NPTunnelMessagesMemoryPool for transit/gateway-bound ones — trimmed
// on the same TUNNEL_MEMORY_POOL_MANAGE_INTERVAL tick (spec.md §4.9, §D.6).
// sync.Pool doesn't need manual trimming for GC correctness, but the
// interval is an observable behavior per spec.md §6, so Trim is kept
// explicit rather than left to chance.
type messagePool struct {
	name string
	pool sync.Pool
	live int64 // outstanding Get calls not yet Put back, advisory only
}

func newMessagePool(name string, size int) *messagePool {
	return &messagePool{
		name: name,
		pool: sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

func (p *messagePool) Get() []byte {
	atomic.AddInt64(&p.live, 1)
	buf := p.pool.Get().(*[]byte)
	return *buf
}

func (p *messagePool) Put(buf []byte) {
	atomic.AddInt64(&p.live, -1)
	p.pool.Put(&buf)
}

// Trim releases the pool's currently-idle buffers back to the runtime by
// replacing the underlying sync.Pool, matching the original's periodic
// memory-pool cleanup tick.
func (p *messagePool) Trim() {
	p.pool = sync.Pool{New: p.pool.New}
}

// MemoryPools bundles the two tunnel-data-sized allocation pools and the
// periodic trim invoked from LifecycleManager. Nothing in the dispatch or
// gateway path takes buffers from them.
type MemoryPools struct {
	Endpoint *messagePool // for messages arriving at an inbound tunnel's endpoint
	Transit  *messagePool // for messages forwarded through a gateway
}

// NewMemoryPools constructs both pools sized to the tunnel-data wire format
// (spec.md §6).
func NewMemoryPools() *MemoryPools {
	return &MemoryPools{
		Endpoint: newMessagePool("endpoint", TunnelDataMsgSize),
		Transit:  newMessagePool("transit", TunnelDataMsgSize),
	}
}

// Trim runs the periodic TUNNEL_MEMORY_POOL_MANAGE_INTERVAL cleanup.
func (m *MemoryPools) Trim() {
	log.WithFields(logger.Fields{
		"at":              "(MemoryPools) Trim",
		"endpoint_live":   atomic.LoadInt64(&m.Endpoint.live),
		"transit_live":    atomic.LoadInt64(&m.Transit.live),
	}).Debug("trimming tunnel message memory pools")
	m.Endpoint.Trim()
	m.Transit.Trim()
}
