package dispatcher

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/google/uuid"
)

// RequestIDGenerator produces process-unique 64-bit request ids. The high
// bits are seeded randomly at construction so ids from different broker
// processes do not collide on shared telemetry; the low bits count up.
type RequestIDGenerator struct {
	next atomic.Int64
}

// NewRequestIDGenerator creates a generator with a random base
func NewRequestIDGenerator() *RequestIDGenerator {
	u := uuid.New()
	base := int64(binary.BigEndian.Uint64(u[:8])) & 0x7fffffff00000000
	g := &RequestIDGenerator{}
	g.next.Store(base)
	return g
}

// Next returns a fresh request id
func (g *RequestIDGenerator) Next() int64 {
	return g.next.Add(1)
}
