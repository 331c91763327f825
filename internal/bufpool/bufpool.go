// Package bufpool provides tiered, reusable byte buffers for session I/O,
// adapted from the teacher's root-level BufferPool (buffer.go): three
// sync.Pool tiers keyed by size class, avoiding a fresh allocation on every
// socket read/write in a long-lived relay. The teacher pooled WebSocket
// frame buffers; here the same tiers back a Session's read buffer instead
// (its pending output writes are not pooled).
package bufpool

import "sync"

const (
	smallTier  = 4096
	mediumTier = 16384
	largeTier  = 65536
)

// Pool is a tiered buffer pool. The zero value is not usable; use New.
type Pool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

// New constructs a Pool whose tiers start empty and grow on demand.
func New() *Pool {
	p := &Pool{}
	p.small.New = func() any { buf := make([]byte, smallTier); return &buf }
	p.medium.New = func() any { buf := make([]byte, mediumTier); return &buf }
	p.large.New = func() any { buf := make([]byte, largeTier); return &buf }
	return p
}

// Get returns a buffer of at least size bytes, reusing a pooled one from
// the smallest tier that fits.
func (p *Pool) Get(size int) *[]byte {
	pool := p.tierFor(size)
	v := pool.Get()
	buf, ok := v.(*[]byte)
	if !ok || cap(*buf) < size {
		fresh := make([]byte, size)
		return &fresh
	}
	*buf = (*buf)[:size]
	return buf
}

// Put returns buf to the pool, dropping it instead of pooling anything
// larger than the large tier — an unbounded buffer should not be retained
// and reused indefinitely.
func (p *Pool) Put(buf *[]byte) {
	if buf == nil {
		return
	}
	size := cap(*buf)
	*buf = (*buf)[:0]
	switch {
	case size <= smallTier:
		p.small.Put(buf)
	case size <= mediumTier:
		p.medium.Put(buf)
	case size <= largeTier:
		p.large.Put(buf)
	}
}

func (p *Pool) tierFor(size int) *sync.Pool {
	switch {
	case size <= smallTier:
		return &p.small
	case size <= mediumTier:
		return &p.medium
	default:
		return &p.large
	}
}
