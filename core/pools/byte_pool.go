// Package pools recycles the byte slices that back per-connection request
// buffers.
package pools

import "sync"

// BytePool is a multi-tiered byte slice pool for different size classes
type BytePool struct {
	pools []*sync.Pool
	sizes []int
}

// Common buffer sizes for request accumulation. Most requests fit the
// first tier; larger POST bodies grow through the others.
var defaultSizes = []int{
	4096,
	16384,
	65536,
	262144,
}

// NewBytePool creates a new byte pool with standard size tiers
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom size tiers, which
// must be sorted ascending.
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for i, size := range sizes {
		sz := size // Capture for closure
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, 0, sz)
				return &buf
			},
		}
	}

	return bp
}

// Get returns an empty slice with capacity of at least size
func (bp *BytePool) Get(size int) []byte {
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			bufPtr := bp.pools[i].Get().(*[]byte)
			return (*bufPtr)[:0]
		}
	}

	// Size too large, allocate directly
	return make([]byte, 0, size)
}

// Put returns a byte slice to the pool. Slices whose capacity is not one
// of the tiers (grown by append, or allocated directly) are left to the GC.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)

	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			buf = buf[:0]
			bp.pools[i].Put(&buf)
			return
		}
	}
}
