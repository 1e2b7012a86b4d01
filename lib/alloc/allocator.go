package alloc

import (
	"fmt"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Allocator hands out raw memory blocks for tree nodes.
// Every Allocate must be paired with exactly one Deallocate of the same size.
// Outstanding blocks never alias each other.
//
// Thread-safety: implementations must be safe for concurrent use, trees of
// different generations free their nodes concurrently.
type Allocator interface {
	// Allocate returns a block of exactly size bytes. The content is undefined.
	Allocate(size int) []byte

	// Deallocate releases a block previously returned by Allocate with the same size.
	Deallocate(block []byte, size int)

	// GetStats returns a snapshot of the allocation counters.
	GetStats() Stats
}

// Stats holds the monotonic allocation counters of an allocator.
type Stats struct {
	AllocBytes   uint64 `json:"alloc_bytes"`
	AllocCount   uint64 `json:"alloc_count"`
	DeallocBytes uint64 `json:"dealloc_bytes"`
	DeallocCount uint64 `json:"dealloc_count"`
}

// InUseBytes returns the number of bytes currently allocated.
func (s Stats) InUseBytes() uint64 {
	return s.AllocBytes - s.DeallocBytes
}

// InUseCount returns the number of blocks currently allocated.
func (s Stats) InUseCount() uint64 {
	return s.AllocCount - s.DeallocCount
}

func (s Stats) String() string {
	return fmt.Sprintf("Stats{alloc: %d B / %d blocks, dealloc: %d B / %d blocks}",
		s.AllocBytes, s.AllocCount, s.DeallocBytes, s.DeallocCount)
}

// --------------------------------------------------------------------------
// Counters (shared by all implementations)
// --------------------------------------------------------------------------

// counters tracks allocation statistics with atomic operations only
type counters struct {
	allocBytes   atomic.Uint64
	allocCount   atomic.Uint64
	deallocBytes atomic.Uint64
	deallocCount atomic.Uint64
}

func (c *counters) onAlloc(size int) {
	c.allocBytes.Add(uint64(size))
	c.allocCount.Add(1)
}

func (c *counters) onDealloc(size int) {
	c.deallocBytes.Add(uint64(size))
	c.deallocCount.Add(1)
}

// snapshot reads the counters without locking. Dealloc counters are read
// first so a concurrent snapshot never reports more freed than allocated.
func (c *counters) snapshot() Stats {
	deallocBytes := c.deallocBytes.Load()
	deallocCount := c.deallocCount.Load()
	return Stats{
		AllocBytes:   c.allocBytes.Load(),
		AllocCount:   c.allocCount.Load(),
		DeallocBytes: deallocBytes,
		DeallocCount: deallocCount,
	}
}

// --------------------------------------------------------------------------
// Heap Allocator
// --------------------------------------------------------------------------

// heapAllocator is the default allocator. Blocks come from the Go runtime
// allocator which is already thread-safe, the allocator only keeps the books.
type heapAllocator struct {
	stats counters
}

// NewHeapAllocator creates the default allocator.
func NewHeapAllocator() Allocator {
	return &heapAllocator{}
}

// Allocate returns a zeroed block of size bytes.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (a *heapAllocator) Allocate(size int) []byte {
	if size < 0 {
		panic(newError(ErrCodeInvalidSize, 0, size, "negative allocation size"))
	}
	a.stats.onAlloc(size)
	return make([]byte, size)
}

// Deallocate releases the block. The memory itself is reclaimed by the runtime
// once the last reference is gone.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (a *heapAllocator) Deallocate(block []byte, size int) {
	if len(block) != size {
		panic(newError(ErrCodeSizeMismatch, addressOf(block), size,
			fmt.Sprintf("block has %d bytes", len(block))))
	}
	a.stats.onDealloc(size)
}

// GetStats returns the current counters.
//
// Thread-safety: This method is lock-free and can be called concurrently.
func (a *heapAllocator) GetStats() Stats {
	return a.stats.snapshot()
}
