package alloc

import (
	"fmt"
	"sort"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var plog = logger.GetLogger("alloc")

const (
	guardSize   = 16   // bytes in front of and behind every block
	guardByte   = 0xCA // sentinel pattern of the guard bands
	poisonByte  = 0xDE // pattern written over freed blocks
	maxLeakLogs = 32   // leaks logged individually by CheckLeaks
)

// Allocation describes one outstanding block of the leak detector
type Allocation struct {
	Ptr  uintptr
	Size int
}

// allocation is the bookkeeping record of one outstanding block
type allocation struct {
	outer []byte // block of the wrapped allocator including guard bands
	size  int    // size requested by the caller
}

// LeakDetector wraps an allocator, surrounds every block with guard bands and
// records every outstanding block. It is meant for tests: the bookkeeping
// costs a concurrent map operation per allocation.
type LeakDetector struct {
	inner Allocator
	live  *xsync.MapOf[uintptr, allocation]
	stats counters
}

// NewLeakDetector wraps inner (nil means a heap allocator)
func NewLeakDetector(inner Allocator) *LeakDetector {
	if inner == nil {
		inner = NewHeapAllocator()
	}
	return &LeakDetector{
		inner: inner,
		live:  xsync.NewMapOf[uintptr, allocation](),
	}
}

// Allocate returns a block of size bytes guarded by sentinel bands on both sides.
// The returned slice has no spare capacity, so appends never reach the guards.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (d *LeakDetector) Allocate(size int) []byte {
	if size < 0 {
		panic(newError(ErrCodeInvalidSize, 0, size, "negative allocation size"))
	}
	outer := d.inner.Allocate(size + 2*guardSize)
	fill(outer[:guardSize], guardByte)
	fill(outer[guardSize+size:], guardByte)

	block := outer[guardSize : guardSize+size : guardSize+size]
	d.live.Store(addressOf(block), allocation{outer: outer, size: size})
	d.stats.onAlloc(size)
	return block
}

// Deallocate verifies the guard bands and the recorded size, poisons the block
// and returns it to the wrapped allocator. Violations panic with an *Error.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (d *LeakDetector) Deallocate(block []byte, size int) {
	ptr := addressOf(block)
	rec, ok := d.live.LoadAndDelete(ptr)
	if !ok {
		panic(newError(ErrCodeDoubleFree, ptr, size, "block is not allocated"))
	}
	if rec.size != size || len(block) != size {
		// keep the record so the block is still reported as outstanding
		d.live.Store(ptr, rec)
		panic(newError(ErrCodeSizeMismatch, ptr, size,
			fmt.Sprintf("block was allocated with %d bytes", rec.size)))
	}
	if !isFilled(rec.outer[:guardSize], guardByte) {
		panic(newError(ErrCodeCorruptedMemory, ptr, size, "front guard band overwritten"))
	}
	if !isFilled(rec.outer[guardSize+size:], guardByte) {
		panic(newError(ErrCodeCorruptedMemory, ptr, size, "back guard band overwritten"))
	}

	fill(rec.outer, poisonByte)
	d.inner.Deallocate(rec.outer, size+2*guardSize)
	d.stats.onDealloc(size)
}

// GetStats returns the counters in caller-visible sizes (without guard bands).
//
// Thread-safety: This method is lock-free and can be called concurrently.
func (d *LeakDetector) GetStats() Stats {
	return d.stats.snapshot()
}

// QueryAllocations returns all outstanding blocks ordered by address.
//
// Thread-safety: This method is thread-safe, but the result is only a fuzzy
// snapshot while other goroutines allocate.
func (d *LeakDetector) QueryAllocations() []Allocation {
	result := make([]Allocation, 0, d.live.Size())
	d.live.Range(func(ptr uintptr, rec allocation) bool {
		result = append(result, Allocation{Ptr: ptr, Size: rec.size})
		return true
	})
	sort.Slice(result, func(i, j int) bool { return result[i].Ptr < result[j].Ptr })
	return result
}

// CheckLeaks logs every outstanding block and returns an error if there is any.
// It is called when the owner of the allocator shuts down.
func (d *LeakDetector) CheckLeaks() error {
	leaks := d.QueryAllocations()
	if len(leaks) == 0 {
		return nil
	}

	total := 0
	for i, leak := range leaks {
		total += leak.Size
		if i < maxLeakLogs {
			plog.Errorf("leaked block at 0x%x (%d bytes)", leak.Ptr, leak.Size)
		}
	}
	if len(leaks) > maxLeakLogs {
		plog.Errorf("... and %d more leaked blocks", len(leaks)-maxLeakLogs)
	}
	return fmt.Errorf("%d blocks (%d bytes) were never deallocated", len(leaks), total)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func isFilled(b []byte, v byte) bool {
	for _, c := range b {
		if c != v {
			return false
		}
	}
	return true
}
