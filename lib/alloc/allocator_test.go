package alloc

import (
	"errors"
	"sync"
	"testing"
	"unsafe"
)

// expectPanic runs fn and returns the recovered *Error
func expectPanic(t *testing.T, fn func()) (err *Error) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("Expected a panic")
		}
		e, ok := r.(*Error)
		if !ok {
			t.Fatalf("Expected *Error, got %T: %v", r, r)
		}
		err = e
	}()
	fn()
	return nil
}

func TestHeapAllocatorStats(t *testing.T) {
	a := NewHeapAllocator()

	b1 := a.Allocate(10)
	b2 := a.Allocate(0)
	if len(b1) != 10 || len(b2) != 0 {
		t.Fatalf("Unexpected block sizes %d and %d", len(b1), len(b2))
	}

	a.Deallocate(b1, 10)
	stats := a.GetStats()
	if stats.AllocBytes != 10 || stats.AllocCount != 2 {
		t.Errorf("Unexpected alloc stats %v", stats)
	}
	if stats.DeallocBytes != 10 || stats.DeallocCount != 1 {
		t.Errorf("Unexpected dealloc stats %v", stats)
	}
	if stats.InUseCount() != 1 || stats.InUseBytes() != 0 {
		t.Errorf("Unexpected in-use stats %v", stats)
	}

	e := expectPanic(t, func() { a.Deallocate(b2, 4) })
	if !errors.Is(e, ErrSizeMismatch) {
		t.Errorf("Expected SizeMismatch, got %v", e)
	}
}

func TestLeakDetectorReportsOutstandingBlock(t *testing.T) {
	d := NewLeakDetector(nil)

	const n = 20
	blocks := make([][]byte, n)
	for i := 0; i < n; i++ {
		blocks[i] = d.Allocate(i + 1)
	}
	for i := 0; i < n-1; i++ {
		d.Deallocate(blocks[i], i+1)
	}

	leaks := d.QueryAllocations()
	if len(leaks) != 1 {
		t.Fatalf("Expected exactly 1 outstanding block, got %d", len(leaks))
	}
	if leaks[0].Size != n {
		t.Errorf("Expected outstanding block of size %d, got %d", n, leaks[0].Size)
	}
	if leaks[0].Ptr != addressOf(blocks[n-1]) {
		t.Errorf("Outstanding block has the wrong address")
	}
	if err := d.CheckLeaks(); err == nil {
		t.Errorf("Expected CheckLeaks to report the leak")
	}

	d.Deallocate(blocks[n-1], n)
	if err := d.CheckLeaks(); err != nil {
		t.Errorf("Expected no leaks, got %v", err)
	}
	if stats := d.GetStats(); stats.InUseCount() != 0 || stats.InUseBytes() != 0 {
		t.Errorf("Expected balanced stats, got %v", stats)
	}
}

func TestLeakDetectorSizeMismatch(t *testing.T) {
	d := NewLeakDetector(nil)
	block := d.Allocate(8)

	e := expectPanic(t, func() { d.Deallocate(block, 7) })
	if !errors.Is(e, ErrSizeMismatch) {
		t.Errorf("Expected SizeMismatch, got %v", e)
	}

	// the block must still be tracked and freeable with the right size
	if len(d.QueryAllocations()) != 1 {
		t.Fatalf("Block should still be outstanding after a rejected free")
	}
	d.Deallocate(block, 8)
}

func TestLeakDetectorDoubleFree(t *testing.T) {
	d := NewLeakDetector(nil)
	block := d.Allocate(4)
	d.Deallocate(block, 4)

	e := expectPanic(t, func() { d.Deallocate(block, 4) })
	if !errors.Is(e, ErrDoubleFree) {
		t.Errorf("Expected DoubleFree, got %v", e)
	}
}

func TestLeakDetectorCorruptedGuard(t *testing.T) {
	d := NewLeakDetector(nil)
	block := d.Allocate(4)

	// write one byte past the end of the block, into the back guard band
	raw := unsafe.Slice(unsafe.SliceData(block), len(block)+1)
	raw[len(block)] = 0

	e := expectPanic(t, func() { d.Deallocate(block, 4) })
	if !errors.Is(e, ErrCorruptedMemory) {
		t.Errorf("Expected CorruptedMemory, got %v", e)
	}
}

func TestLeakDetectorPoisonsFreedMemory(t *testing.T) {
	d := NewLeakDetector(nil)
	block := d.Allocate(6)
	copy(block, "abcdef")
	d.Deallocate(block, 6)

	for i, b := range block {
		if b != poisonByte {
			t.Fatalf("Byte %d of freed block is 0x%x, expected poison", i, b)
		}
	}
}

func TestLeakDetectorConcurrent(t *testing.T) {
	d := NewLeakDetector(NewHeapAllocator())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				size := (g*31 + i) % 64
				b := d.Allocate(size)
				d.Deallocate(b, size)
			}
		}(g)
	}
	wg.Wait()

	stats := d.GetStats()
	if stats.AllocCount != 8*500 || stats.DeallocCount != 8*500 {
		t.Errorf("Unexpected stats after concurrent traffic: %v", stats)
	}
	if err := d.CheckLeaks(); err != nil {
		t.Errorf("Unexpected leaks: %v", err)
	}
}
