// Package alloc provides the memory allocator contract that backs every tree
// node of the art package.
//
// Key Components:
//
//   - Allocator: Allocate/Deallocate pairs of raw byte blocks plus lock-free,
//     monotonic allocation statistics (GetStats). A block must be freed exactly
//     once and with exactly the size it was allocated with.
//
//   - Heap allocator (NewHeapAllocator): the default implementation. Blocks come
//     from the Go runtime allocator, the allocator itself only keeps atomic
//     counters. Balanced counters after all trees are released prove that node
//     lifetime management is correct.
//
//   - LeakDetector (NewLeakDetector): a wrapper for tests. Every block is
//     surrounded by 16 byte guard bands filled with a sentinel, freed blocks are
//     overwritten with a poison pattern to surface use-after-free, and every
//     outstanding block is recorded so leaks can be reported with
//     QueryAllocations and CheckLeaks.
//
// Error Handling:
//
// Violations of the contract (size mismatch, double free, overwritten guard
// bands) are memory safety bugs. They panic with an *Error and are never
// returned to the caller.
package alloc
