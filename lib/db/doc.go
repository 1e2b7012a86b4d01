// Package db provides an embedded, in-memory transactional key-value store on
// top of the adaptive radix tree of the art package.
//
// The package focuses on:
//   - Snapshot isolated transactions over a sorted key space
//   - A single writer at a time, readers that never wait
//   - Optimistic transactions that only claim the write slot on their first write
//   - A portable export/import stream
//
// Key Components:
//
//   - DB: owns the last committed root. Every transaction starts on an O(1)
//     snapshot of it. Commit swaps the root of the writing transaction in as the
//     new committed root and releases the previous one; nodes no reader refers
//     to anymore go back to the allocator.
//
//   - Transaction: created by StartTransaction (optimistic), StartReadOnlyTransaction
//     or StartWritingTransaction (queued). Cursors created on a transaction see
//     its private state and stay coherent with each other while it changes.
//
//   - Write slot: a mutex guarded holder field plus a FIFO queue of waiting
//     StartWritingTransaction calls. The queue is a util.MapHeap keyed by
//     ticket, so a waiter whose context is cancelled leaves without a scan.
//
//   - Update / View: helpers that run a function in a transaction. Update
//     retries ErrTransactionRetry with a fibonacci backoff.
//
//   - Export / Import: the "BTDBEXP2" stream (pair count, length prefixed keys
//     and values, trailer with the commit ulong and the ulong slots).
//
// Transaction Lifecycle:
//
//	optimistic --first write--> writing --Commit--> committed
//	     |                         |
//	     +--------Close------------+--> rolled back
//
// A first write fails with ErrTransactionRetry when another transaction holds
// the slot or committed after the transaction started. Retry the whole
// transaction in that case, Update does that automatically.
//
// Errors:
//
// All errors are *dberr.Error values and can be compared with errors.Is against
// the dberr sentinels (ErrTransactionRetry, ErrInvalidOperation, ErrDataFormat,
// ErrClosed, ErrInvalidValue). Allocator violations panic (see package alloc).
//
// Observability:
//
// Every DB owns a VictoriaMetrics set (commits, rollbacks, retries, waits,
// allocator usage, key count) that is exposed with WritePrometheus, and
// GetInfo reports sampled key and value sizes plus all open transactions.
//
// Related Packages:
//   - lib/art: roots, snapshots and cursors
//   - lib/alloc: allocator contract and leak detector
//   - lib/db/testing: a conformance suite and benchmarks for DB setups
package db
