// Package util
//
// This file provides a priority queue with key based access.
//
// The queue combines a binary min heap with a hash map, so the entry with the
// lowest priority is found in O(1) and any entry can be removed by its key in
// O(log n). The database uses it as the wait queue of the single write slot:
// every waiting writer is stored under a monotonically increasing ticket that
// serves as key and priority at the same time, which yields FIFO order while a
// cancelled waiter can still leave the queue without a scan.
//
// Concurrency Considerations:
//   - This implementation is not thread-safe
//   - For concurrent use, external synchronization should be applied
//
// Example usage:
//
//	q := NewMapHeap[chan struct{}]()
//	q.AddItem(ticket, ticket, ch)
//
//	// Grant the oldest waiter
//	if e, ok := q.PopMin(); ok {
//	    close(e.Value)
//	}
//
//	// A waiter gave up
//	q.RemoveByKey(ticket)
package util

import (
	"container/heap"
	"fmt"
)

// Entry is one element of a MapHeap
type Entry[V any] struct {
	Key      uint64 // Unique identifier for the entry
	Priority uint64 // Lower values are popped first
	Value    V      // Payload
	index    int    // Index in the heap, maintained by heap package
}

func (e *Entry[V]) String() string {
	return fmt.Sprintf("{Key: %d, Priority: %d}", e.Key, e.Priority)
}

// MapHeap is a min heap by priority that also supports access by key
type MapHeap[V any] struct {
	entries []*Entry[V]          // The actual heap slice
	byKey   map[uint64]*Entry[V] // Map for O(1) access by key
}

// NewMapHeap creates a new empty queue
func NewMapHeap[V any]() *MapHeap[V] {
	return &MapHeap[V]{
		entries: make([]*Entry[V], 0),
		byKey:   make(map[uint64]*Entry[V]),
	}
}

// Len returns the number of entries in the queue (part of heap.Interface)
func (q *MapHeap[V]) Len() int { return len(q.entries) }

// Less compares entries by priority (part of heap.Interface)
func (q *MapHeap[V]) Less(i, j int) bool {
	return q.entries[i].Priority < q.entries[j].Priority
}

// Swap exchanges entries at positions i and j (part of heap.Interface)
func (q *MapHeap[V]) Swap(i, j int) {
	q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
	q.entries[i].index = i
	q.entries[j].index = j
}

// Push adds an entry to the heap (part of heap.Interface, use AddItem instead)
func (q *MapHeap[V]) Push(x any) {
	e := x.(*Entry[V])
	e.index = len(q.entries)
	q.entries = append(q.entries, e)
	q.byKey[e.Key] = e
}

// Pop removes and returns the last entry (part of heap.Interface, use PopMin instead)
func (q *MapHeap[V]) Pop() any {
	old := q.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil // Avoid memory leak
	e.index = -1
	q.entries = old[:n-1]
	delete(q.byKey, e.Key)
	return e
}

// AddItem adds a new entry or updates priority and value of an existing one
func (q *MapHeap[V]) AddItem(key, priority uint64, value V) {
	if e, exists := q.byKey[key]; exists {
		e.Priority = priority
		e.Value = value
		heap.Fix(q, e.index)
		return
	}
	heap.Push(q, &Entry[V]{
		Key:      key,
		Priority: priority,
		Value:    value,
	})
}

// PopMin removes and returns the entry with the lowest priority
func (q *MapHeap[V]) PopMin() (*Entry[V], bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	return heap.Pop(q).(*Entry[V]), true
}

// RemoveByKey removes an entry by its key
func (q *MapHeap[V]) RemoveByKey(key uint64) (*Entry[V], bool) {
	e, exists := q.byKey[key]
	if !exists {
		return nil, false
	}
	heap.Remove(q, e.index)
	return e, true
}

// Peek returns the entry with the lowest priority without removing it
func (q *MapHeap[V]) Peek() (*Entry[V], bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	return q.entries[0], true
}
