// Package util provides supporting data structures for the db package.
//
// The package contains:
//   - mapheap: a generic min heap with key based access, used as the FIFO wait
//     queue of the write slot (tickets are key and priority at once, so a
//     cancelled waiter leaves the queue in O(log n))
//   - statistics: summary statistics and a SizeHistogram for key and value
//     sizes, reported by DB.GetInfo
//
// None of the types are thread-safe unless noted otherwise.
package util
