// Package testing provides standardised tests and benchmarks for db.DB setups
// (allocator, key mode, options).
//
// The package contains:
//   - testing: a conformance suite covering reads, writes, ordered cursors,
//     snapshot isolation, rollback, export/import and concurrent writers
//   - benchmark: throughput of single and batched writes, lookups, iteration,
//     index access, snapshots and the export stream
//
// Every database created by the factory is closed when its test ends. A close
// error fails the test, so a factory returning a database on an
// alloc.LeakDetector also checks that nothing leaked.
//
// Example usage:
//
//	factory := func() *db.DB {
//		opts := db.DefaultOptions()
//		opts.Allocator = alloc.NewLeakDetector(nil)
//		return db.Open(opts)
//	}
//
//	// Running the standard test suite
//	dbtesting.RunKeyValueDBTests(t, "LeakDetector", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunKeyValueDBBenchmarks(b, "LeakDetector", factory)
package testing
