package db_test

import (
	"testing"

	"github.com/ValentinKolb/artdb/lib/alloc"
	"github.com/ValentinKolb/artdb/lib/db"
	dbtesting "github.com/ValentinKolb/artdb/lib/db/testing"
)

func heapDB() *db.DB {
	opts := db.DefaultOptions()
	opts.Name = "heap"
	return db.Open(opts)
}

func leakCheckedDB() *db.DB {
	opts := db.DefaultOptions()
	opts.Name = "leak-detector"
	opts.Allocator = alloc.NewLeakDetector(nil)
	return db.Open(opts)
}

func Test(t *testing.T) {
	dbtesting.RunKeyValueDBTests(t, "HeapAllocator", heapDB)
	dbtesting.RunKeyValueDBTests(t, "LeakDetector", leakCheckedDB)
}

func Benchmark(b *testing.B) {
	dbtesting.RunKeyValueDBBenchmarks(b, "HeapAllocator", heapDB)
}
