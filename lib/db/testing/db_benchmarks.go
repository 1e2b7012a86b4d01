package testing

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/artdb/lib/db"
)

// RunKeyValueDBBenchmarks runs all benchmarks against databases created by factory
func RunKeyValueDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, open(b, factory))
		})

		b.Run("PutBatch", func(b *testing.B) {
			benchmarkPutBatch(b, open(b, factory))
		})

		b.Run("PutLargeValue", func(b *testing.B) {
			benchmarkPutLargeValue(b, open(b, factory))
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, open(b, factory))
		})

		b.Run("Iterate", func(b *testing.B) {
			benchmarkIterate(b, open(b, factory))
		})

		b.Run("SetKeyIndex", func(b *testing.B) {
			benchmarkSetKeyIndex(b, open(b, factory))
		})

		b.Run("Snapshot", func(b *testing.B) {
			benchmarkSnapshot(b, open(b, factory))
		})

		b.Run("ExportImport", func(b *testing.B) {
			benchmarkExportImport(b, factory)
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, open(b, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// fill commits numKeys pairs in one transaction
func fill(b *testing.B, database *db.DB, numKeys int) {
	update(b, database, func(tx *db.Transaction) {
		for i := 0; i < numKeys; i++ {
			put(b, tx, fmt.Sprintf("test-key-%d", i), []byte(fmt.Sprintf("test-value-%d", i)))
		}
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for one committed transaction per Put
func benchmarkPut(b *testing.B, database *db.DB) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		update(b, database, func(tx *db.Transaction) {
			put(b, tx, fmt.Sprintf("test-key-%d", i), []byte(fmt.Sprintf("test-value-%d", i)))
		})
	}
}

// Benchmark for many Puts inside a single transaction
func benchmarkPutBatch(b *testing.B, database *db.DB) {
	tx, err := database.StartWritingTransaction(context.Background())
	if err != nil {
		b.Fatal(err)
	}
	defer tx.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		put(b, tx, fmt.Sprintf("test-key-%d", i), []byte(fmt.Sprintf("test-value-%d", i)))
	}
}

// Benchmark for Put with large values
func benchmarkPutLargeValue(b *testing.B, database *db.DB) {
	tx, err := database.StartWritingTransaction(context.Background())
	if err != nil {
		b.Fatal(err)
	}
	defer tx.Close()
	largeValue := make([]byte, 1*1024*1024) // 1MB

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// overwrite a small set of keys to bound memory
		put(b, tx, fmt.Sprintf("test-key-%d", i%64), largeValue)
	}
}

// Parallel benchmarking for Get on a shared read transaction per goroutine
func benchmarkGet(b *testing.B, database *db.DB) {
	numKeys := 100_000
	fill(b, database, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		tx, err := database.StartReadOnlyTransaction()
		if err != nil {
			b.Error(err)
			return
		}
		defer tx.Close()
		counter := 0
		for pb.Next() {
			tx.Get([]byte(fmt.Sprintf("test-key-%d", counter%numKeys)))
			counter++
		}
	})
}

// Benchmark for forward iteration, one key per op
func benchmarkIterate(b *testing.B, database *db.DB) {
	fill(b, database, 100_000)
	tx := read(b, database)
	c := tx.CreateCursor()
	defer c.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !c.FindNextKey(nil) {
			c.FindFirstKey(nil)
		}
	}
}

// Benchmark for random access by key index
func benchmarkSetKeyIndex(b *testing.B, database *db.DB) {
	numKeys := 100_000
	fill(b, database, numKeys)
	tx := read(b, database)
	c := tx.CreateCursor()
	defer c.Close()
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.SetKeyIndex(rnd.Int63n(int64(numKeys)))
	}
}

// Benchmark for taking and releasing a snapshot of a large tree
func benchmarkSnapshot(b *testing.B, database *db.DB) {
	fill(b, database, 100_000)
	tx := read(b, database)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tx.Snapshot().Close()
	}
}

// Benchmark for the export stream in both directions
func benchmarkExportImport(b *testing.B, factory DBFactory) {
	database := open(b, factory)
	fill(b, database, 100_000)
	tx := read(b, database)

	b.Run("Export", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var buf bytes.Buffer
			if err := db.Export(tx, &buf); err != nil {
				b.Fatal(err)
			}
		}
	})

	var buf bytes.Buffer
	_ = db.Export(tx, &buf)
	data := buf.Bytes()

	b.Run("Import", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			target := open(b, factory)
			update(b, target, func(tx *db.Transaction) {
				if err := db.Import(tx, bytes.NewReader(data)); err != nil {
					b.Fatal(err)
				}
			})
		}
	})
}

// Benchmark for mixed usage: readers in parallel, every 10th op is a write
func benchmarkMixedUsage(b *testing.B, database *db.DB) {
	numKeys := 100_000
	if b.N < numKeys {
		numKeys = b.N
	}
	fill(b, database, numKeys)

	var counter int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		localCounter := 0
		for pb.Next() {
			idx := int(atomic.AddInt64(&counter, 1)-1) % numKeys
			key := []byte(fmt.Sprintf("test-key-%d", idx))

			if localCounter%10 == 0 {
				_ = db.Update(context.Background(), database, func(tx *db.Transaction) error {
					_, err := tx.Put(key, []byte(fmt.Sprintf("mixed-value-%d", localCounter)))
					return err
				})
			} else {
				_ = db.View(database, func(tx *db.Transaction) error {
					tx.Get(key)
					return nil
				})
			}
			localCounter++
		}
	})
}
