package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/artdb/lib/db"
	"github.com/ValentinKolb/artdb/lib/dberr"
)

// DBFactory creates a new, empty database for a single test
type DBFactory func() *db.DB

// RunKeyValueDBTests runs the conformance suite against databases created by
// factory. Every database is closed at the end of its test and the close error
// (for example a leak report) fails the test.
func RunKeyValueDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, open(t, factory))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, open(t, factory))
		})

		t.Run("OrderedIteration", func(t *testing.T) {
			testOrderedIteration(t, open(t, factory))
		})

		t.Run("PrefixScan", func(t *testing.T) {
			testPrefixScan(t, open(t, factory))
		})

		t.Run("EraseRange", func(t *testing.T) {
			testEraseRange(t, open(t, factory))
		})

		t.Run("SnapshotIsolation", func(t *testing.T) {
			testSnapshotIsolation(t, open(t, factory))
		})

		t.Run("Rollback", func(t *testing.T) {
			testRollback(t, open(t, factory))
		})

		t.Run("ExportImport", func(t *testing.T) {
			testExportImport(t, open(t, factory), open(t, factory))
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, open(t, factory))
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, open(t, factory))
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, open(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func open(t testing.TB, factory DBFactory) *db.DB {
	database := factory()
	t.Cleanup(func() {
		if err := database.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return database
}

// update runs fn in a writing transaction and fails the test on error
func update(t testing.TB, database *db.DB, fn func(tx *db.Transaction)) {
	t.Helper()
	tx, err := database.StartWritingTransaction(context.Background())
	if err != nil {
		t.Fatalf("StartWritingTransaction failed: %v", err)
	}
	fn(tx)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func put(t testing.TB, tx *db.Transaction, key string, value []byte) {
	t.Helper()
	if _, err := tx.Put([]byte(key), value); err != nil {
		t.Fatalf("Put(%q) failed: %v", key, err)
	}
}

func keys(tx *db.Transaction, prefix []byte) []string {
	c := tx.CreateCursor()
	defer c.Close()
	var out []string
	for c.FindNextKey(prefix) {
		out = append(out, string(c.GetKey(false)))
	}
	return out
}

func read(t testing.TB, database *db.DB) *db.Transaction {
	t.Helper()
	tx, err := database.StartReadOnlyTransaction()
	if err != nil {
		t.Fatalf("StartReadOnlyTransaction failed: %v", err)
	}
	t.Cleanup(func() { _ = tx.Close() })
	return tx
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, database *db.DB) {
	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	update(t, database, func(tx *db.Transaction) {
		created, err := tx.Put([]byte(testKey), testValue1)
		if err != nil || !created {
			t.Errorf("Expected first Put to create the key, got created=%v err=%v", created, err)
		}
		created, err = tx.Put([]byte(testKey), testValue2)
		if err != nil || created {
			t.Errorf("Expected second Put to update the key, got created=%v err=%v", created, err)
		}
	})

	tx := read(t, database)
	result, exists := tx.Get([]byte(testKey))
	if !exists {
		t.Fatalf("Expected key %s to exist after Put", testKey)
	}
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	if _, exists = tx.Get([]byte("nonexistent-key")); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	// returned values are copies
	result[0] = 'X'
	again, _ := tx.Get([]byte(testKey))
	if !bytes.Equal(again, testValue2) {
		t.Errorf("Modifying a returned value changed the stored value")
	}
}

func testDelete(t *testing.T, database *db.DB) {
	update(t, database, func(tx *db.Transaction) {
		put(t, tx, "keep", []byte("1"))
		put(t, tx, "drop", []byte("2"))
	})
	update(t, database, func(tx *db.Transaction) {
		if existed, err := tx.Delete([]byte("drop")); err != nil || !existed {
			t.Errorf("Expected Delete to remove the key, got existed=%v err=%v", existed, err)
		}
		if existed, _ := tx.Delete([]byte("missing")); existed {
			t.Errorf("Delete of a missing key reported existed=true")
		}
	})

	tx := read(t, database)
	if _, ok := tx.Get([]byte("drop")); ok {
		t.Errorf("Deleted key is still visible")
	}
	if tx.GetKeyValueCount() != 1 {
		t.Errorf("Expected 1 key, got %d", tx.GetKeyValueCount())
	}
}

func testOrderedIteration(t *testing.T, database *db.DB) {
	var want []string
	update(t, database, func(tx *db.Transaction) {
		for i := 0; i < 500; i++ {
			// mixed lengths and shared prefixes
			key := fmt.Sprintf("%x", i*7919)
			want = append(want, key)
			put(t, tx, key, nil)
		}
	})
	sort.Strings(want)

	tx := read(t, database)
	got := keys(tx, nil)
	if len(got) != len(want) {
		t.Fatalf("Expected %d keys, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Key %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	// indexes match the sorted order in both directions
	c := tx.CreateCursor()
	defer c.Close()
	for i := len(want) - 1; i >= 0; i-- {
		if !c.FindPreviousKey(nil) {
			t.Fatalf("Backward iteration stopped at %d", i)
		}
		if c.GetKeyIndex() != int64(i) || string(c.GetKey(false)) != want[i] {
			t.Fatalf("Backward iteration at %d: index %d, key %q", i, c.GetKeyIndex(), c.GetKey(false))
		}
	}
}

func testPrefixScan(t *testing.T, database *db.DB) {
	update(t, database, func(tx *db.Transaction) {
		for _, k := range []string{"user:1", "user:2", "user:10", "users", "admin:1", "user"} {
			put(t, tx, k, nil)
		}
	})

	tx := read(t, database)
	got := keys(tx, []byte("user:"))
	want := []string{"user:1", "user:10", "user:2"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	c := tx.CreateCursor()
	defer c.Close()
	if n := c.CountPrefix([]byte("user")); n != 5 {
		t.Errorf("Expected 5 keys with prefix user, got %d", n)
	}
	if !c.FindLastKey([]byte("user:")) || string(c.GetKey(false)) != "user:2" {
		t.Errorf("FindLastKey within prefix failed")
	}
	if c.KeyIndexWithin([]byte("user:")) != 2 {
		t.Errorf("Expected index 2 within prefix, got %d", c.KeyIndexWithin([]byte("user:")))
	}
	if c.FindFirstKey([]byte("nobody")) {
		t.Errorf("FindFirstKey on an unused prefix should fail")
	}
}

func testEraseRange(t *testing.T, database *db.DB) {
	update(t, database, func(tx *db.Transaction) {
		for i := 0; i < 1000; i++ {
			put(t, tx, fmt.Sprintf("k%04d", i), []byte("v"))
		}
	})
	update(t, database, func(tx *db.Transaction) {
		from, to := tx.CreateCursor(), tx.CreateCursor()
		defer from.Close()
		defer to.Close()
		from.SetKeyIndex(100)
		to.SetKeyIndex(899)
		n, err := from.EraseUpTo(to)
		if err != nil || n != 800 {
			t.Errorf("Expected 800 erased keys, got %d (%v)", n, err)
		}
	})

	tx := read(t, database)
	got := keys(tx, nil)
	if len(got) != 200 || got[99] != "k0099" || got[100] != "k0900" {
		t.Errorf("Unexpected keys after range erase: %d keys", len(got))
	}
}

func testSnapshotIsolation(t *testing.T, database *db.DB) {
	update(t, database, func(tx *db.Transaction) {
		put(t, tx, "counter", []byte("1"))
	})

	before := read(t, database)
	update(t, database, func(tx *db.Transaction) {
		put(t, tx, "counter", []byte("2"))
		put(t, tx, "added", nil)
	})

	if v, _ := before.Get([]byte("counter")); string(v) != "1" {
		t.Errorf("Reader saw a later commit: counter=%s", v)
	}
	if before.GetKeyValueCount() != 1 {
		t.Errorf("Reader count changed to %d", before.GetKeyValueCount())
	}

	after := read(t, database)
	if v, _ := after.Get([]byte("counter")); string(v) != "2" {
		t.Errorf("New reader misses the commit: counter=%s", v)
	}
	if after.GetTransactionNumber() != before.GetTransactionNumber()+1 {
		t.Errorf("Expected generations to differ by one: %d -> %d",
			before.GetTransactionNumber(), after.GetTransactionNumber())
	}
}

func testRollback(t *testing.T, database *db.DB) {
	tx, err := database.StartTransaction()
	if err != nil {
		t.Fatal(err)
	}
	put(t, tx, "discarded", nil)
	snap := tx.Snapshot()
	put(t, tx, "reverted", nil)
	if err := tx.RevertTo(snap); err != nil {
		t.Errorf("RevertTo failed: %v", err)
	}
	snap.Close()
	if _, ok := tx.Get([]byte("reverted")); ok {
		t.Errorf("RevertTo kept a later write")
	}
	_ = tx.Close()

	r := read(t, database)
	if r.GetKeyValueCount() != 0 {
		t.Errorf("Rolled back transaction left %d keys", r.GetKeyValueCount())
	}
}

func testExportImport(t *testing.T, database, database2 *db.DB) {
	numEntries := 1000
	update(t, database, func(tx *db.Transaction) {
		for i := 0; i < numEntries; i++ {
			put(t, tx, fmt.Sprintf("export-key-%d", i), []byte(fmt.Sprintf("export-value-%d", i)))
		}
		_ = tx.SetCommitUlong(uint64(numEntries))
	})

	var buf bytes.Buffer
	if err := db.Export(read(t, database), &buf); err != nil {
		t.Fatalf("Unexpected error during Export: %v", err)
	}
	update(t, database2, func(tx *db.Transaction) {
		if err := db.Import(tx, &buf); err != nil {
			t.Fatalf("Unexpected error during Import: %v", err)
		}
	})

	tx := read(t, database2)
	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("export-key-%d", i)
		value, ok := tx.Get([]byte(key))
		if !ok {
			t.Errorf("Key %s not found after Import", key)
			continue
		}
		if want := fmt.Sprintf("export-value-%d", i); string(value) != want {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", key, want, value)
		}
	}
	if tx.GetCommitUlong() != uint64(numEntries) {
		t.Errorf("Commit ulong not imported: %d", tx.GetCommitUlong())
	}
}

func testEdgeCases(t *testing.T, database *db.DB) {
	large := bytes.Repeat([]byte{0xAB}, 1<<20)
	binaryKey := []byte{0, 0xFF, 0, 1}

	update(t, database, func(tx *db.Transaction) {
		put(t, tx, "", []byte("empty key"))
		put(t, tx, "empty-value", nil)
		put(t, tx, "large", large)
		if _, err := tx.Put(binaryKey, []byte("binary")); err != nil {
			t.Errorf("Binary key rejected: %v", err)
		}
	})

	tx := read(t, database)
	if v, ok := tx.Get(nil); !ok || string(v) != "empty key" {
		t.Errorf("Empty key lookup failed")
	}
	if v, ok := tx.Get([]byte("empty-value")); !ok || len(v) != 0 {
		t.Errorf("Empty value lookup failed")
	}
	if v, _ := tx.Get([]byte("large")); !bytes.Equal(v, large) {
		t.Errorf("Large value mismatch")
	}
	if v, _ := tx.Get(binaryKey); string(v) != "binary" {
		t.Errorf("Binary key lookup failed")
	}
	if got := keys(tx, nil); len(got) != 4 || got[0] != "" || got[1] != string(binaryKey) {
		t.Errorf("Unexpected key order %q", got)
	}
}

func testConcurrentWriters(t *testing.T, database *db.DB) {
	numWorkers := 8
	perWorker := 50

	var wg sync.WaitGroup
	var failures int32
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				err := db.Update(context.Background(), database, func(tx *db.Transaction) error {
					// read-modify-write of a shared counter
					v, _ := tx.Get([]byte("counter"))
					n := 0
					if v != nil {
						_, _ = fmt.Sscanf(string(v), "%d", &n)
					}
					if _, err := tx.Put([]byte("counter"), []byte(fmt.Sprint(n+1))); err != nil {
						return err
					}
					_, err := tx.Put([]byte(fmt.Sprintf("w%d-%d", worker, i)), nil)
					return err
				})
				if err != nil {
					// retries can run out under heavy contention, use the queue then
					if !errors.Is(err, dberr.ErrTransactionRetry) {
						atomic.AddInt32(&failures, 1)
						continue
					}
					tx, err := database.StartWritingTransaction(context.Background())
					if err != nil {
						atomic.AddInt32(&failures, 1)
						continue
					}
					v, _ := tx.Get([]byte("counter"))
					n := 0
					_, _ = fmt.Sscanf(string(v), "%d", &n)
					_, _ = tx.Put([]byte("counter"), []byte(fmt.Sprint(n+1)))
					_, _ = tx.Put([]byte(fmt.Sprintf("w%d-%d", worker, i)), nil)
					if err := tx.Commit(); err != nil {
						atomic.AddInt32(&failures, 1)
					}
				}
			}
		}(w)
	}
	wg.Wait()

	if failures > 0 {
		t.Fatalf("%d transactions failed", failures)
	}
	tx := read(t, database)
	total := numWorkers * perWorker
	if v, _ := tx.Get([]byte("counter")); string(v) != fmt.Sprint(total) {
		t.Errorf("Lost updates: counter=%s, expected %d", v, total)
	}
	if tx.GetKeyValueCount() != int64(total+1) {
		t.Errorf("Expected %d keys, got %d", total+1, tx.GetKeyValueCount())
	}
}

func testRealisticUsage(t *testing.T, database *db.DB) {
	type operation struct {
		op    string
		key   string
		value []byte
	}

	numOperations := 10_000
	operations := make([]operation, numOperations)
	for i := 0; i < numOperations; i++ {
		var op string
		switch i % 10 {
		case 0, 1, 2, 3, 4, 5, 6:
			op = "put"
		case 7, 8:
			op = "get"
		case 9:
			op = "delete"
		}

		key := fmt.Sprintf("key-%d", i)
		if i%5 == 0 {
			key = fmt.Sprintf("hot-key-%d", i%50)
		}

		var value []byte
		if op == "put" {
			valueSize := 64
			if i%10 == 0 {
				valueSize = 1024
			}
			value = make([]byte, valueSize)
			for j := range value {
				value[j] = byte((i + j) % 256)
			}
		}
		operations[i] = operation{op, key, value}
	}

	// batches of operations from several goroutines, readers in between
	numWorkers := 8
	batch := 100
	opsPerWorker := numOperations / numWorkers

	var wg sync.WaitGroup
	var errorCount int32
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			start := workerID * opsPerWorker
			for from := start; from < start+opsPerWorker; from += batch {
				to := min(from+batch, start+opsPerWorker)
				tx, err := database.StartWritingTransaction(context.Background())
				if err != nil {
					atomic.AddInt32(&errorCount, 1)
					return
				}
				for _, op := range operations[from:to] {
					switch op.op {
					case "put":
						_, err = tx.Put([]byte(op.key), op.value)
					case "get":
						tx.Get([]byte(op.key))
					case "delete":
						_, err = tx.Delete([]byte(op.key))
					}
					if err != nil {
						atomic.AddInt32(&errorCount, 1)
					}
				}
				if err := tx.Commit(); err != nil {
					atomic.AddInt32(&errorCount, 1)
				}

				r, err := database.StartReadOnlyTransaction()
				if err != nil {
					atomic.AddInt32(&errorCount, 1)
					return
				}
				if r.GetKeyValueCount() != int64(len(keys(r, nil))) {
					atomic.AddInt32(&errorCount, 1)
				}
				_ = r.Close()
			}
		}(w)
	}
	wg.Wait()

	if atomic.LoadInt32(&errorCount) > 0 {
		t.Fatalf("Test had %d errors during parallel operations", errorCount)
	}

	// two readers on the same generation see identical contents
	a, b := read(t, database), read(t, database)
	ka, kb := keys(a, nil), keys(b, nil)
	if len(ka) != len(kb) {
		t.Fatalf("Readers disagree on the key count: %d vs %d", len(ka), len(kb))
	}
	for _, k := range ka {
		va, _ := a.Get([]byte(k))
		vb, _ := b.Get([]byte(k))
		if !bytes.Equal(va, vb) {
			t.Errorf("Value mismatch for key %s between readers", k)
		}
	}
}
