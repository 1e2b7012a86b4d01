package db

import (
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/artdb/lib/art"
	"github.com/ValentinKolb/artdb/lib/dberr"
)

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

// Transaction is a unit of work on a snapshot of the database.
//
// States:
//   - read-only: created by StartReadOnlyTransaction, every mutation fails with
//     ErrInvalidOperation.
//   - optimistic: created by StartTransaction, the first mutation claims the
//     write slot or fails with ErrTransactionRetry.
//   - writing: holds the write slot, either from StartWritingTransaction or
//     after a successful first mutation.
//
// A transaction ends with Commit or Close. Close without Commit rolls back.
//
// Thread-safety: not thread-safe. Different transactions may be used
// concurrently.
type Transaction struct {
	db          *DB
	number      uint64
	generation  int64 // generation of the committed root the transaction started on
	root        *art.RootNode
	readOnly    bool
	writing     bool
	closed      bool
	description atomic.Pointer[string] // read by GetInfo from other goroutines
	created     time.Time
}

// BeforeWrite is called by the root before every mutation
func (tx *Transaction) BeforeWrite() error {
	switch {
	case tx.closed:
		return dberr.New(dberr.RetCInvalidOperation, "transaction is already committed or closed")
	case tx.readOnly:
		return dberr.New(dberr.RetCInvalidOperation, "read-only transaction cannot be modified")
	case tx.writing:
		return nil
	}
	return tx.db.promote(tx)
}

// CreateCursor creates a cursor on the root of the transaction
func (tx *Transaction) CreateCursor() *art.Cursor {
	return tx.root.CreateCursor()
}

// GetKeyValueCount returns the number of keys visible to the transaction
func (tx *Transaction) GetKeyValueCount() int64 {
	return tx.root.GetCount()
}

// GetTransactionNumber returns the generation of the committed state the
// transaction is based on
func (tx *Transaction) GetTransactionNumber() int64 {
	return tx.root.TransactionID()
}

// GetUlong returns the auxiliary value at idx
func (tx *Transaction) GetUlong(idx int) uint64 { return tx.root.GetUlong(idx) }

// SetUlong sets the auxiliary value at idx
func (tx *Transaction) SetUlong(idx int, v uint64) error { return tx.root.SetUlong(idx, v) }

// GetUlongCount returns the number of auxiliary value slots
func (tx *Transaction) GetUlongCount() int { return tx.root.GetUlongCount() }

// GetCommitUlong returns the commit scoped auxiliary value
func (tx *Transaction) GetCommitUlong() uint64 { return tx.root.CommitUlong() }

// SetCommitUlong sets the commit scoped auxiliary value
func (tx *Transaction) SetCommitUlong(v uint64) error { return tx.root.SetCommitUlong(v) }

// Snapshot returns an O(1) copy of the current state of the transaction. The
// caller owns the snapshot and must close it.
func (tx *Transaction) Snapshot() *art.RootNode {
	return tx.root.Snapshot()
}

// RevertTo resets the transaction to a snapshot taken earlier
func (tx *Transaction) RevertTo(snapshot *art.RootNode) error {
	return tx.root.RevertTo(snapshot)
}

// SetDescription attaches a free text description (shown by GetInfo)
func (tx *Transaction) SetDescription(s string) { tx.description.Store(&s) }

// GetDescription returns the description of the transaction
func (tx *Transaction) GetDescription() string {
	if s := tx.description.Load(); s != nil {
		return *s
	}
	return ""
}

// IsWriting reports whether the transaction holds the write slot
func (tx *Transaction) IsWriting() bool { return tx.writing }

// IsReadOnly reports whether the transaction was started read-only
func (tx *Transaction) IsReadOnly() bool { return tx.readOnly }

// --------------------------------------------------------------------------
// Key/value helpers
// --------------------------------------------------------------------------

// Get returns a copy of the value stored under key
func (tx *Transaction) Get(key []byte) ([]byte, bool) {
	c := tx.root.CreateCursor()
	defer c.Close()
	if c.Find(key, len(key)) != art.Exact {
		return nil, false
	}
	return c.GetValue(true), true
}

// Put stores value under key and reports whether the key was created
func (tx *Transaction) Put(key, value []byte) (bool, error) {
	c := tx.root.CreateCursor()
	defer c.Close()
	return c.CreateOrUpdateKeyValue(key, value)
}

// Delete removes key and reports whether it existed
func (tx *Transaction) Delete(key []byte) (bool, error) {
	c := tx.root.CreateCursor()
	defer c.Close()
	if c.Find(key, len(key)) != art.Exact {
		return false, nil
	}
	if err := c.EraseCurrent(); err != nil {
		return false, err
	}
	return true, nil
}

// --------------------------------------------------------------------------
// End of life
// --------------------------------------------------------------------------

// Commit publishes the changes of a writing transaction as the new committed
// state. Committing a transaction that never wrote just ends it. A second
// Commit fails with ErrInvalidOperation.
func (tx *Transaction) Commit() error {
	if tx.closed {
		return dberr.New(dberr.RetCInvalidOperation, "transaction is already committed or closed")
	}
	tx.closed = true
	tx.db.live.Delete(tx.number)

	if !tx.writing {
		tx.root.Close()
		return nil
	}
	tx.writing = false
	tx.db.publish(tx)

	// the root is owned by the database from now on
	tx.root = art.CreateEmpty(tx.db.alloc, tx.db.opts.KeyMode)
	tx.root.Close()
	return nil
}

// Close ends the transaction. Without a preceding Commit all changes are
// discarded and the write slot (if held) is passed on. Close is idempotent.
func (tx *Transaction) Close() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	tx.db.live.Delete(tx.number)
	tx.root.Close()

	if tx.writing {
		tx.writing = false
		tx.db.releaseSlot(tx)
		tx.db.metrics.rollbacks.Inc()
	}
	return nil
}
