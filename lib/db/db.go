package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/artdb/lib/alloc"
	"github.com/ValentinKolb/artdb/lib/art"
	"github.com/ValentinKolb/artdb/lib/db/util"
	"github.com/ValentinKolb/artdb/lib/dberr"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var plog = logger.GetLogger("artdb")

// --------------------------------------------------------------------------
// Database
// --------------------------------------------------------------------------

// DB is an in-memory transactional key-value store on top of an adaptive radix
// tree. Readers work on O(1) snapshots of the last committed root and never
// wait for writers. Writers are serialized by a single write slot.
//
// Thread-safety: all methods of DB are thread-safe. A Transaction must only be
// used by one goroutine at a time.
type DB struct {
	opts  Options
	alloc alloc.Allocator

	mu         sync.Mutex
	committed  *art.RootNode // last committed root, only snapshots of it are handed out
	writer     *Transaction  // holder of the write slot (nil = free)
	waiters    *util.MapHeap[*waiter]
	nextTicket uint64
	closed     bool

	txCounter atomic.Uint64
	live      *xsync.MapOf[uint64, *Transaction] // open transactions by number
	metrics   *dbMetrics
}

// waiter is a queued StartWritingTransaction request
type waiter struct {
	ready chan struct{} // closed when tx or err is set
	tx    *Transaction
	err   error
}

// Open creates a new empty database (nil options = DefaultOptions)
func Open(opts *Options) *DB {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Allocator == nil {
		o.Allocator = alloc.NewHeapAllocator()
	}
	if o.Name == "" {
		o.Name = "default"
	}

	d := &DB{
		opts:      o,
		alloc:     o.Allocator,
		committed: art.CreateEmpty(o.Allocator, o.KeyMode),
		waiters:   util.NewMapHeap[*waiter](),
		live:      xsync.NewMapOf[uint64, *Transaction](),
	}
	d.metrics = newDBMetrics(d)
	plog.Debugf("opened database %q (key mode %s)", o.Name, o.KeyMode)
	return d
}

// Allocator returns the allocator backing all trees of the database
func (d *DB) Allocator() alloc.Allocator { return d.alloc }

// --------------------------------------------------------------------------
// Starting transactions
// --------------------------------------------------------------------------

// StartTransaction starts an optimistic transaction. It reads the last
// committed state; its first mutation tries to claim the write slot and fails
// with ErrTransactionRetry if another writer holds it or committed meanwhile.
func (d *DB) StartTransaction() (*Transaction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, dberr.New(dberr.RetCClosed, "database is closed")
	}
	return d.newTransaction(false), nil
}

// StartReadOnlyTransaction starts a transaction that rejects every mutation
func (d *DB) StartReadOnlyTransaction() (*Transaction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, dberr.New(dberr.RetCClosed, "database is closed")
	}
	return d.newTransaction(true), nil
}

// StartWritingTransaction returns a transaction that already holds the write
// slot. If the slot is taken, the request is queued and granted in FIFO order
// once the current writer commits or rolls back.
//
// The wait ends early with ctx.Err() when ctx is done, or with ErrClosed when
// the database is closed.
func (d *DB) StartWritingTransaction(ctx context.Context) (*Transaction, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, dberr.New(dberr.RetCClosed, "database is closed")
	}
	if d.writer == nil && d.waiters.Len() == 0 {
		tx := d.newTransaction(false)
		d.claimSlot(tx)
		d.mu.Unlock()
		return tx, nil
	}

	d.nextTicket++
	ticket := d.nextTicket
	w := &waiter{ready: make(chan struct{})}
	d.waiters.AddItem(ticket, ticket, w)
	d.metrics.writerWaits.Inc()
	d.mu.Unlock()

	select {
	case <-w.ready:
		return w.tx, w.err
	case <-ctx.Done():
	}

	d.mu.Lock()
	if _, queued := d.waiters.RemoveByKey(ticket); queued {
		d.mu.Unlock()
		return nil, ctx.Err()
	}
	d.mu.Unlock()

	// granted concurrently with the cancellation, hand the slot on
	if w.tx != nil {
		_ = w.tx.Close()
	}
	if w.err != nil {
		return nil, w.err
	}
	return nil, ctx.Err()
}

// newTransaction creates a transaction on a snapshot of the committed root.
// The caller must hold d.mu.
func (d *DB) newTransaction(readOnly bool) *Transaction {
	tx := &Transaction{
		db:       d,
		number:   d.txCounter.Add(1),
		root:     d.committed.Snapshot(),
		readOnly: readOnly,
		created:  time.Now(),
	}
	tx.generation = tx.root.TransactionID()
	tx.root.SetWriteGuard(tx)
	d.live.Store(tx.number, tx)
	d.metrics.transactions.Inc()
	return tx
}

// --------------------------------------------------------------------------
// Write slot
// --------------------------------------------------------------------------

// claimSlot hands the free write slot to tx. The caller must hold d.mu.
func (d *DB) claimSlot(tx *Transaction) {
	d.writer = tx
	tx.writing = true
}

// promote claims the write slot for an optimistic transaction
func (d *DB) promote(tx *Transaction) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.closed:
		return dberr.New(dberr.RetCClosed, "database is closed")
	case d.writer != nil || d.waiters.Len() > 0:
		d.metrics.retries.Inc()
		return dberr.New(dberr.RetCTransactionRetry, "another transaction holds the write slot")
	case tx.root.TransactionID() != d.committed.TransactionID():
		d.metrics.retries.Inc()
		return dberr.Newf(dberr.RetCTransactionRetry, "transaction is based on generation %d, but %d was committed",
			tx.root.TransactionID(), d.committed.TransactionID())
	}
	d.claimSlot(tx)
	return nil
}

// publish makes the root of the writing transaction tx the committed root
// and passes the write slot on
func (d *DB) publish(tx *Transaction) {
	d.mu.Lock()
	old := d.committed
	tx.root.SetTransactionID(old.TransactionID() + 1)
	tx.root.SetWriteGuard(nil)
	tx.root.DetachCursors()
	d.committed = tx.root
	d.writer = nil
	d.grantNext()
	d.mu.Unlock()

	old.Close()
	d.metrics.commits.Inc()
}

// releaseSlot frees the write slot after a rollback
func (d *DB) releaseSlot(tx *Transaction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == tx {
		d.writer = nil
		d.grantNext()
	}
}

// grantNext hands the write slot to the oldest waiter. The caller must hold d.mu.
func (d *DB) grantNext() {
	e, ok := d.waiters.PopMin()
	if !ok {
		return
	}
	w := e.Value
	w.tx = d.newTransaction(false)
	d.claimSlot(w.tx)
	close(w.ready)
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close shuts the database down. It fails with ErrInvalidOperation while a
// writing transaction is open. Queued writers are cancelled with ErrClosed.
// Read transactions that are still open keep their snapshot until they close.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	if d.writer != nil {
		d.mu.Unlock()
		return dberr.Newf(dberr.RetCInvalidOperation,
			"cannot close the database while transaction %d is writing", d.writer.number)
	}
	d.closed = true
	for {
		e, ok := d.waiters.PopMin()
		if !ok {
			break
		}
		e.Value.err = dberr.New(dberr.RetCClosed, "database was closed while waiting for the write slot")
		close(e.Value.ready)
	}
	committed := d.committed
	d.mu.Unlock()

	committed.Close()
	plog.Debugf("closed database %q", d.opts.Name)

	if open := d.live.Size(); open > 0 {
		plog.Warningf("database %q closed with %d open transactions", d.opts.Name, open)
		return nil
	}
	if detector, ok := d.alloc.(*alloc.LeakDetector); ok && d.opts.CheckLeaks {
		if err := detector.CheckLeaks(); err != nil {
			return fmt.Errorf("database %q: %w", d.opts.Name, err)
		}
	}
	return nil
}
