package art

import (
	"github.com/ValentinKolb/artdb/lib/alloc"
	"github.com/ValentinKolb/artdb/lib/art/internal"
	"github.com/ValentinKolb/artdb/lib/dberr"
)

// KeyMode selects the value layout of a tree
type KeyMode uint8

const (
	// KeyModeVariable accepts values of any length
	KeyModeVariable KeyMode = iota
	// KeyModeFixed12 requires every value to be exactly 12 bytes long
	KeyModeFixed12
)

// fixedValueSize is the value size enforced by KeyModeFixed12
const fixedValueSize = 12

func (m KeyMode) String() string {
	switch m {
	case KeyModeVariable:
		return "Variable"
	case KeyModeFixed12:
		return "Fixed12"
	default:
		return "Unknown"
	}
}

func (m KeyMode) checkValue(value []byte) error {
	if m == KeyModeFixed12 && len(value) != fixedValueSize {
		return dberr.Newf(dberr.RetCInvalidValue, "key mode %s requires %d byte values, got %d",
			m, fixedValueSize, len(value))
	}
	return nil
}

// WriteGuard is consulted before the tree of a root is modified. A transaction
// uses it to claim the write slot on the first mutation (or to reject it).
type WriteGuard interface {
	BeforeWrite() error
}

// --------------------------------------------------------------------------
// RootNode
// --------------------------------------------------------------------------

// RootNode is one versioned handle to a tree. Handles created by Snapshot share
// all nodes with their source; a mutation on either side copies only the path
// it touches.
//
// Besides the tree a root carries a transaction id, the commit ulong and a
// lazily grown array of auxiliary ulongs.
//
// Thread-safety: a RootNode and its cursors must be used by one goroutine at a
// time. Different roots sharing nodes may be used and closed concurrently.
type RootNode struct {
	arena *internal.Arena
	mode  KeyMode
	top   *internal.Node

	transactionID int64
	commitUlong   uint64
	ulongs        []uint64

	guard   WriteGuard
	cursors *Cursor // head of the live cursor list
	closed  bool
}

// CreateEmpty creates a root without keys on top of the given allocator
func CreateEmpty(a alloc.Allocator, mode KeyMode) *RootNode {
	return &RootNode{
		arena: internal.NewArena(a),
		mode:  mode,
	}
}

// Snapshot returns a new handle to the current content in O(1). Cursors and the
// write guard are not carried over.
func (r *RootNode) Snapshot() *RootNode {
	r.arena.IncRef(r.top)
	return &RootNode{
		arena:         r.arena,
		mode:          r.mode,
		top:           r.top,
		transactionID: r.transactionID,
		commitUlong:   r.commitUlong,
		ulongs:        append([]uint64(nil), r.ulongs...),
	}
}

// RevertTo replaces the content of this root by the content of other. All
// cursors of this root lose their position and become fuzzy.
// Reverting a root to itself is rejected with ErrInvalidOperation.
func (r *RootNode) RevertTo(other *RootNode) error {
	if other == r {
		return dberr.New(dberr.RetCInvalidOperation, "a root cannot be reverted to itself")
	}
	if other == nil || other.closed || other.arena.Allocator() != r.arena.Allocator() {
		return dberr.New(dberr.RetCInvalidOperation, "revert target is closed or belongs to another allocator")
	}
	if err := r.beforeWrite(); err != nil {
		return err
	}

	r.prepare()
	for c := r.cursors; c != nil; c = c.next {
		if c.state == posStale {
			c.state = posFuzzy
		}
	}

	r.arena.IncRef(other.top)
	r.arena.DecRef(r.top)
	r.top = other.top
	r.transactionID = other.transactionID
	r.commitUlong = other.commitUlong
	r.ulongs = append(r.ulongs[:0], other.ulongs...)
	return nil
}

// CreateCursor attaches a new cursor positioned before the first key. A closed
// root hands out a detached cursor.
func (r *RootNode) CreateCursor() *Cursor {
	if r.closed {
		return &Cursor{index: -1}
	}
	c := &Cursor{root: r, index: -1}
	c.next = r.cursors
	if r.cursors != nil {
		r.cursors.prev = c
	}
	r.cursors = c
	return c
}

// Close releases the tree. Nodes that are not shared with other roots are
// returned to the allocator. All cursors of the root are detached. Close is
// idempotent.
func (r *RootNode) Close() {
	if r.closed {
		return
	}
	r.DetachCursors()
	r.arena.DecRef(r.top)
	r.top = nil
	r.closed = true
}

// DetachCursors unpositions all cursors of the root and unlinks them. Detached
// cursors refuse every further operation.
func (r *RootNode) DetachCursors() {
	for c := r.cursors; c != nil; {
		next := c.next
		c.reset()
		c.root, c.prev, c.next = nil, nil, nil
		c = next
	}
	r.cursors = nil
}

// GetCount returns the number of keys
func (r *RootNode) GetCount() int64 {
	if r.top == nil {
		return 0
	}
	return r.top.Count()
}

// CountPrefix returns the number of keys starting with prefix
func (r *RootNode) CountPrefix(prefix []byte) int64 {
	return internal.CountPrefix(r.top, prefix)
}

// KeyMode returns the value layout of the tree
func (r *RootNode) KeyMode() KeyMode { return r.mode }

// Allocator returns the allocator backing the nodes of the tree
func (r *RootNode) Allocator() alloc.Allocator { return r.arena.Allocator() }

// IsClosed reports whether Close was called
func (r *RootNode) IsClosed() bool { return r.closed }

// SetWriteGuard installs the guard consulted before every mutation
func (r *RootNode) SetWriteGuard(g WriteGuard) { r.guard = g }

// --------------------------------------------------------------------------
// Auxiliary values
// --------------------------------------------------------------------------

// TransactionID returns the generation of the committed state this root is based on
func (r *RootNode) TransactionID() int64 { return r.transactionID }

// SetTransactionID sets the generation counter
func (r *RootNode) SetTransactionID(id int64) { r.transactionID = id }

// CommitUlong returns the commit scoped auxiliary value
func (r *RootNode) CommitUlong() uint64 { return r.commitUlong }

// SetCommitUlong sets the commit scoped auxiliary value
func (r *RootNode) SetCommitUlong(v uint64) error {
	if err := r.beforeWrite(); err != nil {
		return err
	}
	r.commitUlong = v
	return nil
}

// GetUlongCount returns the number of auxiliary ulong slots in use
func (r *RootNode) GetUlongCount() int { return len(r.ulongs) }

// GetUlong returns the auxiliary ulong at idx (0 if the slot was never set)
func (r *RootNode) GetUlong(idx int) uint64 {
	if idx < 0 || idx >= len(r.ulongs) {
		return 0
	}
	return r.ulongs[idx]
}

// SetUlong sets the auxiliary ulong at idx, growing the slot array as needed
func (r *RootNode) SetUlong(idx int, v uint64) error {
	if idx < 0 {
		return dberr.Newf(dberr.RetCInvalidOperation, "negative ulong index %d", idx)
	}
	if err := r.beforeWrite(); err != nil {
		return err
	}
	if idx >= len(r.ulongs) {
		if v == 0 {
			return nil
		}
		r.ulongs = append(r.ulongs, make([]uint64, idx+1-len(r.ulongs))...)
	}
	r.ulongs[idx] = v
	return nil
}

// --------------------------------------------------------------------------
// Mutation protocol
// --------------------------------------------------------------------------

/*
 Every structural change of the tree runs in three phases:

   1. prepare: every positioned cursor remembers its key and index and drops its
      node path (the nodes may be copied or freed by the change).
   2. the tree is modified.
   3. adjust: the remembered indexes are shifted by the change. A cursor whose
      key was erased becomes fuzzy. The node path is rebuilt lazily from the
      index on the next access and checked against the remembered key.
*/

func (r *RootNode) beforeWrite() error {
	if r.closed {
		return dberr.New(dberr.RetCInvalidOperation, "root is closed")
	}
	if r.guard != nil {
		return r.guard.BeforeWrite()
	}
	return nil
}

func (r *RootNode) prepare() {
	for c := r.cursors; c != nil; c = c.next {
		c.detach()
	}
}

func (r *RootNode) adjustInsert(idx int64) {
	for c := r.cursors; c != nil; c = c.next {
		if c.state == posStale && c.index >= idx {
			c.index++
		}
	}
}

func (r *RootNode) adjustErase(first, last int64) {
	removed := last - first + 1
	for c := r.cursors; c != nil; c = c.next {
		if c.state != posStale {
			continue
		}
		switch {
		case c.index > last:
			c.index -= removed
		case c.index >= first:
			c.state = posFuzzy
			c.index = -1
		}
	}
}

// upsert writes key and value and returns the index of the key
func (r *RootNode) upsert(key, value []byte) (idx int64, created bool, err error) {
	if err = r.mode.checkValue(value); err != nil {
		return -1, false, err
	}
	if err = r.beforeWrite(); err != nil {
		return -1, false, err
	}
	r.prepare()
	idx = internal.CountLess(r.top, key)
	created = r.arena.Upsert(&r.top, key, value)
	if created {
		r.adjustInsert(idx)
	}
	return idx, created, nil
}

// eraseRange removes the keys first..last (inclusive)
func (r *RootNode) eraseRange(first, last int64) (int64, error) {
	if err := r.beforeWrite(); err != nil {
		return 0, err
	}
	r.prepare()
	removed := r.arena.EraseRange(&r.top, first, last)
	r.adjustErase(first, last)
	return removed, nil
}

func (r *RootNode) unlink(c *Cursor) {
	if c.prev != nil {
		c.prev.next = c.next
	} else if r.cursors == c {
		r.cursors = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	}
	c.prev, c.next = nil, nil
}
