package art

import (
	"bytes"

	"github.com/ValentinKolb/artdb/lib/art/internal"
	"github.com/ValentinKolb/artdb/lib/dberr"
)

// FindResult is the outcome of Cursor.Find
type FindResult uint8

const (
	NotFound FindResult = iota // no acceptable key, the cursor is unpositioned
	Exact                      // the cursor is on the searched key
	Previous                   // the cursor is on the nearest smaller key
	Next                       // the cursor is on the nearest larger key
)

func (f FindResult) String() string {
	switch f {
	case Exact:
		return "Exact"
	case Previous:
		return "Previous"
	case Next:
		return "Next"
	default:
		return "NotFound"
	}
}

// position state of a cursor
type posState uint8

const (
	posNone  posState = iota // before the first key
	posValid                 // on a key, node path is current
	posStale                 // on a key, index and key are known but the node path must be rebuilt
	posFuzzy                 // the key was removed, only relative navigation from it is possible
)

// Cursor is a movable position in the key space of one RootNode.
//
// The cursor stays coherent with mutations done through any cursor of the same
// root: after an insert or erase its index is shifted, or it becomes fuzzy when
// its own key was erased. A fuzzy cursor has no current key but FindNextKey and
// FindPreviousKey continue from where the key was.
//
// Thread-safety: not thread-safe, a cursor belongs to the goroutine using its root.
type Cursor struct {
	root       *RootNode
	prev, next *Cursor

	state  posState
	frames []internal.Frame
	leaf   *internal.Node
	index  int64  // -1 if unknown
	key    []byte // remembered key while stale or fuzzy
	keyBuf []byte // scratch buffer for prefixed keys
}

// --------------------------------------------------------------------------
// Positioning
// --------------------------------------------------------------------------

// FindFirstKey moves to the first key starting with prefix
func (c *Cursor) FindFirstKey(prefix []byte) bool {
	if !c.usable() {
		return false
	}
	if c.root.CountPrefix(prefix) == 0 {
		c.reset()
		return false
	}
	c.seek(internal.CountLess(c.root.top, prefix))
	return true
}

// FindLastKey moves to the last key starting with prefix
func (c *Cursor) FindLastKey(prefix []byte) bool {
	if !c.usable() {
		return false
	}
	n := c.root.CountPrefix(prefix)
	if n == 0 {
		c.reset()
		return false
	}
	c.seek(internal.CountLess(c.root.top, prefix) + n - 1)
	return true
}

// FindNextKey moves to the following key if it starts with prefix. Otherwise
// the cursor is unpositioned and false is returned. An unpositioned cursor
// moves to the first key with the prefix.
func (c *Cursor) FindNextKey(prefix []byte) bool {
	if !c.usable() {
		return false
	}
	switch c.state {
	case posNone:
		return c.FindFirstKey(prefix)
	case posFuzzy:
		idx := internal.CountLess(c.root.top, c.key)
		if internal.Find(c.root.top, c.key) != nil {
			idx++
		}
		return c.seekWithin(idx, prefix)
	}
	if !c.ensure() {
		return c.FindNextKey(prefix)
	}

	var leaf *internal.Node
	c.frames, leaf = internal.Next(c.frames)
	if leaf == nil || !bytes.HasPrefix(leaf.Key(), prefix) {
		c.reset()
		return false
	}
	c.leaf = leaf
	if c.index >= 0 {
		c.index++
	}
	return true
}

// FindPreviousKey moves to the preceding key if it starts with prefix. Otherwise
// the cursor is unpositioned and false is returned. An unpositioned cursor
// moves to the last key with the prefix.
func (c *Cursor) FindPreviousKey(prefix []byte) bool {
	if !c.usable() {
		return false
	}
	switch c.state {
	case posNone:
		return c.FindLastKey(prefix)
	case posFuzzy:
		return c.seekWithin(internal.CountLess(c.root.top, c.key)-1, prefix)
	}
	if !c.ensure() {
		return c.FindPreviousKey(prefix)
	}

	var leaf *internal.Node
	c.frames, leaf = internal.Prev(c.frames)
	if leaf == nil || !bytes.HasPrefix(leaf.Key(), prefix) {
		c.reset()
		return false
	}
	c.leaf = leaf
	if c.index >= 0 {
		c.index--
	}
	return true
}

// Find locates key. If it does not exist the cursor moves to the nearest
// smaller key, else to the nearest larger key. Both fallbacks are only accepted
// when the found key shares the first prefixLen bytes with key.
func (c *Cursor) Find(key []byte, prefixLen int) FindResult {
	if !c.usable() {
		return NotFound
	}
	if prefixLen > len(key) {
		prefixLen = len(key)
	}
	prefix := key[:prefixLen]
	count := c.root.GetCount()
	idx := internal.CountLess(c.root.top, key)

	if idx < count {
		c.seek(idx)
		if bytes.Equal(c.leaf.Key(), key) {
			return Exact
		}
	}
	if idx > 0 {
		c.seek(idx - 1)
		if bytes.HasPrefix(c.leaf.Key(), prefix) {
			return Previous
		}
	}
	if idx < count {
		c.seek(idx)
		if bytes.HasPrefix(c.leaf.Key(), prefix) {
			return Next
		}
	}
	c.reset()
	return NotFound
}

// SetKeyIndex moves to the key with the given absolute index
func (c *Cursor) SetKeyIndex(index int64) bool {
	if !c.usable() {
		return false
	}
	if index < 0 || index >= c.root.GetCount() {
		c.reset()
		return false
	}
	c.seek(index)
	return true
}

// FindKeyIndex moves to the key with the given index among the keys starting
// with prefix
func (c *Cursor) FindKeyIndex(prefix []byte, index int64) bool {
	if !c.usable() {
		return false
	}
	if index < 0 || index >= c.root.CountPrefix(prefix) {
		c.reset()
		return false
	}
	c.seek(internal.CountLess(c.root.top, prefix) + index)
	return true
}

// Invalidate unpositions the cursor
func (c *Cursor) Invalidate() {
	c.reset()
}

// --------------------------------------------------------------------------
// Access
// --------------------------------------------------------------------------

// IsValid reports whether the cursor is on a key
func (c *Cursor) IsValid() bool {
	return c.usable() && c.ensure()
}

// GetKeyIndex returns the absolute index of the current key or -1
func (c *Cursor) GetKeyIndex() int64 {
	if !c.IsValid() {
		return -1
	}
	if c.index < 0 {
		c.index = internal.IndexOf(c.frames)
	}
	return c.index
}

// KeyIndexWithin returns the index of the current key among the keys starting
// with prefix, or -1 if the cursor is not on such a key
func (c *Cursor) KeyIndexWithin(prefix []byte) int64 {
	idx := c.GetKeyIndex()
	if idx < 0 || !bytes.HasPrefix(c.leaf.Key(), prefix) {
		return -1
	}
	return idx - internal.CountLess(c.root.top, prefix)
}

// CountPrefix returns the number of keys starting with prefix
func (c *Cursor) CountPrefix(prefix []byte) int64 {
	if !c.usable() {
		return 0
	}
	return c.root.CountPrefix(prefix)
}

// GetKey returns the current key or nil. Without copy the slice aliases tree
// memory and is only valid until the next mutation of the root.
func (c *Cursor) GetKey(copy bool) []byte {
	if !c.IsValid() {
		return nil
	}
	return maybeCopy(c.leaf.Key(), copy)
}

// GetValue returns the current value or nil. Without copy the slice aliases tree
// memory and is only valid until the next mutation of the root.
func (c *Cursor) GetValue(copy bool) []byte {
	if !c.IsValid() {
		return nil
	}
	return maybeCopy(c.leaf.Value(), copy)
}

// --------------------------------------------------------------------------
// Mutation
// --------------------------------------------------------------------------

// CreateOrUpdateKeyValue stores value under key and moves the cursor to it.
// It returns true if the key was created.
func (c *Cursor) CreateOrUpdateKeyValue(key, value []byte) (bool, error) {
	if !c.usable() {
		return false, errDetached
	}
	idx, created, err := c.root.upsert(key, value)
	if err != nil {
		return false, err
	}
	c.seek(idx)
	return created, nil
}

// CreateOrUpdateKeyValueWithPrefix stores value under prefix||key
func (c *Cursor) CreateOrUpdateKeyValueWithPrefix(prefix, key, value []byte) (bool, error) {
	if len(prefix) == 0 {
		return c.CreateOrUpdateKeyValue(key, value)
	}
	c.keyBuf = append(append(c.keyBuf[:0], prefix...), key...)
	return c.CreateOrUpdateKeyValue(c.keyBuf, value)
}

// SetValue replaces the value of the current key
func (c *Cursor) SetValue(value []byte) error {
	if !c.IsValid() {
		return dberr.New(dberr.RetCInvalidOperation, "cursor is not positioned on a key")
	}
	c.keyBuf = append(c.keyBuf[:0], c.leaf.Key()...)
	_, err := c.CreateOrUpdateKeyValue(c.keyBuf, value)
	return err
}

// EraseCurrent removes the current key. The cursor becomes fuzzy.
func (c *Cursor) EraseCurrent() error {
	if !c.IsValid() {
		return dberr.New(dberr.RetCInvalidOperation, "cursor is not positioned on a key")
	}
	idx := c.GetKeyIndex()
	_, err := c.root.eraseRange(idx, idx)
	return err
}

// EraseUpTo removes all keys from the current key up to the key of other
// (inclusive) and returns the number of removed keys. Both cursors become
// fuzzy. Nothing is removed if other is before this cursor.
func (c *Cursor) EraseUpTo(other *Cursor) (int64, error) {
	if other == nil || other.root != c.root {
		return 0, dberr.New(dberr.RetCInvalidOperation, "cursors belong to different roots")
	}
	if !c.IsValid() || !other.IsValid() {
		return 0, dberr.New(dberr.RetCInvalidOperation, "cursor is not positioned on a key")
	}
	first, last := c.GetKeyIndex(), other.GetKeyIndex()
	if last < first {
		return 0, nil
	}
	return c.root.eraseRange(first, last)
}

// Close detaches the cursor from its root
func (c *Cursor) Close() {
	if c.root == nil {
		return
	}
	c.root.unlink(c)
	c.reset()
	c.root = nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

var errDetached = dberr.New(dberr.RetCInvalidOperation, "cursor is closed")

func (c *Cursor) usable() bool {
	return c.root != nil && !c.root.closed
}

func (c *Cursor) reset() {
	c.state = posNone
	c.frames = c.frames[:0]
	c.leaf = nil
	c.index = -1
}

func (c *Cursor) seek(idx int64) {
	c.frames, c.leaf = internal.PathAt(c.root.top, idx, c.frames[:0])
	c.index = idx
	c.state = posValid
}

// seekWithin moves to idx if that key exists and starts with prefix
func (c *Cursor) seekWithin(idx int64, prefix []byte) bool {
	if idx < 0 || idx >= c.root.GetCount() {
		c.reset()
		return false
	}
	c.seek(idx)
	if !bytes.HasPrefix(c.leaf.Key(), prefix) {
		c.reset()
		return false
	}
	return true
}

// detach drops the node path ahead of a mutation and remembers key and index
func (c *Cursor) detach() {
	if c.state != posValid {
		return
	}
	if c.index < 0 {
		c.index = internal.IndexOf(c.frames)
	}
	c.key = append(c.key[:0], c.leaf.Key()...)
	c.frames = c.frames[:0]
	c.leaf = nil
	c.state = posStale
}

// ensure rebuilds the node path of a stale cursor and reports whether the
// cursor is on a key
func (c *Cursor) ensure() bool {
	switch c.state {
	case posValid:
		return true
	case posStale:
		if c.index >= 0 && c.index < c.root.GetCount() {
			frames, leaf := internal.PathAt(c.root.top, c.index, c.frames[:0])
			if bytes.Equal(leaf.Key(), c.key) {
				c.frames, c.leaf = frames, leaf
				c.state = posValid
				return true
			}
		}
		c.state = posFuzzy
		c.index = -1
	}
	return false
}

func maybeCopy(b []byte, clone bool) []byte {
	if !clone {
		return b
	}
	return append([]byte(nil), b...)
}
