package internal

import (
	"bytes"
)

// Frame is one step of a path from the top of a tree to a leaf.
// Pos is the child position inside Node, -1 selects the value leaf of Node.
type Frame struct {
	Node *Node
	Pos  int
}

// --------------------------------------------------------------------------
// Read operations (safe on shared trees)
// --------------------------------------------------------------------------

// Find returns the leaf holding key or nil
func Find(n *Node, key []byte) *Node {
	depth := 0
	for n != nil {
		if n.kind == KindLeaf {
			if bytes.Equal(n.Key(), key) {
				return n
			}
			return nil
		}
		prefix := n.Prefix()
		if !bytes.HasPrefix(key[depth:], prefix) {
			return nil
		}
		depth += len(prefix)
		if depth == len(key) {
			return n.value
		}
		pos, ok := n.findPos(key[depth])
		if !ok {
			return nil
		}
		n = n.ChildAt(pos)
		depth++
	}
	return nil
}

// CountLess returns the number of keys in the tree that sort before key
// (the rank of key)
func CountLess(n *Node, key []byte) int64 {
	var acc int64
	depth := 0
	for n != nil {
		if n.kind == KindLeaf {
			if bytes.Compare(n.Key(), key) < 0 {
				acc++
			}
			return acc
		}

		// all keys below n share key[:depth], compare the compressed prefix next
		prefix := n.Prefix()
		rest := key[depth:]
		m := min(len(prefix), len(rest))
		switch c := bytes.Compare(prefix[:m], rest[:m]); {
		case c < 0:
			return acc + n.count
		case c > 0:
			return acc
		}
		if len(rest) <= len(prefix) {
			// key is a prefix of (or equal to) the path of n, nothing below is smaller
			return acc
		}
		depth += len(prefix)

		b := key[depth]
		if n.value != nil {
			acc++
		}
		var next *Node
		for pos, ok := n.FirstPos(); ok; pos, ok = n.NextPos(pos) {
			e := n.EdgeByte(pos)
			if e > b {
				break
			}
			if e == b {
				next = n.ChildAt(pos)
				break
			}
			acc += n.ChildAt(pos).count
		}
		n = next
		depth++
	}
	return acc
}

// CountPrefix returns the number of keys starting with prefix
func CountPrefix(n *Node, prefix []byte) int64 {
	depth := 0
	for n != nil {
		if n.kind == KindLeaf {
			if bytes.HasPrefix(n.Key(), prefix) {
				return 1
			}
			return 0
		}
		p := n.Prefix()
		rest := prefix[depth:]
		if len(rest) <= len(p) {
			if bytes.HasPrefix(p, rest) {
				return n.count
			}
			return 0
		}
		if !bytes.HasPrefix(rest, p) {
			return 0
		}
		depth += len(p)
		pos, ok := n.findPos(prefix[depth])
		if !ok {
			return 0
		}
		n = n.ChildAt(pos)
		depth++
	}
	return 0
}

// PathAt appends the path to the key with the given index to frames and
// returns it together with the leaf. The index must be in [0, n.Count()).
func PathAt(n *Node, index int64, frames []Frame) ([]Frame, *Node) {
	for n.kind != KindLeaf {
		if n.value != nil {
			if index == 0 {
				return append(frames, Frame{Node: n, Pos: -1}), n.value
			}
			index--
		}
		var next *Node
		for pos, ok := n.FirstPos(); ok; pos, ok = n.NextPos(pos) {
			c := n.ChildAt(pos)
			if index < c.count {
				frames = append(frames, Frame{Node: n, Pos: pos})
				next = c
				break
			}
			index -= c.count
		}
		if next == nil {
			panic("art: subtree counts are inconsistent")
		}
		n = next
	}
	return frames, n
}

// IndexOf returns the index of the leaf at the end of the path by summing up
// the keys left of every frame
func IndexOf(frames []Frame) int64 {
	var idx int64
	for _, f := range frames {
		idx += f.Node.CountBefore(f.Pos)
	}
	return idx
}

// DescendFirst appends the path to the smallest key below n
func DescendFirst(n *Node, frames []Frame) ([]Frame, *Node) {
	for n.kind != KindLeaf {
		if n.value != nil {
			return append(frames, Frame{Node: n, Pos: -1}), n.value
		}
		pos, _ := n.FirstPos()
		frames = append(frames, Frame{Node: n, Pos: pos})
		n = n.ChildAt(pos)
	}
	return frames, n
}

// DescendLast appends the path to the largest key below n
func DescendLast(n *Node, frames []Frame) ([]Frame, *Node) {
	for n.kind != KindLeaf {
		pos, ok := n.LastPos()
		if !ok {
			return append(frames, Frame{Node: n, Pos: -1}), n.value
		}
		frames = append(frames, Frame{Node: n, Pos: pos})
		n = n.ChildAt(pos)
	}
	return frames, n
}

// Next moves the path to the following key. It returns the new leaf or nil
// (with an empty path) if the path was at the last key.
func Next(frames []Frame) ([]Frame, *Node) {
	for len(frames) > 0 {
		top := &frames[len(frames)-1]
		if pos, ok := top.Node.NextPos(top.Pos); ok {
			top.Pos = pos
			return DescendFirst(top.Node.ChildAt(pos), frames)
		}
		frames = frames[:len(frames)-1]
	}
	return frames, nil
}

// Prev moves the path to the preceding key. It returns the new leaf or nil
// (with an empty path) if the path was at the first key.
func Prev(frames []Frame) ([]Frame, *Node) {
	for len(frames) > 0 {
		top := &frames[len(frames)-1]
		if top.Pos >= 0 {
			if pos, ok := top.Node.PrevPos(top.Pos); ok {
				top.Pos = pos
				return DescendLast(top.Node.ChildAt(pos), frames)
			}
			if top.Node.value != nil {
				top.Pos = -1
				return frames, top.Node.value
			}
		}
		frames = frames[:len(frames)-1]
	}
	return frames, nil
}

// --------------------------------------------------------------------------
// Write operations (path copying)
// --------------------------------------------------------------------------

// Upsert stores value under key in the tree *np. Shared nodes on the path are
// copied, unaffected subtrees stay shared. It returns true if the key was new.
func (a *Arena) Upsert(np **Node, key, value []byte) bool {
	return a.upsert(np, key, value, 0)
}

func (a *Arena) upsert(np **Node, key, value []byte, depth int) bool {
	n := *np
	if n == nil {
		*np = a.newLeaf(key, value)
		return true
	}

	if n.kind == KindLeaf {
		if bytes.Equal(n.Key(), key) {
			a.replaceValue(np, value)
			return false
		}
		*np = a.splitLeaf(n, key, value, depth)
		return true
	}

	prefix := n.Prefix()
	common := commonPrefix(prefix, key[depth:])
	if common < len(prefix) {
		*np = a.splitPrefix(n, common, key, value, depth)
		return true
	}
	depth += len(prefix)

	n = a.Mut(np)
	if depth == len(key) {
		if n.value == nil {
			n.value = a.newLeaf(key, value)
			n.count++
			return true
		}
		a.replaceValue(&n.value, value)
		return false
	}

	pos, ok := n.findPos(key[depth])
	if !ok {
		if n.numChildren == n.kind.capacity() {
			n = a.rebuild(n, n.kind+1)
			*np = n
		}
		n.addChild(key[depth], a.newLeaf(key, value))
		n.count++
		return true
	}

	created := a.upsert(n.childRef(pos), key, value, depth+1)
	if created {
		n.count++
	}
	return created
}

// replaceValue overwrites the value of the leaf *np. An exclusively owned leaf
// with a value of the same size is updated in place.
func (a *Arena) replaceValue(np **Node, value []byte) {
	old := *np
	if old.ref.Load() == 1 && len(old.Value()) == len(value) {
		copy(old.Value(), value)
		return
	}
	*np = a.newLeaf(old.Key(), value)
	a.DecRef(old)
}

// splitLeaf replaces the leaf n (reached at depth) by an inner node holding n
// and a new leaf for key
func (a *Arena) splitLeaf(leaf *Node, key, value []byte, depth int) *Node {
	leafKey := leaf.Key()
	common := commonPrefix(leafKey[depth:], key[depth:])
	inner := a.newInner(Kind4, key[depth:depth+common])
	depth += common

	a.place(inner, leaf, leafKey, depth)
	a.place(inner, a.newLeaf(key, value), key, depth)
	inner.count = 2
	return inner
}

// splitPrefix splits the compressed prefix of n after common bytes
func (a *Arena) splitPrefix(n *Node, common int, key, value []byte, depth int) *Node {
	prefix := n.Prefix()
	inner := a.newInner(Kind4, prefix[:common])
	edge := prefix[common]
	child := a.clone(n, prefix[common+1:])
	count := n.count
	a.DecRef(n)

	inner.addChild(edge, child)
	a.place(inner, a.newLeaf(key, value), key, depth+common)
	inner.count = count + 1
	return inner
}

// place adds leaf to a fresh inner node whose path ends at depth
func (a *Arena) place(inner *Node, leaf *Node, key []byte, depth int) {
	if len(key) == depth {
		inner.value = leaf
		return
	}
	inner.addChild(key[depth], leaf)
}

// EraseRange removes the keys with the indexes first..last (inclusive) from
// the tree *np and returns the number of removed keys. Subtrees that are
// covered completely are dropped without visiting them.
func (a *Arena) EraseRange(np **Node, first, last int64) int64 {
	n := *np
	if n == nil || first > last || last < 0 || first >= n.count {
		return 0
	}
	if first <= 0 && last >= n.count-1 {
		removed := n.count
		*np = nil
		a.DecRef(n)
		return removed
	}

	// a partially covered subtree is always an inner node
	n = a.Mut(np)
	var removed, offset int64
	if n.value != nil {
		if first <= 0 {
			a.DecRef(n.value)
			n.value = nil
			removed++
		}
		offset = 1
	}
	for pos, ok := n.FirstPos(); ok && offset <= last; pos, ok = n.NextPos(pos) {
		c := n.ChildAt(pos).count
		if offset+c > first {
			removed += a.EraseRange(n.childRef(pos), first-offset, last-offset)
		}
		offset += c
	}

	n.count -= removed
	a.compact(np)
	return removed
}

// compact restores the structural invariants of the exclusively owned inner
// node *np after children were removed
func (a *Arena) compact(np **Node) {
	n := *np
	n.dropNilChildren()

	switch {
	case n.numChildren == 0 && n.value == nil:
		*np = nil
		a.free(n)

	case n.numChildren == 0:
		*np = n.value
		a.free(n)

	case n.numChildren == 1 && n.value == nil:
		pos, _ := n.FirstPos()
		edge := n.EdgeByte(pos)
		child := n.ChildAt(pos)
		if child.kind == KindLeaf {
			*np = child
		} else {
			merged := make([]byte, 0, len(n.Prefix())+1+len(child.Prefix()))
			merged = append(merged, n.Prefix()...)
			merged = append(merged, edge)
			merged = append(merged, child.Prefix()...)
			*np = a.clone(child, merged)
			a.DecRef(child)
		}
		a.free(n)

	default:
		if kind := fitKind(n.numChildren); kind < n.kind {
			*np = a.rebuild(n, kind)
		}
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func commonPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
