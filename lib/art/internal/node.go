package internal

import (
	"fmt"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Node Kinds
// --------------------------------------------------------------------------

// Kind is the layout class of a node
type Kind uint8

const (
	KindLeaf Kind = iota
	Kind4
	Kind16
	Kind48
	Kind256
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "Leaf"
	case Kind4:
		return "Node4"
	case Kind16:
		return "Node16"
	case Kind48:
		return "Node48"
	case Kind256:
		return "Node256"
	default:
		return "Unknown"
	}
}

// capacity is the maximal number of children of an inner node
func (k Kind) capacity() int {
	switch k {
	case Kind4:
		return 4
	case Kind16:
		return 16
	case Kind48:
		return 48
	case Kind256:
		return 256
	default:
		return 0
	}
}

// indexSize is the number of bytes in front of the prefix that hold the key
// bytes of the children (sorted keys for Node4/16, byte->slot map for Node48)
func (k Kind) indexSize() int {
	switch k {
	case Kind4:
		return 4
	case Kind16:
		return 16
	case Kind48:
		return 256
	default:
		return 0
	}
}

// fitKind returns the smallest inner kind that should hold num children after
// a removal. The thresholds leave some headroom to avoid grow/shrink thrashing.
func fitKind(num int) Kind {
	switch {
	case num <= 3:
		return Kind4
	case num <= 12:
		return Kind16
	case num <= 40:
		return Kind48
	default:
		return Kind256
	}
}

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

// Node is a leaf or an inner node of the tree.
//
// Memory layout of the allocator block (mem):
//   - Leaf:  key || value
//   - Inner: child index (Kind.indexSize bytes) || compressed prefix
//
// Child and value pointers stay in the Go struct so the runtime can trace them.
// A node reachable from more than one tree (ref > 1) is frozen, it is only
// ever replaced by a copy (see Arena.Mut).
type Node struct {
	ref         atomic.Int32
	kind        Kind
	mem         []byte
	keyLen      int   // leaf only: length of the key part of mem
	numChildren int   // inner only
	count       int64 // number of keys in this subtree
	value       *Node // inner only: leaf of the key that ends at this node
	children    []*Node
}

// Kind returns the layout class of the node
func (n *Node) Kind() Kind { return n.kind }

// IsLeaf reports whether the node is a leaf
func (n *Node) IsLeaf() bool { return n.kind == KindLeaf }

// Count returns the number of keys in the subtree of the node
func (n *Node) Count() int64 { return n.count }

// Refs returns the current reference count (for tests and diagnostics)
func (n *Node) Refs() int32 { return n.ref.Load() }

// Key returns the full key of a leaf. The slice aliases node memory.
func (n *Node) Key() []byte { return n.mem[:n.keyLen:n.keyLen] }

// Value returns the value of a leaf. The slice aliases node memory.
func (n *Node) Value() []byte { return n.mem[n.keyLen:] }

// Prefix returns the compressed path of an inner node. The slice aliases node memory.
func (n *Node) Prefix() []byte { return n.mem[n.kind.indexSize():] }

// ValueLeaf returns the leaf of the key ending at this inner node (or nil)
func (n *Node) ValueLeaf() *Node { return n.value }

func (n *Node) String() string {
	if n.kind == KindLeaf {
		return fmt.Sprintf("Leaf{key: %q, value: %d bytes, refs: %d}", n.Key(), len(n.Value()), n.Refs())
	}
	return fmt.Sprintf("%s{prefix: %q, children: %d, count: %d, refs: %d}",
		n.kind, n.Prefix(), n.numChildren, n.count, n.Refs())
}

// --------------------------------------------------------------------------
// Ordered child positions
// --------------------------------------------------------------------------

/*
 A position identifies a child slot in key order. For Node4/16 it is the index
 into the sorted key array, for Node48/256 it is the key byte itself. The value
 leaf of an inner node sorts before all children and uses the position -1.
*/

// FirstPos returns the position of the smallest child
func (n *Node) FirstPos() (int, bool) {
	return n.NextPos(-1)
}

// LastPos returns the position of the largest child
func (n *Node) LastPos() (int, bool) {
	switch n.kind {
	case Kind4, Kind16:
		return n.numChildren - 1, n.numChildren > 0
	case Kind48, Kind256:
		return n.PrevPos(256)
	}
	return 0, false
}

// NextPos returns the position of the next child after pos (-1 = before the first child)
func (n *Node) NextPos(pos int) (int, bool) {
	switch n.kind {
	case Kind4, Kind16:
		if pos+1 < n.numChildren {
			return pos + 1, true
		}
	case Kind48:
		for b := pos + 1; b < 256; b++ {
			if n.mem[b] != 0 {
				return b, true
			}
		}
	case Kind256:
		for b := pos + 1; b < 256; b++ {
			if n.children[b] != nil {
				return b, true
			}
		}
	}
	return 0, false
}

// PrevPos returns the position of the child before pos
func (n *Node) PrevPos(pos int) (int, bool) {
	switch n.kind {
	case Kind4, Kind16:
		if pos > n.numChildren {
			pos = n.numChildren
		}
		if pos-1 >= 0 {
			return pos - 1, true
		}
	case Kind48:
		for b := pos - 1; b >= 0; b-- {
			if n.mem[b] != 0 {
				return b, true
			}
		}
	case Kind256:
		for b := pos - 1; b >= 0; b-- {
			if n.children[b] != nil {
				return b, true
			}
		}
	}
	return 0, false
}

// ChildAt returns the child at position pos
func (n *Node) ChildAt(pos int) *Node {
	return *n.childRef(pos)
}

// EdgeByte returns the key byte leading to the child at position pos
func (n *Node) EdgeByte(pos int) byte {
	switch n.kind {
	case Kind4, Kind16:
		return n.mem[pos]
	default:
		return byte(pos)
	}
}

func (n *Node) childRef(pos int) **Node {
	switch n.kind {
	case Kind48:
		return &n.children[int(n.mem[pos])-1]
	default:
		return &n.children[pos]
	}
}

// findPos returns the position of the child for key byte b
func (n *Node) findPos(b byte) (int, bool) {
	switch n.kind {
	case Kind4, Kind16:
		for i := 0; i < n.numChildren; i++ {
			if n.mem[i] == b {
				return i, true
			}
			if n.mem[i] > b {
				break
			}
		}
	case Kind48:
		if n.mem[b] != 0 {
			return int(b), true
		}
	case Kind256:
		if n.children[b] != nil {
			return int(b), true
		}
	}
	return 0, false
}

// CountBefore returns the number of keys that sort before position pos in this
// node (the value leaf included when pos >= 0)
func (n *Node) CountBefore(pos int) int64 {
	if pos < 0 {
		return 0
	}
	var sum int64
	if n.value != nil {
		sum++
	}
	for p, ok := n.FirstPos(); ok && p < pos; p, ok = n.NextPos(p) {
		sum += n.ChildAt(p).count
	}
	return sum
}

// --------------------------------------------------------------------------
// Child mutation (only on exclusively owned nodes)
// --------------------------------------------------------------------------

// addChild inserts child under key byte b. The node must not be full.
func (n *Node) addChild(b byte, child *Node) {
	switch n.kind {
	case Kind4, Kind16:
		i := 0
		for i < n.numChildren && n.mem[i] < b {
			i++
		}
		copy(n.mem[i+1:n.numChildren+1], n.mem[i:n.numChildren])
		copy(n.children[i+1:n.numChildren+1], n.children[i:n.numChildren])
		n.mem[i] = b
		n.children[i] = child
	case Kind48:
		slot := 0
		for n.children[slot] != nil {
			slot++
		}
		n.children[slot] = child
		n.mem[b] = byte(slot + 1)
	case Kind256:
		n.children[b] = child
	}
	n.numChildren++
}

// dropNilChildren removes all child slots whose pointer was cleared
func (n *Node) dropNilChildren() {
	switch n.kind {
	case Kind4, Kind16:
		j := 0
		for i := 0; i < n.numChildren; i++ {
			if n.children[i] != nil {
				n.mem[j] = n.mem[i]
				n.children[j] = n.children[i]
				j++
			}
		}
		for i := j; i < n.numChildren; i++ {
			n.children[i] = nil
		}
		n.numChildren = j
	case Kind48:
		num := 0
		for b := 0; b < 256; b++ {
			if n.mem[b] == 0 {
				continue
			}
			if n.children[int(n.mem[b])-1] == nil {
				n.mem[b] = 0
				continue
			}
			num++
		}
		n.numChildren = num
	case Kind256:
		num := 0
		for _, c := range n.children {
			if c != nil {
				num++
			}
		}
		n.numChildren = num
	}
}
