package internal

import (
	"github.com/ValentinKolb/artdb/lib/alloc"
)

// Arena allocates and frees the nodes of all trees that share one allocator.
// Node memory is returned to the allocator when the last reference is dropped.
//
// Thread-safety: reference counting is atomic, so trees sharing nodes may be
// released concurrently. Mutating operations must only be called by the single
// owner of the tree that is modified.
type Arena struct {
	alloc alloc.Allocator
}

// NewArena creates an arena on top of the given allocator
func NewArena(a alloc.Allocator) *Arena {
	return &Arena{alloc: a}
}

// Allocator returns the allocator of the arena
func (a *Arena) Allocator() alloc.Allocator { return a.alloc }

// --------------------------------------------------------------------------
// Construction
// --------------------------------------------------------------------------

func (a *Arena) newLeaf(key, value []byte) *Node {
	n := &Node{
		kind:   KindLeaf,
		mem:    a.alloc.Allocate(len(key) + len(value)),
		keyLen: len(key),
		count:  1,
	}
	copy(n.mem, key)
	copy(n.mem[len(key):], value)
	n.ref.Store(1)
	return n
}

func (a *Arena) newInner(kind Kind, prefix []byte) *Node {
	idx := kind.indexSize()
	n := &Node{
		kind:     kind,
		mem:      a.alloc.Allocate(idx + len(prefix)),
		children: make([]*Node, kind.capacity()),
	}
	// the allocator does not guarantee zeroed memory
	clear(n.mem[:idx])
	copy(n.mem[idx:], prefix)
	n.ref.Store(1)
	return n
}

// free returns the block of n to the allocator without touching children
func (a *Arena) free(n *Node) {
	a.alloc.Deallocate(n.mem, len(n.mem))
	n.mem = nil
	n.value = nil
	n.children = nil
}

// --------------------------------------------------------------------------
// Reference counting
// --------------------------------------------------------------------------

// IncRef adds a reference to n (nil is ignored)
func (a *Arena) IncRef(n *Node) {
	if n != nil {
		n.ref.Add(1)
	}
}

// DecRef drops a reference to n. When the last reference is gone, the node
// releases its children and returns its memory to the allocator.
func (a *Arena) DecRef(n *Node) {
	if n == nil {
		return
	}
	if n.ref.Add(-1) > 0 {
		// Other references remain. Can't free.
		return
	}
	if n.kind != KindLeaf {
		a.DecRef(n.value)
		for _, c := range n.children {
			if c != nil {
				a.DecRef(c)
			}
		}
	}
	a.free(n)
}

// clone copies n into a new exclusively owned node with the given prefix.
// Children and the value leaf gain one reference each.
func (a *Arena) clone(n *Node, prefix []byte) *Node {
	if n.kind == KindLeaf {
		return a.newLeaf(n.Key(), n.Value())
	}
	c := a.newInner(n.kind, prefix)
	copy(c.mem, n.mem[:n.kind.indexSize()])
	copy(c.children, n.children)
	c.numChildren = n.numChildren
	c.count = n.count
	c.value = n.value
	a.IncRef(c.value)
	for _, child := range c.children {
		a.IncRef(child)
	}
	return c
}

// Mut makes *np exclusively owned and returns it. A shared node is replaced by
// a copy and the reference to the original is dropped (path copying).
func (a *Arena) Mut(np **Node) *Node {
	n := *np
	if n.ref.Load() == 1 {
		// Exclusive ownership. Can mutate in place.
		return n
	}
	var c *Node
	if n.kind == KindLeaf {
		c = a.clone(n, nil)
	} else {
		c = a.clone(n, n.Prefix())
	}
	/*
	 We just observed a reference count > 1 but might race with a concurrent
	 DecRef from another tree, so the original is released with a full DecRef.
	*/
	a.DecRef(n)
	*np = c
	return c
}

// rebuild moves the content of the exclusively owned node n into a new node of
// another kind and frees n. Children are transferred, not re-referenced.
func (a *Arena) rebuild(n *Node, kind Kind) *Node {
	c := a.newInner(kind, n.Prefix())
	c.count = n.count
	c.value = n.value
	for pos, ok := n.FirstPos(); ok; pos, ok = n.NextPos(pos) {
		c.addChild(n.EdgeByte(pos), n.ChildAt(pos))
	}
	a.free(n)
	return c
}
