// Package internal implements the adaptive radix tree nodes behind the art
// package.
//
// Nodes come in five layouts (Leaf, Node4, Node16, Node48, Node256) and carry a
// compressed path prefix. A key that ends inside the tree is stored as the value
// leaf of the inner node it ends at and sorts before all children of that node.
// Every node knows the number of keys in its subtree, which turns key ranks into
// a single descent (CountLess, PathAt).
//
// Trees share structure. Each node has an atomic reference count; a node with
// more than one reference is frozen and only ever replaced by a copy along the
// modified path (Arena.Mut). Taking a snapshot of a tree is therefore a single
// IncRef of its top node.
//
// Node metadata (child index and prefix) and leaf contents live in blocks of an
// alloc.Allocator, which makes node lifetime bugs visible to the LeakDetector.
package internal
