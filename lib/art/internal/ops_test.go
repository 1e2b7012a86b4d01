package internal

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/ValentinKolb/artdb/lib/alloc"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// collect returns all keys of the tree in order by walking the path helpers
func collect(n *Node) []string {
	var keys []string
	if n == nil {
		return keys
	}
	frames, leaf := DescendFirst(n, nil)
	for leaf != nil {
		keys = append(keys, string(leaf.Key()))
		frames, leaf = Next(frames)
	}
	return keys
}

// checkCounts verifies the subtree counts and the node size invariants
func checkCounts(t *testing.T, n *Node) int64 {
	t.Helper()
	if n.IsLeaf() {
		return 1
	}
	var sum int64
	if n.value != nil {
		sum++
	}
	num := 0
	for pos, ok := n.FirstPos(); ok; pos, ok = n.NextPos(pos) {
		sum += checkCounts(t, n.ChildAt(pos))
		num++
	}
	if num != n.numChildren {
		t.Errorf("%v: numChildren %d but %d children found", n, n.numChildren, num)
	}
	if num == 0 || (num == 1 && n.value == nil) {
		t.Errorf("%v: inner node should have been collapsed", n)
	}
	if sum != n.count {
		t.Errorf("%v: count %d but %d keys below", n, n.count, sum)
	}
	return sum
}

func newTestArena() (*Arena, *alloc.LeakDetector) {
	d := alloc.NewLeakDetector(nil)
	return NewArena(d), d
}

func insertAll(a *Arena, root **Node, keys []string) {
	for _, k := range keys {
		a.Upsert(root, []byte(k), []byte("v:"+k))
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestUpsertAndFind(t *testing.T) {
	a, d := newTestArena()
	var root *Node

	keys := []string{"", "a", "ab", "abc", "abd", "b", "ba", "zzzz", "zzzy"}
	for _, k := range keys {
		if !a.Upsert(&root, []byte(k), []byte("v:"+k)) {
			t.Errorf("Key %q should be new", k)
		}
	}
	if root.Count() != int64(len(keys)) {
		t.Fatalf("Expected %d keys, got %d", len(keys), root.Count())
	}
	checkCounts(t, root)

	for _, k := range keys {
		leaf := Find(root, []byte(k))
		if leaf == nil {
			t.Errorf("Key %q not found", k)
			continue
		}
		if string(leaf.Value()) != "v:"+k {
			t.Errorf("Key %q has value %q", k, leaf.Value())
		}
	}
	for _, k := range []string{"abe", "zz", "c", "abcd"} {
		if Find(root, []byte(k)) != nil {
			t.Errorf("Key %q should not exist", k)
		}
	}

	// overwrite with same and different length
	if a.Upsert(&root, []byte("ab"), []byte("v:XY")) {
		t.Errorf("Overwrite must not report a new key")
	}
	a.Upsert(&root, []byte("abc"), []byte("longer value"))
	if v := Find(root, []byte("ab")).Value(); string(v) != "v:XY" {
		t.Errorf("Unexpected value %q", v)
	}
	if v := Find(root, []byte("abc")).Value(); string(v) != "longer value" {
		t.Errorf("Unexpected value %q", v)
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	if got := collect(root); fmt.Sprint(got) != fmt.Sprint(sorted) {
		t.Errorf("Iteration order %v, expected %v", got, sorted)
	}

	a.DecRef(root)
	if err := d.CheckLeaks(); err != nil {
		t.Errorf("Leak after release: %v", err)
	}
}

func TestNodeGrowthAndShrink(t *testing.T) {
	a, d := newTestArena()
	var root *Node

	// 256 distinct first bytes force every node kind
	var keys []string
	for b := 0; b < 256; b++ {
		keys = append(keys, string([]byte{'p', byte(b)}))
	}
	insertAll(a, &root, keys)
	if root.Kind() != Kind256 {
		t.Fatalf("Expected Node256 at the top, got %v", root.Kind())
	}
	checkCounts(t, root)

	// remove from the back until one key is left, passing every shrink threshold
	for i := 255; i > 0; i-- {
		if removed := a.EraseRange(&root, int64(i), int64(i)); removed != 1 {
			t.Fatalf("Expected 1 removed key, got %d", removed)
		}
		if root.Count() != int64(i) {
			t.Fatalf("Expected %d keys, got %d", i, root.Count())
		}
		if i > 1 {
			checkCounts(t, root)
			if want := fitKind(i); root.Kind() > want && root.Kind() != Kind256 {
				t.Fatalf("%d children should fit %v, got %v", i, want, root.Kind())
			}
		}
	}
	if !root.IsLeaf() || string(root.Key()) != "p\x00" {
		t.Errorf("Expected single leaf p\\x00, got %v", root)
	}

	a.DecRef(root)
	if err := d.CheckLeaks(); err != nil {
		t.Errorf("Leak after release: %v", err)
	}
}

func TestRanks(t *testing.T) {
	a, d := newTestArena()
	var root *Node

	keys := []string{"a", "ab", "ab1", "ab2", "ac", "b", "ba", "bab", "c"}
	insertAll(a, &root, keys)

	for i, k := range keys {
		if got := CountLess(root, []byte(k)); got != int64(i) {
			t.Errorf("CountLess(%q) = %d, expected %d", k, got, i)
		}
		frames, leaf := PathAt(root, int64(i), nil)
		if string(leaf.Key()) != k {
			t.Errorf("PathAt(%d) = %q, expected %q", i, leaf.Key(), k)
		}
		if idx := IndexOf(frames); idx != int64(i) {
			t.Errorf("IndexOf(PathAt(%d)) = %d", i, idx)
		}
	}

	cases := []struct {
		key  string
		less int64
	}{
		{"", 0}, {"aa", 1}, {"ab0", 2}, {"ab3", 4}, {"abz", 4}, {"bb", 8}, {"d", 9},
	}
	for _, c := range cases {
		if got := CountLess(root, []byte(c.key)); got != c.less {
			t.Errorf("CountLess(%q) = %d, expected %d", c.key, got, c.less)
		}
	}

	prefixes := map[string]int64{"": 9, "a": 5, "ab": 3, "ab1": 1, "b": 3, "ba": 2, "x": 0, "abc": 0}
	for p, want := range prefixes {
		if got := CountPrefix(root, []byte(p)); got != want {
			t.Errorf("CountPrefix(%q) = %d, expected %d", p, got, want)
		}
	}

	a.DecRef(root)
	if err := d.CheckLeaks(); err != nil {
		t.Errorf("Leak after release: %v", err)
	}
}

func TestPrevWalk(t *testing.T) {
	a, d := newTestArena()
	var root *Node
	keys := []string{"", "x", "xa", "xab", "xb", "y"}
	insertAll(a, &root, keys)

	frames, leaf := DescendLast(root, nil)
	var got []string
	for leaf != nil {
		got = append(got, string(leaf.Key()))
		frames, leaf = Prev(frames)
	}
	want := []string{"y", "xb", "xab", "xa", "x", ""}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Reverse order %q, expected %q", got, want)
	}

	a.DecRef(root)
	if err := d.CheckLeaks(); err != nil {
		t.Errorf("Leak after release: %v", err)
	}
}

func TestSharedTreesAreIsolated(t *testing.T) {
	a, d := newTestArena()
	var root *Node
	insertAll(a, &root, []string{"k1", "k2", "k3", "other"})

	snap := root
	a.IncRef(snap)

	a.Upsert(&root, []byte("k2"), []byte("changed"))
	a.Upsert(&root, []byte("k4"), []byte("new"))
	a.EraseRange(&root, 0, 0)

	if got := collect(snap); fmt.Sprint(got) != "[k1 k2 k3 other]" {
		t.Errorf("Snapshot changed: %v", got)
	}
	if v := Find(snap, []byte("k2")).Value(); string(v) != "v:k2" {
		t.Errorf("Snapshot value changed to %q", v)
	}
	if got := collect(root); fmt.Sprint(got) != "[k2 k3 k4 other]" {
		t.Errorf("Unexpected keys after mutation: %v", got)
	}

	a.DecRef(snap)
	if got := collect(root); fmt.Sprint(got) != "[k2 k3 k4 other]" {
		t.Errorf("Releasing the snapshot changed the tree: %v", got)
	}
	a.DecRef(root)
	if err := d.CheckLeaks(); err != nil {
		t.Errorf("Leak after release: %v", err)
	}
}

func TestEraseRangeRandomized(t *testing.T) {
	a, d := newTestArena()
	r := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		var root *Node
		set := map[string]bool{}
		for i := 0; i < 200; i++ {
			k := make([]byte, 1+r.Intn(4))
			for j := range k {
				k[j] = byte('a' + r.Intn(4))
			}
			set[string(k)] = true
			a.Upsert(&root, k, k)
		}
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		snap := root
		a.IncRef(snap)

		first := int64(r.Intn(len(keys)))
		last := first + int64(r.Intn(len(keys)-int(first)))
		removed := a.EraseRange(&root, first, last)
		if removed != last-first+1 {
			t.Fatalf("Removed %d keys, expected %d", removed, last-first+1)
		}
		want := append(append([]string(nil), keys[:first]...), keys[last+1:]...)
		if got := collect(root); fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("Round %d: got %v, expected %v", round, got, want)
		}
		if root != nil {
			if root.Count() != int64(len(want)) {
				t.Fatalf("Count %d, expected %d", root.Count(), len(want))
			}
			if !root.IsLeaf() {
				checkCounts(t, root)
			}
		}
		if got := collect(snap); fmt.Sprint(got) != fmt.Sprint(keys) {
			t.Fatalf("Round %d: snapshot changed", round)
		}
		for _, k := range want {
			if l := Find(root, []byte(k)); l == nil || !bytes.Equal(l.Value(), []byte(k)) {
				t.Fatalf("Key %q lost", k)
			}
		}

		a.DecRef(snap)
		a.DecRef(root)
	}
	if err := d.CheckLeaks(); err != nil {
		t.Errorf("Leak after release: %v", err)
	}
}
