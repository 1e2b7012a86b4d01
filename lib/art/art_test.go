package art

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ValentinKolb/artdb/lib/alloc"
	"github.com/ValentinKolb/artdb/lib/dberr"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func newRoot(t *testing.T) (*RootNode, *alloc.LeakDetector) {
	t.Helper()
	d := alloc.NewLeakDetector(nil)
	r := CreateEmpty(d, KeyModeVariable)
	t.Cleanup(func() {
		r.Close()
		if err := d.CheckLeaks(); err != nil {
			t.Errorf("Leak after close: %v", err)
		}
	})
	return r, d
}

func put(t *testing.T, c *Cursor, key, value string) {
	t.Helper()
	if _, err := c.CreateOrUpdateKeyValue([]byte(key), []byte(value)); err != nil {
		t.Fatalf("Failed to write %q: %v", key, err)
	}
}

func keysOf(r *RootNode) []string {
	c := r.CreateCursor()
	defer c.Close()
	var keys []string
	for c.FindNextKey(nil) {
		keys = append(keys, string(c.GetKey(true)))
	}
	return keys
}

// numbered inserts key0..key(n-1) with zero padded numbers
func numbered(t *testing.T, r *RootNode, n int) {
	t.Helper()
	c := r.CreateCursor()
	defer c.Close()
	for i := 0; i < n; i++ {
		put(t, c, fmt.Sprintf("key%02d", i), fmt.Sprintf("value%02d", i))
	}
}

type denyGuard struct{ calls int }

func (g *denyGuard) BeforeWrite() error {
	g.calls++
	return dberr.New(dberr.RetCInvalidOperation, "read only")
}

// --------------------------------------------------------------------------
// RootNode
// --------------------------------------------------------------------------

func TestSnapshotIsolation(t *testing.T) {
	r, _ := newRoot(t)
	c := r.CreateCursor()
	put(t, c, "a", "1")
	put(t, c, "b", "2")

	snap := r.Snapshot()
	defer snap.Close()

	put(t, c, "a", "changed")
	put(t, c, "c", "3")
	if c.Find([]byte("b"), 0) != Exact {
		t.Fatalf("Key b not found")
	}
	if err := c.EraseCurrent(); err != nil {
		t.Fatalf("EraseCurrent failed: %v", err)
	}

	if got := fmt.Sprint(keysOf(snap)); got != "[a b]" {
		t.Errorf("Snapshot keys changed to %s", got)
	}
	sc := snap.CreateCursor()
	if sc.Find([]byte("a"), 0) != Exact || string(sc.GetValue(false)) != "1" {
		t.Errorf("Snapshot value of a changed to %q", sc.GetValue(false))
	}
	if got := fmt.Sprint(keysOf(r)); got != "[a c]" {
		t.Errorf("Unexpected keys %s", got)
	}
	if snap.GetCount() != 2 || r.GetCount() != 2 {
		t.Errorf("Unexpected counts %d and %d", snap.GetCount(), r.GetCount())
	}
}

func TestSelfRevertRejected(t *testing.T) {
	r, _ := newRoot(t)
	snap := r.Snapshot()
	defer snap.Close()

	err := snap.RevertTo(snap)
	if !errors.Is(err, dberr.ErrInvalidOperation) {
		t.Errorf("Expected InvalidOperation, got %v", err)
	}
}

func TestRevertTo(t *testing.T) {
	r, _ := newRoot(t)
	numbered(t, r, 5)
	if err := r.SetUlong(2, 7); err != nil {
		t.Fatal(err)
	}
	snap := r.Snapshot()
	defer snap.Close()

	c := r.CreateCursor()
	if !c.SetKeyIndex(3) {
		t.Fatalf("SetKeyIndex failed")
	}
	numbered(t, r, 8)
	_ = r.SetUlong(2, 9)
	_ = r.SetCommitUlong(11)

	if err := r.RevertTo(snap); err != nil {
		t.Fatalf("RevertTo failed: %v", err)
	}
	if r.GetCount() != 5 || r.GetUlong(2) != 7 || r.CommitUlong() != 0 {
		t.Errorf("Revert did not restore content: count %d, ulong %d, commit %d",
			r.GetCount(), r.GetUlong(2), r.CommitUlong())
	}
	if c.IsValid() {
		t.Errorf("Cursor should be fuzzy after revert")
	}
	if !c.FindNextKey(nil) || string(c.GetKey(false)) != "key04" {
		t.Errorf("Fuzzy cursor should continue after key03, got %q", c.GetKey(false))
	}
}

func TestUlongs(t *testing.T) {
	r, _ := newRoot(t)
	if r.GetUlong(5) != 0 || r.GetUlongCount() != 0 {
		t.Errorf("Unset ulongs must read as 0")
	}
	_ = r.SetUlong(3, 42)
	if r.GetUlongCount() != 4 || r.GetUlong(3) != 42 {
		t.Errorf("Unexpected ulong state %d/%d", r.GetUlongCount(), r.GetUlong(3))
	}
	if err := r.SetUlong(-1, 1); err == nil {
		t.Errorf("Negative index must be rejected")
	}
}

func TestWriteGuard(t *testing.T) {
	r, _ := newRoot(t)
	numbered(t, r, 3)
	g := &denyGuard{}
	r.SetWriteGuard(g)

	c := r.CreateCursor()
	if _, err := c.CreateOrUpdateKeyValue([]byte("x"), nil); !errors.Is(err, dberr.ErrInvalidOperation) {
		t.Errorf("Expected guard error, got %v", err)
	}
	if err := r.SetCommitUlong(1); err == nil {
		t.Errorf("Expected guard error for SetCommitUlong")
	}
	c.SetKeyIndex(0)
	if err := c.EraseCurrent(); err == nil {
		t.Errorf("Expected guard error for EraseCurrent")
	}
	if r.GetCount() != 3 || g.calls != 3 {
		t.Errorf("Guard should have blocked all writes: count %d, calls %d", r.GetCount(), g.calls)
	}
	if !c.IsValid() {
		t.Errorf("A rejected write must not move the cursor")
	}
}

func TestFixed12KeyMode(t *testing.T) {
	d := alloc.NewLeakDetector(nil)
	r := CreateEmpty(d, KeyModeFixed12)
	c := r.CreateCursor()

	if _, err := c.CreateOrUpdateKeyValue([]byte("k"), []byte("short")); !errors.Is(err, dberr.ErrInvalidValue) {
		t.Errorf("Expected InvalidValue, got %v", err)
	}
	if _, err := c.CreateOrUpdateKeyValue([]byte("k"), []byte("0123456789ab")); err != nil {
		t.Errorf("12 byte value rejected: %v", err)
	}
	r.Close()
	if err := d.CheckLeaks(); err != nil {
		t.Errorf("Leak after close: %v", err)
	}
}

// --------------------------------------------------------------------------
// Cursor
// --------------------------------------------------------------------------

func TestIndexRoundTrip(t *testing.T) {
	r, _ := newRoot(t)
	numbered(t, r, 60)

	c := r.CreateCursor()
	for i := int64(0); i < r.GetCount(); i++ {
		if !c.SetKeyIndex(i) {
			t.Fatalf("SetKeyIndex(%d) failed", i)
		}
		if got := c.GetKeyIndex(); got != i {
			t.Errorf("GetKeyIndex after SetKeyIndex(%d) = %d", i, got)
		}
		if want := fmt.Sprintf("key%02d", i); string(c.GetKey(false)) != want {
			t.Errorf("Key at %d is %q, expected %q", i, c.GetKey(false), want)
		}
	}
	if c.SetKeyIndex(60) || c.IsValid() {
		t.Errorf("Out of range index must invalidate the cursor")
	}

	// index computed from the node path after plain navigation
	c.FindFirstKey([]byte("key1"))
	for i := int64(10); c.FindNextKey(nil) && i < 30; i++ {
		c.index = -1
		if got := c.GetKeyIndex(); got != i+1 {
			t.Fatalf("Computed index %d, expected %d", got, i+1)
		}
	}
}

func TestPrefixNavigation(t *testing.T) {
	r, _ := newRoot(t)
	c := r.CreateCursor()
	for _, k := range []string{"ab1", "ab2", "ac1"} {
		put(t, c, k, "")
	}
	c.Invalidate()

	prefix := []byte("ab")
	if !c.FindFirstKey(prefix) || string(c.GetKey(false)) != "ab1" {
		t.Fatalf("FindFirstKey(ab) should land on ab1, got %q", c.GetKey(false))
	}
	if !c.FindNextKey(prefix) || string(c.GetKey(false)) != "ab2" {
		t.Fatalf("FindNextKey(ab) should land on ab2, got %q", c.GetKey(false))
	}
	if c.FindNextKey(prefix) {
		t.Errorf("FindNextKey(ab) must not leak into %q", c.GetKey(false))
	}

	if !c.FindLastKey(prefix) || string(c.GetKey(false)) != "ab2" {
		t.Errorf("FindLastKey(ab) should land on ab2, got %q", c.GetKey(false))
	}
	if !c.FindPreviousKey(prefix) || !c.IsValid() || c.FindPreviousKey(prefix) {
		t.Errorf("Backward scan over ab should yield exactly two keys")
	}
	if c.FindFirstKey([]byte("b")) {
		t.Errorf("No key starts with b")
	}
	if n := c.CountPrefix([]byte("a")); n != 3 {
		t.Errorf("CountPrefix(a) = %d", n)
	}
	if !c.FindKeyIndex([]byte("ac"), 0) || string(c.GetKey(false)) != "ac1" {
		t.Errorf("FindKeyIndex(ac, 0) failed")
	}
	if c.FindKeyIndex(prefix, 2) {
		t.Errorf("FindKeyIndex beyond the prefix range must fail")
	}
	c.FindLastKey(prefix)
	if got := c.KeyIndexWithin(prefix); got != 1 {
		t.Errorf("KeyIndexWithin(ab) = %d", got)
	}
}

func TestFind(t *testing.T) {
	r, _ := newRoot(t)
	c := r.CreateCursor()
	for _, k := range []string{"aa", "ab", "ba"} {
		put(t, c, k, "v"+k)
	}

	cases := []struct {
		key       string
		prefixLen int
		want      FindResult
		at        string
	}{
		{"ab", 0, Exact, "ab"},
		{"ac", 0, Previous, "ab"},
		{"ac", 1, Previous, "ab"},
		{"a", 0, Next, "aa"},
		{"b", 1, Next, "ba"},
		{"bz", 2, NotFound, ""},
		{"c", 1, NotFound, ""},
		{"c", 0, Previous, "ba"},
	}
	for _, tc := range cases {
		got := c.Find([]byte(tc.key), tc.prefixLen)
		if got != tc.want {
			t.Errorf("Find(%q, %d) = %v, expected %v", tc.key, tc.prefixLen, got, tc.want)
			continue
		}
		if string(c.GetKey(false)) != tc.at {
			t.Errorf("Find(%q, %d) positioned at %q, expected %q", tc.key, tc.prefixLen, c.GetKey(false), tc.at)
		}
	}
}

func TestCursorCoherenceOnErase(t *testing.T) {
	r, _ := newRoot(t)
	numbered(t, r, 10)

	a, b, e := r.CreateCursor(), r.CreateCursor(), r.CreateCursor()
	a.SetKeyIndex(2)
	b.SetKeyIndex(5)
	e.SetKeyIndex(3)

	if err := e.EraseCurrent(); err != nil {
		t.Fatalf("EraseCurrent failed: %v", err)
	}
	if a.GetKeyIndex() != 2 || string(a.GetKey(false)) != "key02" {
		t.Errorf("Cursor before the erased key moved: %d %q", a.GetKeyIndex(), a.GetKey(false))
	}
	if b.GetKeyIndex() != 4 || string(b.GetKey(false)) != "key05" {
		t.Errorf("Cursor after the erased key should be shifted to 4 on key05: %d %q",
			b.GetKeyIndex(), b.GetKey(false))
	}
	if e.IsValid() || e.GetKeyIndex() != -1 {
		t.Errorf("Erasing cursor should be fuzzy")
	}
	if !e.FindNextKey(nil) || string(e.GetKey(false)) != "key04" {
		t.Errorf("Fuzzy cursor should continue with key04, got %q", e.GetKey(false))
	}
	if !e.FindPreviousKey(nil) || string(e.GetKey(false)) != "key02" {
		t.Errorf("Backward navigation should skip the erased key, got %q", e.GetKey(false))
	}
}

func TestCursorCoherenceOnInsert(t *testing.T) {
	r, _ := newRoot(t)
	numbered(t, r, 10)

	a, b, w := r.CreateCursor(), r.CreateCursor(), r.CreateCursor()
	a.SetKeyIndex(2)
	b.SetKeyIndex(5)

	put(t, w, "key03a", "new")
	if a.GetKeyIndex() != 2 || string(a.GetKey(false)) != "key02" {
		t.Errorf("Cursor before the insert moved: %d %q", a.GetKeyIndex(), a.GetKey(false))
	}
	if b.GetKeyIndex() != 6 || string(b.GetKey(false)) != "key05" {
		t.Errorf("Cursor after the insert should be shifted to 6: %d %q", b.GetKeyIndex(), b.GetKey(false))
	}
	if w.GetKeyIndex() != 4 || string(w.GetKey(false)) != "key03a" {
		t.Errorf("Writing cursor should be on the new key: %d %q", w.GetKeyIndex(), w.GetKey(false))
	}

	// overwriting does not shift anything
	put(t, w, "key00", "changed")
	if b.GetKeyIndex() != 6 || string(b.GetValue(false)) != "value05" {
		t.Errorf("Update must not shift other cursors: %d %q", b.GetKeyIndex(), b.GetValue(false))
	}
	if err := b.SetValue([]byte("other")); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if string(b.GetKey(false)) != "key05" || string(b.GetValue(false)) != "other" {
		t.Errorf("SetValue changed position: %q=%q", b.GetKey(false), b.GetValue(false))
	}
}

func TestEraseUpTo(t *testing.T) {
	r, _ := newRoot(t)
	numbered(t, r, 20)

	from, to, watch := r.CreateCursor(), r.CreateCursor(), r.CreateCursor()
	from.SetKeyIndex(5)
	to.SetKeyIndex(14)
	watch.SetKeyIndex(17)

	if n, err := to.EraseUpTo(from); err != nil || n != 0 {
		t.Errorf("Reversed range should erase nothing, got %d (%v)", n, err)
	}
	n, err := from.EraseUpTo(to)
	if err != nil || n != 10 {
		t.Fatalf("Expected 10 erased keys, got %d (%v)", n, err)
	}
	if r.GetCount() != 10 {
		t.Errorf("Expected 10 remaining keys, got %d", r.GetCount())
	}
	if from.IsValid() || to.IsValid() {
		t.Errorf("Both range cursors should be fuzzy")
	}
	if watch.GetKeyIndex() != 7 || string(watch.GetKey(false)) != "key17" {
		t.Errorf("Cursor behind the range should be at 7: %d %q", watch.GetKeyIndex(), watch.GetKey(false))
	}
	if !from.FindNextKey(nil) || string(from.GetKey(false)) != "key15" {
		t.Errorf("Fuzzy cursor should continue with key15, got %q", from.GetKey(false))
	}
	if !to.FindPreviousKey(nil) || string(to.GetKey(false)) != "key04" {
		t.Errorf("Fuzzy cursor should go back to key04, got %q", to.GetKey(false))
	}
}

func TestUnpositionedNavigation(t *testing.T) {
	r, _ := newRoot(t)
	numbered(t, r, 3)
	c := r.CreateCursor()
	if c.IsValid() || c.GetKeyIndex() != -1 || c.GetKey(false) != nil {
		t.Errorf("New cursor must be unpositioned")
	}
	if !c.FindPreviousKey(nil) || string(c.GetKey(false)) != "key02" {
		t.Errorf("FindPreviousKey on a new cursor should land on the last key")
	}
	if c.FindNextKey(nil) || c.IsValid() {
		t.Errorf("Moving past the last key must invalidate the cursor")
	}
	if !c.FindNextKey(nil) || string(c.GetKey(false)) != "key00" {
		t.Errorf("FindNextKey on an unpositioned cursor should land on the first key")
	}
}

func TestCloseRootDetachesCursors(t *testing.T) {
	d := alloc.NewLeakDetector(nil)
	r := CreateEmpty(d, KeyModeVariable)
	numbered(t, r, 4)
	c := r.CreateCursor()
	c.SetKeyIndex(1)

	r.Close()
	r.Close()
	if c.IsValid() || c.FindFirstKey(nil) {
		t.Errorf("Cursor of a closed root must be unusable")
	}
	if _, err := c.CreateOrUpdateKeyValue([]byte("x"), nil); err == nil {
		t.Errorf("Write through a detached cursor must fail")
	}
	c.Close()
	if err := d.CheckLeaks(); err != nil {
		t.Errorf("Leak after close: %v", err)
	}
}

func TestCursorOfClosedRootIsDetached(t *testing.T) {
	d := alloc.NewLeakDetector(nil)
	r := CreateEmpty(d, KeyModeVariable)
	numbered(t, r, 2)
	r.Close()

	c := r.CreateCursor()
	if c.root != nil || r.cursors != nil {
		t.Errorf("Cursor of a closed root must not be linked")
	}
	if c.IsValid() || c.FindFirstKey(nil) {
		t.Errorf("Cursor of a closed root must be unusable")
	}
	if _, err := c.CreateOrUpdateKeyValue([]byte("x"), nil); err == nil {
		t.Errorf("Write through a detached cursor must fail")
	}
	c.Close()
	if err := d.CheckLeaks(); err != nil {
		t.Errorf("Leak after close: %v", err)
	}
}

func TestManySnapshotsReleaseEverything(t *testing.T) {
	d := alloc.NewLeakDetector(nil)
	r := CreateEmpty(d, KeyModeVariable)
	c := r.CreateCursor()

	var snaps []*RootNode
	for i := 0; i < 30; i++ {
		put(t, c, fmt.Sprintf("k%03d", i*7%30), fmt.Sprint(i))
		if i%3 == 0 {
			c.SetKeyIndex(0)
			_ = c.EraseCurrent()
		}
		snaps = append(snaps, r.Snapshot())
	}
	// release in a mixed order
	for i := 0; i < len(snaps); i += 2 {
		snaps[i].Close()
	}
	r.Close()
	for i := 1; i < len(snaps); i += 2 {
		snaps[i].Close()
	}
	if err := d.CheckLeaks(); err != nil {
		t.Errorf("Leak after releasing all snapshots: %v", err)
	}
	if s := d.GetStats(); s.InUseCount() != 0 {
		t.Errorf("Expected balanced stats, got %v", s)
	}
}
