// Package art provides the transactional wrapper around the adaptive radix tree:
// versioned roots with copy-on-write snapshots and cursors that stay coherent
// while the tree changes underneath them.
//
// Key Components:
//
//   - RootNode: one handle to a tree plus its auxiliary values (transaction id,
//     commit ulong, ulong slots). Snapshot forks a root in O(1) by sharing all
//     nodes; RevertTo throws away the content of a root in favour of another
//     one. Closing a root releases its references, nodes nobody else refers to
//     go back to the allocator.
//
//   - Cursor: ordered navigation (first/last/next/previous within a prefix),
//     exact and nearest lookups, rank based seeking (SetKeyIndex, FindKeyIndex,
//     GetKeyIndex) and point or range mutation.
//
// Cursor Coherence:
//
// All cursors of a root are kept in a linked list. Before the tree changes,
// every positioned cursor records its key and index and drops its node path.
// After the change the recorded indexes are shifted: an insert in front of a
// cursor moves it by one, an erase in front of it by the number of removed keys,
// and a cursor whose key was erased becomes fuzzy. A fuzzy cursor has no key,
// but FindNextKey and FindPreviousKey continue from its former position. The
// node path is rebuilt lazily and verified against the recorded key, so a
// cursor never silently points at another key.
//
// Writes are announced to an optional WriteGuard first, which is how a database
// transaction claims the single write slot on its first mutation.
//
// Thread-safety: a root and its cursors are used by one goroutine at a time.
// Roots that share nodes may live on different goroutines.
package art
