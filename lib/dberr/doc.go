// Package dberr defines the error taxonomy shared by the artdb packages.
//
// Every recoverable or caller-visible failure is an *Error carrying a RetCode:
//   - RetCTransactionRetry: optimistic concurrency conflict, retry the whole transaction
//   - RetCInvalidOperation: protocol misuse (self revert, double commit, write after close, ...)
//   - RetCDataFormat: malformed export/import stream
//   - RetCClosed: the database or transaction has been closed
//   - RetCInvalidValue: a value that does not fit the key mode of the tree
//
// Memory safety violations detected by the allocator are not part of this
// taxonomy; they panic (see package alloc).
package dberr
