package dberr

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Operation executed successfully.
	RetCTransactionRetry                // 1: Optimistic conflict, the whole transaction should be retried.
	RetCInvalidOperation                // 2: Protocol misuse by the caller.
	RetCDataFormat                      // 3: Malformed export/import stream.
	RetCClosed                          // 4: The database or transaction is already closed.
	RetCInvalidValue                    // 5: The value does not fit the key mode of the tree.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCTransactionRetry:
		return "TransactionRetry"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCDataFormat:
		return "DataFormat"
	case RetCClosed:
		return "Closed"
	case RetCInvalidValue:
		return "InvalidValue"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a return code (of type RetCode) and an error message.
// Two errors are considered equal by errors.Is when their codes match, so
// callers can compare against the sentinels below regardless of the message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("artdb error (code %s)", e.Code)
	}
	return fmt.Sprintf("artdb error (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target carries the same return code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a new Error with the given code and message.
func New(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code RetCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Sentinels for errors.Is comparisons
var (
	ErrTransactionRetry = &Error{Code: RetCTransactionRetry}
	ErrInvalidOperation = &Error{Code: RetCInvalidOperation}
	ErrDataFormat       = &Error{Code: RetCDataFormat}
	ErrClosed           = &Error{Code: RetCClosed}
	ErrInvalidValue     = &Error{Code: RetCInvalidValue}
)

// IsRetryable reports whether err signals an optimistic conflict.
// Only this kind of error is meant to be caught by a retry loop.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionRetry)
}
