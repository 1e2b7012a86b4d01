package alloc

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrorCode classifies memory safety violations
type ErrorCode int

const (
	ErrCodeCorruptedMemory ErrorCode = iota + 1 // guard band overwritten
	ErrCodeSizeMismatch                         // freed with a different size than allocated
	ErrCodeDoubleFree                           // freed twice or never allocated
	ErrCodeInvalidSize                          // negative size
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeCorruptedMemory:
		return "CorruptedMemory"
	case ErrCodeSizeMismatch:
		return "SizeMismatch"
	case ErrCodeDoubleFree:
		return "DoubleFree"
	case ErrCodeInvalidSize:
		return "InvalidSize"
	default:
		return "Unknown"
	}
}

// Error describes a memory safety violation. It is raised with panic because
// it always indicates a node lifetime bug elsewhere and must not be retried.
type Error struct {
	Code ErrorCode
	Ptr  uintptr
	Size int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("allocator %s at 0x%x (size %d): %s", e.Code, e.Ptr, e.Size, e.Msg)
}

// Is matches errors with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons
var (
	ErrCorruptedMemory = &Error{Code: ErrCodeCorruptedMemory}
	ErrSizeMismatch    = &Error{Code: ErrCodeSizeMismatch}
	ErrDoubleFree      = &Error{Code: ErrCodeDoubleFree}
)

func newError(code ErrorCode, ptr uintptr, size int, msg string) *Error {
	return &Error{Code: code, Ptr: ptr, Size: size, Msg: msg}
}

// addressOf returns the address of the first byte of block, also for empty blocks.
func addressOf(block []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(block)))
}
