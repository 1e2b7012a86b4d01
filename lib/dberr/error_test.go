package dberr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesCode(t *testing.T) {
	err := Newf(RetCTransactionRetry, "root %d is stale", 3)

	if !errors.Is(err, ErrTransactionRetry) {
		t.Errorf("Expected %v to match ErrTransactionRetry", err)
	}
	if errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Expected %v not to match ErrInvalidOperation", err)
	}

	wrapped := fmt.Errorf("commit: %w", err)
	if !IsRetryable(wrapped) {
		t.Errorf("Expected wrapped error to be retryable")
	}
	if IsRetryable(New(RetCDataFormat, "bad magic")) {
		t.Errorf("Data format errors must not be retryable")
	}
	if IsRetryable(nil) {
		t.Errorf("nil must not be retryable")
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(RetCInvalidOperation, "self revert")
	if got := err.Error(); got != "artdb error (code InvalidOperation): self revert" {
		t.Errorf("Unexpected message %q", got)
	}
	if got := ErrClosed.Error(); got != "artdb error (code Closed)" {
		t.Errorf("Unexpected message %q", got)
	}
}
