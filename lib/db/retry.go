package db

import (
	"context"
	"time"

	"github.com/ValentinKolb/artdb/lib/dberr"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy controls how Update retries optimistic conflicts
type RetryPolicy struct {
	MaxRetries uint64        // Retries after the first attempt
	Base       time.Duration // First backoff of the fibonacci sequence
	Cap        time.Duration // Upper bound of a single backoff (0 = unbounded)
}

// DefaultRetryPolicy returns the policy used by Update
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		Base:       time.Millisecond,
		Cap:        100 * time.Millisecond,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewFibonacci(p.Base)
	if p.Cap > 0 {
		b = retry.WithCappedDuration(p.Cap, b)
	}
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// Update runs fn in an optimistic transaction and commits it. When the first
// write of fn or the commit hits ErrTransactionRetry, the whole transaction is
// rolled back and started again on the latest committed state. All other
// errors end the loop. fn must not keep references to tx.
func Update(ctx context.Context, d *DB, fn func(tx *Transaction) error) error {
	return UpdateWithPolicy(ctx, d, DefaultRetryPolicy(), fn)
}

// UpdateWithPolicy is Update with a custom retry policy
func UpdateWithPolicy(ctx context.Context, d *DB, p RetryPolicy, fn func(tx *Transaction) error) error {
	attempt := 0
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			plog.Debugf("retrying update on %q (attempt %d)", d.opts.Name, attempt)
		}

		tx, err := d.StartTransaction()
		if err != nil {
			return err
		}
		defer tx.Close()

		if err := fn(tx); err != nil {
			if dberr.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return tx.Commit()
	})
}

// View runs fn in a read-only transaction
func View(d *DB, fn func(tx *Transaction) error) error {
	tx, err := d.StartReadOnlyTransaction()
	if err != nil {
		return err
	}
	defer tx.Close()
	return fn(tx)
}
