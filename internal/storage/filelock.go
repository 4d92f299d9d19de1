package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// LockOptions bounds how long a contended lock is retried before the caller
// gets models.ErrConcurrencyConflict.
type LockOptions struct {
	MaxTries   uint
	MaxElapsed time.Duration
}

// DefaultLockOptions returns the retry budget used when none is configured.
func DefaultLockOptions() LockOptions {
	return LockOptions{MaxTries: 10, MaxElapsed: 5 * time.Second}
}

// lockFile acquires an advisory flock on path. exclusive selects LOCK_EX,
// otherwise LOCK_SH. The lock is requested non-blocking and retried with
// exponential backoff; it returns an unlock function that must be called
// to release the lock.
func lockFile(ctx context.Context, path string, exclusive bool, opts LockOptions) (unlock func() error, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	how := syscall.LOCK_SH
	if exclusive {
		how = syscall.LOCK_EX
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		ferr := syscall.Flock(int(f.Fd()), how|syscall.LOCK_NB)
		if ferr == nil {
			return struct{}{}, nil
		}
		if errors.Is(ferr, syscall.EWOULDBLOCK) || errors.Is(ferr, syscall.EINTR) {
			return struct{}{}, ferr
		}
		return struct{}{}, backoff.Permanent(ferr)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(opts.MaxTries),
		backoff.WithMaxElapsedTime(opts.MaxElapsed),
	)
	if err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquiring file lock %s: %w", path, models.ErrConcurrencyConflict)
		}
		return nil, fmt.Errorf("acquiring file lock: %w", err)
	}

	return func() error {
		defer f.Close()
		return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}, nil
}
