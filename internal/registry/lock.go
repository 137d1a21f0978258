package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrLockTimeout = errors.New("timed out waiting for the registry lock")

// LockTimeout bounds how long AcquireLock waits for another holder. A stop
// holds the lock while the container shuts down, so this must exceed the
// stop grace period.
var LockTimeout = 2 * time.Minute

type UnlockFn func() error

// AcquireLock takes an exclusive flock on lockPath, polling until it is free
// or LockTimeout passes. flock is per open file, so a second AcquireLock in
// the same process waits like any other holder would.
func AcquireLock(lockPath string) (UnlockFn, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	fd := int(f.Fd())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = LockTimeout

	err = backoff.Retry(func() error {
		err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB)
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINTR) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, b)
	if err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, lockPath)
		}
		return nil, fmt.Errorf("acquire registry lock: %w", err)
	}

	return func() error {
		unlockErr := syscall.Flock(fd, syscall.LOCK_UN)
		closeErr := f.Close()
		if unlockErr != nil {
			return fmt.Errorf("release registry lock: %w", unlockErr)
		}
		if closeErr != nil {
			return fmt.Errorf("close lock file: %w", closeErr)
		}
		return nil
	}, nil
}
