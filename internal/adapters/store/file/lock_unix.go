//go:build !windows

package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/bnema/rotator/internal/domain"
)

const lockFileMode = 0o600

// fileLock is a cross-process advisory lock on a sidecar file next to the
// account store. A crashed holder's flock is released by the kernel, so a
// stale holder cannot deadlock other processes; live contention is bounded by
// the acquisition deadline.
type fileLock struct {
	path    string
	file    *os.File
	maxWait time.Duration
}

func newFileLock(path string, maxWait time.Duration) *fileLock {
	return &fileLock{path: path, maxWait: maxWait}
}

func (l *fileLock) acquire(ctx context.Context) error {
	handle, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, lockFileMode)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = l.maxWait

	try := func() error {
		err := syscall.Flock(int(handle.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == syscall.EWOULDBLOCK {
			return err
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("flock: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(try, backoff.WithContext(policy, ctx)); err != nil {
		_ = handle.Close()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s", domain.ErrStoreLocked, l.path)
	}

	l.file = handle
	return nil
}

func (l *fileLock) release() {
	if l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
