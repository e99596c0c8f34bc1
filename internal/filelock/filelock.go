// Package filelock provides named advisory locks scoped to a filesystem resource.
//
// A lock lives in a sidecar file next to the resource it guards, so the resource
// itself can be replaced with an atomic rename while the lock is held. Acquisition
// is bounded: callers decide what to do when the wait expires.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLockUnavailable is returned when a lock could not be obtained within the timeout.
var ErrLockUnavailable = errors.New("lock unavailable")

// Mode selects shared (reader) or exclusive (writer) locking.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

const (
	minBackoff = 2 * time.Millisecond
	maxBackoff = 50 * time.Millisecond
)

// locker is the platform primitive behind a Lock.
type locker interface {
	try(mode Mode) (bool, error)
	release() error
	abandon()
}

// Lock is a held advisory lock. Release it exactly once.
type Lock struct {
	l    locker
	path string
	mode Mode
}

// PathFor returns the sidecar lock path guarding resource.
func PathFor(resource string) string {
	return resource + ".lock"
}

// Acquire takes the lock stored at path in the given mode, waiting at most timeout.
// A non-positive timeout means a single non-blocking attempt.
func Acquire(ctx context.Context, path string, mode Mode, timeout time.Duration) (*Lock, error) {
	l, err := openLocker(path)
	if err != nil {
		return nil, fmt.Errorf("open lock %s: %w", path, err)
	}

	ok, err := l.try(mode)
	if err != nil {
		l.abandon()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if ok {
		return &Lock{l: l, path: path, mode: mode}, nil
	}
	if timeout <= 0 {
		l.abandon()
		return nil, fmt.Errorf("%w: %s held by another writer", ErrLockUnavailable, path)
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := minBackoff
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	for {
		select {
		case <-lockCtx.Done():
			l.abandon()
			return nil, fmt.Errorf("%w after %v: %s: %w", ErrLockUnavailable, timeout, path, lockCtx.Err())
		case <-timer.C:
			ok, err := l.try(mode)
			if err != nil {
				l.abandon()
				return nil, fmt.Errorf("lock %s: %w", path, err)
			}
			if ok {
				return &Lock{l: l, path: path, mode: mode}, nil
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			timer.Reset(backoff)
		}
	}
}

// Path returns the sidecar file backing the lock.
func (l *Lock) Path() string { return l.path }

// Mode returns the mode the lock was acquired in.
func (l *Lock) Mode() Mode { return l.mode }

// Release drops the lock. Nil receivers are ignored so degraded paths can defer it unconditionally.
func (l *Lock) Release() error {
	if l == nil || l.l == nil {
		return nil
	}
	err := l.l.release()
	l.l = nil
	return err
}
