//go:build !unix

package filelock

import (
	"path/filepath"
	"sync"
)

// Without flock the lock degrades to a mutex keyed by the cleaned path.
// It only excludes goroutines of the same process.
var (
	registryMu sync.Mutex
	registry   = map[string]*sync.RWMutex{}
)

type mutexLocker struct {
	mu   *sync.RWMutex
	mode Mode
	held bool
}

func openLocker(path string) (locker, error) {
	key := filepath.Clean(path)
	registryMu.Lock()
	mu, ok := registry[key]
	if !ok {
		mu = &sync.RWMutex{}
		registry[key] = mu
	}
	registryMu.Unlock()
	return &mutexLocker{mu: mu}, nil
}

func (l *mutexLocker) try(mode Mode) (bool, error) {
	var ok bool
	if mode == Exclusive {
		ok = l.mu.TryLock()
	} else {
		ok = l.mu.TryRLock()
	}
	if ok {
		l.mode = mode
		l.held = true
	}
	return ok, nil
}

func (l *mutexLocker) release() error {
	if !l.held {
		return nil
	}
	if l.mode == Exclusive {
		l.mu.Unlock()
	} else {
		l.mu.RUnlock()
	}
	l.held = false
	return nil
}

func (l *mutexLocker) abandon() {}
