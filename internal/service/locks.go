package service

import "sync"

// recordLocks serializes pushes touching the same record while letting
// disjoint records proceed concurrently. Entries are reference-counted
// and removed once the last holder releases.
type recordLocks struct {
	mu    sync.Mutex
	locks map[string]*recordLock
}

type recordLock struct {
	mu   sync.Mutex
	refs int
}

func newRecordLocks() *recordLocks {
	return &recordLocks{
		locks: make(map[string]*recordLock),
	}
}

// Acquire blocks until the lock for key is held and returns the release
// function.
func (l *recordLocks) Acquire(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &recordLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
