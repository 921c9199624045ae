package common

import "sync"

// KeyLock serialises work per key while letting distinct keys proceed in
// parallel. Entries are reference counted and dropped once unused.
type KeyLock struct {
	mu      sync.Mutex
	entries map[uint64]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{entries: make(map[uint64]*keyLockEntry)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (l *KeyLock) Lock(key uint64) func() {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &keyLockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}

// Len reports how many keys currently hold or wait for the lock.
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
