package tools

import (
	"sync"
)

// KeyedMutex hands out one mutex per key. The dispatcher uses it to make sure
// no two delivery attempts for the same message id run concurrently.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu       sync.Mutex
	refCount int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*lockEntry),
	}
}

func (km *KeyedMutex) Locked(key string) bool {
	km.mu.Lock()
	defer km.mu.Unlock()
	le, exists := km.locks[key]
	return exists && le.refCount > 0
}

// TryLock acquires the lock for key if no one holds it, reporting whether it
// was acquired.
func (km *KeyedMutex) TryLock(key string) bool {
	km.mu.Lock()
	defer km.mu.Unlock()
	le, exists := km.locks[key]
	if exists && le.refCount > 0 {
		return false
	}
	if !exists {
		le = &lockEntry{}
		km.locks[key] = le
	}
	le.refCount++
	le.mu.Lock()
	return true
}

func (km *KeyedMutex) Lock(key string) {
	km.mu.Lock()
	le, exists := km.locks[key]
	if !exists {
		le = &lockEntry{}
		km.locks[key] = le
	}
	le.refCount++
	km.mu.Unlock()

	le.mu.Lock()
}

func (km *KeyedMutex) Unlock(key string) {
	km.mu.Lock()
	defer km.mu.Unlock()

	le, exists := km.locks[key]
	if !exists {
		panic("unlock of unlocked lock")
	}
	le.refCount--
	if le.refCount == 0 {
		delete(km.locks, key)
	}
	le.mu.Unlock()
}
