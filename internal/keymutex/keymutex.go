// Package keymutex provides per-key serialization. The ledger locks on
// userID (balance is per-user state) and the NAV engine locks on fundID, so
// operations on disjoint keys proceed fully in parallel.
package keymutex

import "sync"

// KeyedMutex is a set of named mutexes. Mutexes are created on first use
// and kept for the lifetime of the set; key cardinality is bounded by the
// number of users/funds, which is fine for this system.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty keyed mutex set.
func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it if needed.
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
}

// Unlock releases the mutex for key. Must follow a Lock with the same key.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	m := k.locks[key]
	k.mu.Unlock()
	m.Unlock()
}
