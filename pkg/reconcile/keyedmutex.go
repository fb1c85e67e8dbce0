package reconcile

import "sync"

// keyedMutex serializes work per string key while letting distinct keys
// proceed independently. Entries are reference-counted and removed when
// the last holder releases, so the map is bounded by current concurrency,
// not by key cardinality.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the mutex for key, blocking while another goroutine holds
// it, and returns the release function. The reference count is taken
// before blocking, which keeps the entry alive for every waiter.
func (km *keyedMutex) Lock(key string) (unlock func()) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &keyedLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		km.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}

// len reports the number of live entries. Only used by tests.
func (km *keyedMutex) len() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}
