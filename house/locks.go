package house

import (
	"sync"

	"github.com/cloudx-io/escrowhouse/core"
)

// addressLocks serializes operations per auction address. Entries are
// dropped once nobody holds or waits for them.
type addressLocks struct {
	mu    sync.Mutex
	locks map[core.Identity]*addressLock
}

type addressLock struct {
	mu      sync.Mutex
	waiters int
}

func newAddressLocks() *addressLocks {
	return &addressLocks{locks: make(map[core.Identity]*addressLock)}
}

// lock blocks until address is free and returns the matching unlock.
func (l *addressLocks) lock(address core.Identity) func() {
	l.mu.Lock()
	al, ok := l.locks[address]
	if !ok {
		al = &addressLock{}
		l.locks[address] = al
	}
	al.waiters++
	l.mu.Unlock()

	al.mu.Lock()
	return func() {
		al.mu.Unlock()
		l.mu.Lock()
		al.waiters--
		if al.waiters == 0 {
			delete(l.locks, address)
		}
		l.mu.Unlock()
	}
}

func (l *addressLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
