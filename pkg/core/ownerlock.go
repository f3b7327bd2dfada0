package core

import "sync"

// ownerLocks hands out one mutex per owner ID so consolidation checks and
// scheduler deletes for the same owner serialize without blocking other
// owners. Locks are created lazily and never reclaimed; the map grows with
// the number of distinct owners seen by this process, which is bounded in
// practice by the tenant population.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// get returns the mutex for an owner, creating it on first use.
func (l *ownerLocks) get(ownerID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[ownerID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[ownerID] = m
	}
	return m
}
