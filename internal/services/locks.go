package services

import (
	"sync"

	"github.com/google/uuid"
)

// ownerLocks serializes multi-step namespace mutations per owner. A single
// mutation can touch several metadata rows and several remote objects, and
// two concurrent mutations for the same owner could otherwise interleave
// between the remote call and the row update. Locks are per owner, so users
// never block each other.
type ownerLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*sync.Mutex
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{m: make(map[uuid.UUID]*sync.Mutex)}
}

// lock acquires the mutex for owner and returns its release func. The
// per-owner mutexes are never reclaimed; the map is bounded by the number
// of distinct users seen by this process.
func (l *ownerLocks) lock(owner uuid.UUID) func() {
	l.mu.Lock()
	m, ok := l.m[owner]
	if !ok {
		m = &sync.Mutex{}
		l.m[owner] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
