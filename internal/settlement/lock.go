package settlement

import (
	"sync"

	"github.com/google/uuid"
)

// escrowLocks serializes operations per escrow ID so the read, validate,
// transfer and compare-and-swap steps of one operation never interleave
// with another operation on the same escrow in this process. Entries are
// created on demand and dropped when the last holder leaves.
type escrowLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newEscrowLocks() *escrowLocks {
	return &escrowLocks{locks: make(map[uuid.UUID]*lockEntry)}
}

// acquire blocks until the per-escrow lock is held and returns the release
// function.
func (l *escrowLocks) acquire(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
