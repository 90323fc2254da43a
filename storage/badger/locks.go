package badger

import (
	"sync"

	"github.com/poiesic/clearance/core"
)

// documentLocks hands out one mutex per document so writes to the same
// document's records never interleave. Entries are dropped when unused.
type documentLocks struct {
	mu    sync.Mutex
	locks map[core.ID]*documentLock
}

type documentLock struct {
	sync.Mutex
	refs int
}

func newDocumentLocks() *documentLocks {
	return &documentLocks{locks: make(map[core.ID]*documentLock)}
}

// lock blocks until the document's mutex is held and returns its release func.
func (l *documentLocks) lock(id core.ID) func() {
	l.mu.Lock()
	dl, ok := l.locks[id]
	if !ok {
		dl = &documentLock{}
		l.locks[id] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.Lock()
	return func() {
		dl.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
