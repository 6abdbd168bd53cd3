package store

import "sync"

// lockTable hands out one mutex per document id. Entries are reference
// counted and dropped when the last holder releases, so the table only
// holds documents with writes in flight.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*docLock)}
}

// lock blocks until the caller holds docID's lock and returns its release func.
func (t *lockTable) lock(docID string) (unlock func()) {
	t.mu.Lock()
	l, ok := t.locks[docID]
	if !ok {
		l = &docLock{}
		t.locks[docID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, docID)
		}
		t.mu.Unlock()
	}
}

// size returns the number of documents currently locked or waited on.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
