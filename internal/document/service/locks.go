package service

import "sync"

type docLock struct {
	mu   sync.Mutex
	refs int
}

// docLocks hands out one mutex per document id. An entry lives only while
// someone holds or waits for it. The zero value is ready to use.
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

// lock blocks until the caller owns documentID and returns the release func.
func (l *docLocks) lock(documentID string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*docLock)
	}
	dl, ok := l.locks[documentID]
	if !ok {
		dl = &docLock{}
		l.locks[documentID] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()

		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, documentID)
		}
		l.mu.Unlock()
	}
}

func (l *docLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
