package leave

import "sync"

// userLocks hands out one mutex per user. Entries are reference counted and
// dropped when no goroutine holds or waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[UserID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[UserID]*userLock)}
}

// Lock blocks until the caller holds userID's lock and returns the unlock
// function.
func (l *userLocks) Lock(userID UserID) func() {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
