package runtime

import (
	"sync"

	xsync "github.com/code-payments/code-escrow/pkg/sync"
)

// accountLocker serializes transactions that share accounts. Transactions
// that write an account exclude every other transaction referencing it, while
// any number of transactions may read an account concurrently.
type accountLocker interface {
	// lock acquires the locks for the account keys. If ok is false, no locks
	// are held and the transaction must be rejected with AccountInUse.
	lock(writable, readonly [][]byte) (unlock func(), ok bool)
}

// waitingLocker blocks until conflicting transactions have completed.
type waitingLocker struct {
	stripes *xsync.StripedLock
}

func newWaitingLocker(stripes uint) *waitingLocker {
	return &waitingLocker{
		stripes: xsync.NewStripedLock(stripes),
	}
}

func (l *waitingLocker) lock(writable, readonly [][]byte) (func(), bool) {
	return l.stripes.LockMany(writable, readonly), true
}

// rejectingLocker fails immediately when an account is already locked in a
// conflicting mode.
type rejectingLocker struct {
	mu       sync.Mutex
	writeSet map[string]struct{}
	readSet  map[string]int
}

func newRejectingLocker() *rejectingLocker {
	return &rejectingLocker{
		writeSet: make(map[string]struct{}),
		readSet:  make(map[string]int),
	}
}

func (l *rejectingLocker) lock(writable, readonly [][]byte) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range writable {
		if _, ok := l.writeSet[string(key)]; ok {
			return nil, false
		}
		if l.readSet[string(key)] > 0 {
			return nil, false
		}
	}
	for _, key := range readonly {
		if _, ok := l.writeSet[string(key)]; ok {
			return nil, false
		}
	}

	for _, key := range writable {
		l.writeSet[string(key)] = struct{}{}
	}
	for _, key := range readonly {
		l.readSet[string(key)]++
	}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		for _, key := range writable {
			delete(l.writeSet, string(key))
		}
		for _, key := range readonly {
			l.readSet[string(key)]--
			if l.readSet[string(key)] == 0 {
				delete(l.readSet, string(key))
			}
		}
	}, true
}
