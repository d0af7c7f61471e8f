package wallet

import "sync"

// ownerLocks serializes settlement operations per wallet. The wallet record
// is the serialization point: without it, two concurrent withdrawals could
// both pass the daily-limit pre-check and jointly exceed the cap.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: make(map[string]*sync.Mutex)}
}

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

// lock acquires the owner's mutex and returns the unlock func.
func (l *ownerLocks) lock(ownerID string) func() {
	m := l.get(ownerID)
	m.Lock()
	return m.Unlock
}

// lockPair acquires both owners' mutexes in a fixed order to avoid
// deadlocks between concurrent opposing transfers.
func (l *ownerLocks) lockPair(a, b string) func() {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	firstMu := l.get(first)
	secondMu := l.get(second)
	firstMu.Lock()
	secondMu.Lock()
	return func() {
		secondMu.Unlock()
		firstMu.Unlock()
	}
}
