package engine

import "sync"

// shipLocks is a keyed mutex: one lock per ship id, created on first use.
type shipLocks struct {
	mu    sync.Mutex
	ships map[string]*sync.Mutex
}

func newShipLocks() *shipLocks {
	return &shipLocks{ships: map[string]*sync.Mutex{}}
}

func (l *shipLocks) lock(shipID string) func() {
	l.mu.Lock()
	m, ok := l.ships[shipID]
	if !ok {
		m = &sync.Mutex{}
		l.ships[shipID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
