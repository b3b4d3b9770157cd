package server

import "sync"

// labLocks serializes mutating lifecycle operations per lab. Only one
// up/destroy runs at a time for a given lab ID; a contended caller waits
// instead of failing.
type labLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLabLocks() *labLocks {
	return &labLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire blocks until the lab's lock is free and returns the release
// function. When the lock is contended, waiting is called once before
// blocking so the caller can tell the client why nothing is happening.
func (l *labLocks) acquire(labID string, waiting func()) func() {
	l.mu.Lock()
	m, ok := l.locks[labID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[labID] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		if waiting != nil {
			waiting()
		}
		m.Lock()
	}
	return m.Unlock
}
