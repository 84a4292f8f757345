package store

import "sync"

// DeviceLocks serializes read-modify-write sequences per device. Entries are
// dropped once no goroutine holds or waits on them.
type DeviceLocks struct {
	mu    sync.Mutex
	locks map[string]*deviceLock
}

type deviceLock struct {
	mu   sync.Mutex
	refs int
}

func NewDeviceLocks() *DeviceLocks {
	return &DeviceLocks{locks: make(map[string]*deviceLock)}
}

// Lock blocks until deviceID is free and returns the matching unlock.
func (l *DeviceLocks) Lock(deviceID string) func() {
	l.mu.Lock()
	dl, ok := l.locks[deviceID]
	if !ok {
		dl = &deviceLock{}
		l.locks[deviceID] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, deviceID)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of devices currently locked or awaited.
func (l *DeviceLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
