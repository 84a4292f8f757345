package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceLocks_SerializesSameDevice(t *testing.T) {
	l := NewDeviceLocks()
	unlock := l.Lock("d1")

	acquired := make(chan struct{})
	go func() {
		defer l.Lock("d1")()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held device lock")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
}

func TestDeviceLocks_DevicesAreIndependent(t *testing.T) {
	l := NewDeviceLocks()
	defer l.Lock("d1")()

	done := make(chan struct{})
	go func() {
		defer l.Lock("d2")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on d1 blocked d2")
	}
}

func TestDeviceLocks_ReleasesEntries(t *testing.T) {
	l := NewDeviceLocks()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.Lock("d1")()
			counter++
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)
	assert.Zero(t, l.Len())
}
