package core

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLocker_SameKeySerializes(t *testing.T) {
	kl := NewKeyLocker()
	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("Contacts", int64(7))
			defer unlock()
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Empty(t, kl.locks)
}

func TestKeyLocker_DifferentKeysDoNotBlock(t *testing.T) {
	kl := NewKeyLocker()
	unlockA := kl.Lock("Contacts", int64(1))
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := kl.Lock("Contacts", int64(2))
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different record blocked")
	}
}

func TestKeyLocker_UnlockIsIdempotent(t *testing.T) {
	kl := NewKeyLocker()
	unlock := kl.Lock("k")
	assert.Len(t, kl.locks, 1)
	unlock()
	unlock()
	assert.Empty(t, kl.locks)

	// the key must be lockable again
	kl.Lock("k")()
}

func TestKeyLocker_LockRecords(t *testing.T) {
	kl := NewKeyLocker()
	unlock := kl.LockRecords("Contacts", 3, 1, 3, 2)
	assert.Len(t, kl.locks, 3)
	assert.Contains(t, kl.locks, "Contacts:1")
	unlock()
	assert.Empty(t, kl.locks)

	// overlapping batches in opposite order must not deadlock
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			kl.LockRecords("Contacts", 1, 2, 3)()
		}()
		go func() {
			defer wg.Done()
			kl.LockRecords("Contacts", 3, 2, 1)()
		}()
	}
	wg.Wait()
	assert.Empty(t, kl.locks)
}
