package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type refLock struct {
	mu  sync.Mutex
	ref int
}

// KeyLocker serializes in-process work on the same key, e.g. the same record
// of a layout. Locks are refcounted and dropped once released by everyone.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[string]*refLock
	sep   string
}

func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: map[string]*refLock{}, sep: ":"}
}

func (kl *KeyLocker) key(keys ...any) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%v", k)
	}
	return strings.Join(parts, kl.sep)
}

// Lock blocks until the combined key is free and returns its unlock function.
// Calling the unlock function more than once is a no-op.
func (kl *KeyLocker) Lock(keys ...any) func() {
	combinedKey := kl.key(keys...)

	kl.mu.Lock()
	lock, ok := kl.locks[combinedKey]
	if !ok {
		lock = &refLock{}
		kl.locks[combinedKey] = lock
	}
	lock.ref++
	kl.mu.Unlock()

	lock.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Unlock()
			kl.mu.Lock()
			lock.ref--
			if lock.ref == 0 {
				delete(kl.locks, combinedKey)
			}
			kl.mu.Unlock()
		})
	}
}

// LockRecords locks several records of one layout in ascending id order so
// that overlapping batches cannot deadlock.
func (kl *KeyLocker) LockRecords(layout string, ids ...int64) func() {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	unlocks := make([]func(), 0, len(sorted))
	var prev int64
	for i, id := range sorted {
		if i > 0 && id == prev {
			continue
		}
		prev = id
		unlocks = append(unlocks, kl.Lock(layout, id))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
