package locks

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/clinicdesk/livesync/pkg/records"
)

// keyedMutex is a context-aware mutex per record key. Entries are
// reference counted and dropped once nobody holds or waits on them.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[records.RecordKey]*keyEntry
}

type keyEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[records.RecordKey]*keyEntry)}
}

// Lock blocks until key is free or ctx is done.
func (k *keyedMutex) Lock(ctx context.Context, key records.RecordKey) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyEntry{sem: semaphore.NewWeighted(1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		k.drop(key, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			k.drop(key, e)
		})
	}, nil
}

func (k *keyedMutex) drop(key records.RecordKey, e *keyEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
