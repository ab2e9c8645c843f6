package orchestrator

import (
	"context"
	"sync"
	"time"
)

type lockEntry struct {
	held chan struct{}
	refs int
	// alias is the replacement session id minted for an expired key. It
	// lives as long as the entry, so only queued turns see it.
	alias string
}

// keyedLock serializes work per key. Waiters queue on the key's channel;
// the table mutex only guards entry bookkeeping.
type keyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: map[string]*lockEntry{}}
}

// acquire blocks until key is free, wait elapses (ErrSessionBusy) or ctx is
// done. The returned release must be called exactly once.
func (l *keyedLock) acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{held: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case e.held <- struct{}{}:
		return func() {
			<-e.held
			l.unref(key, e)
		}, nil
	case <-timer.C:
		l.unref(key, e)
		return nil, ErrSessionBusy
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}
}

func (l *keyedLock) unref(key string, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

// alias returns the id recorded for key by setAlias, if the key still has
// holders or waiters.
func (l *keyedLock) alias(key string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return e.alias
	}
	return ""
}

func (l *keyedLock) setAlias(key, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		e.alias = id
	}
}

// size reports the number of keys with holders or waiters.
func (l *keyedLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
