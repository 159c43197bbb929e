// Package lock serializes mutating operations per customer.
package lock

import (
	"context"
	"sync"
)

// Locker grants exclusive per-key sections. release must be called exactly once; extra calls are no-ops.
// Work done under the lock should use held: it is cancelled on release, and by lease-based lockers
// when exclusion can no longer be guaranteed.
type Locker interface {
	Acquire(ctx context.Context, key string) (held context.Context, release func(), err error)
}

type entry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process keyed mutex for single-instance deployments. Entries are dropped once
// no goroutine holds or waits on them, so memory tracks active customers only.
type Local struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewLocal creates an empty keyed mutex.
func NewLocal() *Local {
	return &Local{entries: make(map[string]*entry)}
}

// Acquire implements Locker. It returns ctx.Err() if ctx ends while waiting.
func (l *Local) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	l.mu.Lock()
	e := l.entries[key]
	if e == nil {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, nil, ctx.Err()
	}

	held, cancel := context.WithCancel(ctx)
	var once sync.Once
	return held, func() {
		once.Do(func() {
			cancel()
			<-e.sem
			l.unref(key, e)
		})
	}, nil
}

func (l *Local) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Active returns the number of keys currently held or awaited.
func (l *Local) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
