package secret

import (
	"sync"
	"sync/atomic"
)

// poisonLock is a RWMutex that remembers panics. If fn panics while the lock
// is held the lock is marked poisoned, released, and the panic continues;
// every later acquisition fails with KindLockPoisoned instead of handing out
// state that a half-finished critical section may have corrupted.
type poisonLock struct {
	owner    string
	mu       sync.RWMutex
	poisoned atomic.Bool
}

func (l *poisonLock) read(op, key string, fn func() error) error {
	return l.run(op, key, l.mu.RLock, l.mu.RUnlock, fn)
}

func (l *poisonLock) write(op, key string, fn func() error) error {
	return l.run(op, key, l.mu.Lock, l.mu.Unlock, fn)
}

func (l *poisonLock) run(op, key string, lock, unlock func(), fn func() error) (err error) {
	if l.poisoned.Load() {
		return newError(KindLockPoisoned, l.owner, op, key, nil)
	}
	lock()
	defer func() {
		if r := recover(); r != nil {
			l.poisoned.Store(true)
			unlock()
			panic(r)
		}
		unlock()
	}()
	if l.poisoned.Load() {
		return newError(KindLockPoisoned, l.owner, op, key, nil)
	}
	return fn()
}
