package seeds

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Locker serializes nonce issuance and rotation per user. Lock blocks until
// the lock is held or ctx ends, and returns a release func that is safe to
// call more than once. Locks are not reentrant.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// UserLockKey is the lock key for a user's seed state.
func UserLockKey(userID string) string {
	return "user:" + userID
}

// LocalLocker is an in-process Locker. Waiters are bounded by Timeout.
type LocalLocker struct {
	Timeout time.Duration

	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{Timeout: timeout, locks: make(map[string]*localLock)}
}

func (l *LocalLocker) acquireRef(key string) *localLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*localLock)
	}
	ll, ok := l.locks[key]
	if !ok {
		ll = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = ll
	}
	ll.refs++
	return ll
}

func (l *LocalLocker) releaseRef(key string, ll *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ll.refs--
	if ll.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	ll := l.acquireRef(key)

	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	select {
	case ll.ch <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(key, ll)
		return nil, fmt.Errorf("%w: lock %s: %w", ErrRotationRaceDetected, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ll.ch
			l.releaseRef(key, ll)
		})
	}, nil
}
