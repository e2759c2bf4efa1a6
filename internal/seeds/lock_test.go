package seeds

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerSerializesKey(t *testing.T) {
	l := NewLocalLocker(time.Second)
	ctx := context.Background()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "user:alice")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
	assert.Empty(t, l.locks, "released locks are dropped")
}

func TestLocalLockerKeysAreIndependent(t *testing.T) {
	l := NewLocalLocker(50 * time.Millisecond)
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "user:alice")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := l.Lock(ctx, "user:bob")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLockerTimeout(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "user:alice")
	require.NoError(t, err)

	_, err = l.Lock(ctx, "user:alice")
	assert.ErrorIs(t, err, ErrRotationRaceDetected)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := l.Lock(ctx, "user:alice")
	require.NoError(t, err)
	again()
}

func TestLocalLockerHonoursCancel(t *testing.T) {
	l := NewLocalLocker(0)
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
