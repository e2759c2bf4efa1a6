package seeds

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/pf-outcome-engine/internal/engine"
	"github.com/MJE43/pf-outcome-engine/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "seeds.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestLifecycle(t *testing.T, st store.Store) *Lifecycle {
	t.Helper()
	return NewLifecycle(st, NewLocalLocker(2*time.Second),
		WithClock(func() time.Time { return testNow }),
		WithLogger(quietLogger()),
	)
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	lc := newTestLifecycle(t, newTestStore(t))

	pair, err := lc.Commit(ctx, "alice", "lucky")
	require.NoError(t, err)
	assert.Equal(t, store.StateCommitted, pair.State)
	assert.Equal(t, "lucky", pair.ClientSeed)
	assert.Equal(t, uint64(0), pair.Nonce)
	assert.Equal(t, engine.HashServerSeed(pair.ServerSeed), pair.ServerSeedHash)
	assert.Len(t, pair.ServerSeed, 64)

	_, err = lc.Commit(ctx, "alice", "other")
	assert.ErrorIs(t, err, ErrPairExists)

	generated, err := lc.Commit(ctx, "bob", "")
	require.NoError(t, err)
	assert.Len(t, generated.ClientSeed, 16)
}

func TestCommitRejectsBadClientSeedBeforeAnyWrite(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	lc := newTestLifecycle(t, st)

	_, err := lc.Commit(ctx, "alice", "has:colon")
	assert.ErrorIs(t, err, ErrInvalidSeedMaterial)

	_, err = st.LivePair(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCurrentCommitsLazily(t *testing.T) {
	ctx := context.Background()
	lc := newTestLifecycle(t, newTestStore(t))

	first, err := lc.Current(ctx, "alice")
	require.NoError(t, err)
	second, err := lc.Current(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestActivate(t *testing.T) {
	ctx := context.Background()
	lc := newTestLifecycle(t, newTestStore(t))

	pair, err := lc.Commit(ctx, "alice", "")
	require.NoError(t, err)

	active, err := lc.Activate(ctx, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateActive, active.State)
	require.NotNil(t, active.ActivatedAt)

	again, err := lc.Activate(ctx, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateActive, again.State)

	_, err = lc.Rotate(ctx, pair.ID)
	require.NoError(t, err)
	_, err = lc.Activate(ctx, pair.ID)
	assert.ErrorIs(t, err, ErrNoActiveSeed)
}

func TestIssueNonceSequence(t *testing.T) {
	ctx := context.Background()
	lc := newTestLifecycle(t, newTestStore(t))

	pair, err := lc.Commit(ctx, "alice", "")
	require.NoError(t, err)

	for want := uint64(0); want < 5; want++ {
		nonce, updated, err := lc.IssueNonce(ctx, pair.ID)
		require.NoError(t, err)
		assert.Equal(t, want, nonce)
		assert.Equal(t, want+1, updated.Nonce)
		assert.Equal(t, want+1, updated.BetCount)
		assert.Equal(t, store.StateActive, updated.State)
	}
}

func TestIssueNonceConcurrentIsUnique(t *testing.T) {
	ctx := context.Background()
	lc := newTestLifecycle(t, newTestStore(t))

	pair, err := lc.Commit(ctx, "alice", "")
	require.NoError(t, err)

	const workers, perWorker = 8, 25
	var (
		mu   sync.Mutex
		seen = make(map[uint64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				nonce, _, err := lc.IssueNonce(ctx, pair.ID)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[nonce]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
	for n := uint64(0); n < workers*perWorker; n++ {
		assert.Equal(t, 1, seen[n], "nonce %d", n)
	}
}

func TestIssueNonceOnRevealedPair(t *testing.T) {
	ctx := context.Background()
	lc := newTestLifecycle(t, newTestStore(t))

	pair, err := lc.Commit(ctx, "alice", "")
	require.NoError(t, err)
	_, err = lc.Rotate(ctx, pair.ID)
	require.NoError(t, err)

	_, _, err = lc.IssueNonce(ctx, pair.ID)
	assert.ErrorIs(t, err, ErrNoActiveSeed)
}

func TestSetClientSeed(t *testing.T) {
	ctx := context.Background()
	lc := newTestLifecycle(t, newTestStore(t))

	pair, err := lc.Commit(ctx, "alice", "")
	require.NoError(t, err)

	updated, err := lc.SetClientSeed(ctx, pair.ID, "my-seed")
	require.NoError(t, err)
	assert.Equal(t, "my-seed", updated.ClientSeed)

	_, err = lc.SetClientSeed(ctx, pair.ID, "")
	assert.ErrorIs(t, err, ErrInvalidSeedMaterial)

	_, _, err = lc.IssueNonce(ctx, pair.ID)
	require.NoError(t, err)
	_, err = lc.SetClientSeed(ctx, pair.ID, "too-late")
	assert.ErrorIs(t, err, ErrSeedLocked)

	_, err = lc.Rotate(ctx, pair.ID)
	require.NoError(t, err)
	_, err = lc.SetClientSeed(ctx, pair.ID, "revealed")
	assert.ErrorIs(t, err, ErrNoActiveSeed)
}

func TestRotate(t *testing.T) {
	ctx := context.Background()
	lc := newTestLifecycle(t, newTestStore(t))

	pair, err := lc.Commit(ctx, "alice", "keep-me")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := lc.IssueNonce(ctx, pair.ID)
		require.NoError(t, err)
	}

	rot, err := lc.Rotate(ctx, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateRevealed, rot.Revealed.State)
	assert.Equal(t, pair.ServerSeed, rot.Revealed.ServerSeed)
	assert.True(t, engine.VerifyServerSeed(rot.Revealed.ServerSeed, rot.Revealed.ServerSeedHash))
	assert.Equal(t, uint64(3), rot.Revealed.Nonce)

	assert.Equal(t, store.StateCommitted, rot.Next.State)
	assert.Equal(t, "keep-me", rot.Next.ClientSeed)
	assert.Equal(t, uint64(0), rot.Next.Nonce)
	assert.NotEqual(t, pair.ServerSeed, rot.Next.ServerSeed)
	require.NotNil(t, rot.Next.PreviousPairID)
	assert.Equal(t, pair.ID, *rot.Next.PreviousPairID)

	current, err := lc.Current(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, rot.Next.ID, current.ID)

	// Rotating the revealed pair again returns the same successor.
	again, err := lc.Rotate(ctx, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, rot.Next.ID, again.Next.ID)
	assert.False(t, rot.Replayed)
	assert.True(t, again.Replayed)

	history, total, err := lc.History(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, history, 1)
	assert.Equal(t, pair.ServerSeed, history[0].ServerSeed)
}

func TestRotateConcurrentCallersShareResult(t *testing.T) {
	ctx := context.Background()
	lc := newTestLifecycle(t, newTestStore(t))

	pair, err := lc.Commit(ctx, "alice", "")
	require.NoError(t, err)

	const callers = 6
	results := make([]*Rotation, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rot, err := lc.Rotate(ctx, pair.ID)
			if assert.NoError(t, err) {
				results[i] = rot
			}
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, rot := range results {
		require.NotNil(t, rot)
		assert.Equal(t, results[0].Next.ID, rot.Next.ID)
		if !rot.Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	_, total, err := lc.History(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

// failingRotateStore fails RotatePair after the reveal would have run.
type failingRotateStore struct {
	store.Store
}

func (f failingRotateStore) RotatePair(context.Context, uuid.UUID, uint64, *store.SeedPair, time.Time) error {
	return errors.New("disk full")
}

func TestRotateFailureKeepsOldPairLive(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	lc := newTestLifecycle(t, failingRotateStore{Store: st})

	pair, err := lc.Commit(ctx, "alice", "")
	require.NoError(t, err)
	_, _, err = lc.IssueNonce(ctx, pair.ID)
	require.NoError(t, err)

	_, err = lc.Rotate(ctx, pair.ID)
	require.Error(t, err)

	live, err := st.LivePair(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, pair.ID, live.ID)
	assert.Equal(t, store.StateActive, live.State)
	assert.Nil(t, live.RevealedAt)

	nonce, _, err := lc.IssueNonce(ctx, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
}

// tamperedStore serves a server seed that no longer matches its hash.
type tamperedStore struct {
	store.Store
}

func (s tamperedStore) GetPair(ctx context.Context, id uuid.UUID) (*store.SeedPair, error) {
	pair, err := s.Store.GetPair(ctx, id)
	if err != nil {
		return nil, err
	}
	first := "0"
	if pair.ServerSeed[0] == '0' {
		first = "1"
	}
	pair.ServerSeed = first + pair.ServerSeed[1:]
	return pair, nil
}

func TestRotateRefusesTamperedSeed(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	pair, err := newTestLifecycle(t, st).Commit(ctx, "alice", "")
	require.NoError(t, err)

	_, err = newTestLifecycle(t, tamperedStore{Store: st}).Rotate(ctx, pair.ID)
	assert.ErrorIs(t, err, ErrHashIntegrity)

	live, err := st.LivePair(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, pair.ID, live.ID)
}

func TestOperationsRejectForeignPair(t *testing.T) {
	ctx := context.Background()
	lc := newTestLifecycle(t, newTestStore(t))

	pair, err := lc.Commit(ctx, "alice", "")
	require.NoError(t, err)

	err = lc.WithUserLock(ctx, "mallory", func(s *Session) error {
		_, _, err := s.IssueNonce(ctx, pair.ID)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLockTimeoutSurfacesAsRace(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	lc := NewLifecycle(st, NewLocalLocker(50*time.Millisecond), WithLogger(quietLogger()))

	pair, err := lc.Commit(ctx, "alice", "")
	require.NoError(t, err)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- lc.WithUserLock(ctx, "alice", func(*Session) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, _, err = lc.IssueNonce(ctx, pair.ID)
	assert.ErrorIs(t, err, ErrRotationRaceDetected)

	close(release)
	require.NoError(t, <-done)

	nonce, _, err := lc.IssueNonce(ctx, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)
}
