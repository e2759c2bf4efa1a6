package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "pf.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return newSQLiteStore(t) })
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newPair(userID string) *SeedPair {
	id := uuid.New()
	return &SeedPair{
		ID:             id,
		UserID:         userID,
		ServerSeed:     fmt.Sprintf("%064x", id[:]),
		ServerSeedHash: "hash-" + id.String(),
		ClientSeed:     "client",
		State:          StateCommitted,
		CreatedAt:      testNow,
	}
}

func newBet(pair *SeedPair, nonce uint64, at time.Time) *BetResolution {
	return &BetResolution{
		ID:           uuid.New(),
		UserID:       pair.UserID,
		PairID:       pair.ID,
		Nonce:        nonce,
		Game:         "dice",
		Params:       json.RawMessage(`{"target":50,"version":"v1"}`),
		TableVersion: "v1",
		RawBytes:     "714196a0",
		Metric:       44.24,
		MetricLabel:  "roll",
		Win:          true,
		Multiplier:   1.98,
		Details:      json.RawMessage(`{"roll":44.24}`),
		Stake:        decimal.RequireFromString("10.5"),
		Payout:       decimal.RequireFromString("20.79"),
		CreatedAt:    at,
	}
}

func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("pair lifecycle", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		_, err := s.LivePair(ctx, "alice")
		assert.ErrorIs(t, err, ErrNotFound)

		pair := newPair("alice")
		require.NoError(t, s.InsertPair(ctx, pair))

		live, err := s.LivePair(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, pair.ID, live.ID)
		assert.Equal(t, StateCommitted, live.State)
		assert.Equal(t, pair.ServerSeed, live.ServerSeed)
		assert.True(t, live.CreatedAt.Equal(testNow))
		assert.Nil(t, live.ActivatedAt)

		// A second live pair for the same user is rejected.
		assert.ErrorIs(t, s.InsertPair(ctx, newPair("alice")), ErrConflict)
		require.NoError(t, s.InsertPair(ctx, newPair("bob")))

		require.NoError(t, s.ActivatePair(ctx, pair.ID, testNow))
		assert.ErrorIs(t, s.ActivatePair(ctx, pair.ID, testNow), ErrStale)

		got, err := s.GetPair(ctx, pair.ID)
		require.NoError(t, err)
		assert.Equal(t, StateActive, got.State)
		require.NotNil(t, got.ActivatedAt)
	})

	t.Run("advance nonce compare and swap", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		pair := newPair("carol")
		require.NoError(t, s.InsertPair(ctx, pair))

		updated, err := s.AdvanceNonce(ctx, pair.ID, 0, testNow)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), updated.Nonce)
		assert.Equal(t, uint64(1), updated.BetCount)
		assert.Equal(t, StateActive, updated.State)
		require.NotNil(t, updated.ActivatedAt)

		// Stale expectation never double-issues a nonce.
		_, err = s.AdvanceNonce(ctx, pair.ID, 0, testNow)
		assert.ErrorIs(t, err, ErrStale)

		updated, err = s.AdvanceNonce(ctx, pair.ID, 1, testNow.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, uint64(2), updated.Nonce)
		assert.True(t, updated.ActivatedAt.Equal(testNow), "activation time is kept")

		_, err = s.AdvanceNonce(ctx, uuid.New(), 0, testNow)
		assert.ErrorIs(t, err, ErrStale)
	})

	t.Run("client seed only before first bet", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		pair := newPair("dave")
		require.NoError(t, s.InsertPair(ctx, pair))

		require.NoError(t, s.UpdateClientSeed(ctx, pair.ID, "lucky"))
		got, err := s.GetPair(ctx, pair.ID)
		require.NoError(t, err)
		assert.Equal(t, "lucky", got.ClientSeed)

		_, err = s.AdvanceNonce(ctx, pair.ID, 0, testNow)
		require.NoError(t, err)
		assert.ErrorIs(t, s.UpdateClientSeed(ctx, pair.ID, "late"), ErrStale)
	})

	t.Run("rotate pair", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		old := newPair("erin")
		require.NoError(t, s.InsertPair(ctx, old))
		_, err := s.AdvanceNonce(ctx, old.ID, 0, testNow)
		require.NoError(t, err)

		next := newPair("erin")
		next.PreviousPairID = &old.ID
		require.NoError(t, s.RotatePair(ctx, old.ID, 1, next, testNow.Add(time.Hour)))

		revealed, err := s.GetPair(ctx, old.ID)
		require.NoError(t, err)
		assert.Equal(t, StateRevealed, revealed.State)
		require.NotNil(t, revealed.RevealedAt)

		live, err := s.LivePair(ctx, "erin")
		require.NoError(t, err)
		assert.Equal(t, next.ID, live.ID)
		require.NotNil(t, live.PreviousPairID)
		assert.Equal(t, old.ID, *live.PreviousPairID)

		succ, err := s.SuccessorPair(ctx, old.ID)
		require.NoError(t, err)
		assert.Equal(t, next.ID, succ.ID)

		// Rotating an already revealed pair is stale.
		again := newPair("erin")
		again.PreviousPairID = &old.ID
		assert.ErrorIs(t, s.RotatePair(ctx, old.ID, 1, again, testNow), ErrStale)

		pairs, total, err := s.RevealedPairs(ctx, "erin", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, pairs, 1)
		assert.Equal(t, old.ID, pairs[0].ID)
	})

	t.Run("rotation failure leaves old pair live", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		old := newPair("frank")
		require.NoError(t, s.InsertPair(ctx, old))
		other := newPair("gina")
		require.NoError(t, s.InsertPair(ctx, other))

		// Reusing an existing id makes the insert fail after the reveal ran.
		next := newPair("frank")
		next.ID = other.ID
		next.PreviousPairID = &old.ID
		err := s.RotatePair(ctx, old.ID, 0, next, testNow)
		require.Error(t, err)

		live, err := s.LivePair(ctx, "frank")
		require.NoError(t, err)
		assert.Equal(t, old.ID, live.ID)
		assert.Equal(t, StateCommitted, live.State)
		assert.Nil(t, live.RevealedAt)

		_, err = s.SuccessorPair(ctx, old.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("bets are append only and unique per nonce", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		pair := newPair("hank")
		require.NoError(t, s.InsertPair(ctx, pair))

		first := newBet(pair, 0, testNow)
		require.NoError(t, s.SaveBet(ctx, first))
		assert.ErrorIs(t, s.SaveBet(ctx, newBet(pair, 0, testNow)), ErrConflict)

		got, err := s.GetBet(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.PairID, got.PairID)
		assert.Equal(t, "dice", got.Game)
		assert.True(t, first.Stake.Equal(got.Stake))
		assert.True(t, first.Payout.Equal(got.Payout))
		assert.JSONEq(t, string(first.Params), string(got.Params))
		assert.JSONEq(t, string(first.Details), string(got.Details))
		assert.Equal(t, 44.24, got.Metric)
		assert.True(t, got.Win)

		_, err = s.GetBet(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list bets pages newest first", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		pair := newPair("iris")
		require.NoError(t, s.InsertPair(ctx, pair))

		for i := 0; i < 5; i++ {
			b := newBet(pair, uint64(i), testNow.Add(time.Duration(i)*time.Second))
			if i%2 == 1 {
				b.Game = "coinflip"
			}
			require.NoError(t, s.SaveBet(ctx, b))
		}

		page, err := s.ListBets(ctx, BetsQuery{UserID: "iris", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, page.TotalCount)
		require.Len(t, page.Bets, 2)
		assert.Equal(t, uint64(4), page.Bets[0].Nonce)
		assert.Equal(t, uint64(3), page.Bets[1].Nonce)

		page, err = s.ListBets(ctx, BetsQuery{UserID: "iris", Game: "coinflip", PairID: &pair.ID})
		require.NoError(t, err)
		assert.Equal(t, 2, page.TotalCount)

		page, err = s.ListBets(ctx, BetsQuery{UserID: "nobody"})
		require.NoError(t, err)
		assert.Empty(t, page.Bets)
		assert.Equal(t, defaultPageSize, page.Limit)
	})
}

func TestNormalizePage(t *testing.T) {
	limit, offset := NormalizePage(0, -3)
	assert.Equal(t, defaultPageSize, limit)
	assert.Equal(t, 0, offset)

	limit, _ = NormalizePage(10000, 0)
	assert.Equal(t, maxPageSize, limit)
}
