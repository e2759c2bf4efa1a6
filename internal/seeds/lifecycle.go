// Package seeds owns the commit/reveal lifecycle of server seed pairs.
//
// A pair moves committed -> active -> revealed and never backwards. Every
// mutation of a user's pairs runs under that user's lock, so nonce issuance
// and rotation for one user are strictly serialized while different users
// proceed in parallel.
package seeds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/MJE43/pf-outcome-engine/internal/engine"
	"github.com/MJE43/pf-outcome-engine/internal/logging"
	"github.com/MJE43/pf-outcome-engine/internal/store"
)

const (
	// DefaultLockTimeout bounds how long an operation waits for a user lock.
	DefaultLockTimeout = 5 * time.Second

	staleRetries = 3
)

// Rotation is the result of rotating a pair: the revealed pair, with its
// server seed, and the freshly committed successor.
type Rotation struct {
	Revealed *store.SeedPair `json:"revealed"`
	Next     *store.SeedPair `json:"next"`
	// Replayed is set when the pair had already been rotated by an earlier
	// call and this result was read back from the store.
	Replayed bool `json:"-"`
}

// Lifecycle manages seed pairs on top of a Store.
type Lifecycle struct {
	store  store.Store
	locker Locker
	now    func() time.Time
	log    logrus.FieldLogger

	rotateBackoff func() retry.Backoff
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Lifecycle) { l.log = log }
}

// NewLifecycle creates a Lifecycle. A nil locker uses an in-process
// LocalLocker with DefaultLockTimeout.
func NewLifecycle(st store.Store, locker Locker, opts ...Option) *Lifecycle {
	if locker == nil {
		locker = NewLocalLocker(DefaultLockTimeout)
	}
	l := &Lifecycle{
		store:  st,
		locker: locker,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logrus.StandardLogger(),
		rotateBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewConstant(20*time.Millisecond))
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Session is a view of one user's pairs while that user's lock is held.
// It must not escape the callback it was handed to.
type Session struct {
	l      *Lifecycle
	userID string
}

// UserID returns the user whose lock the session holds.
func (s *Session) UserID() string { return s.userID }

// WithUserLock runs fn while holding userID's lock.
func (l *Lifecycle) WithUserLock(ctx context.Context, userID string, fn func(*Session) error) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	unlock, err := l.locker.Lock(ctx, UserLockKey(userID))
	if err != nil {
		return err
	}
	defer unlock()
	return fn(&Session{l: l, userID: userID})
}

// withPairLock resolves the owner of pairID and runs fn under their lock.
func (l *Lifecycle) withPairLock(ctx context.Context, pairID uuid.UUID, fn func(*Session) error) error {
	pair, err := l.store.GetPair(ctx, pairID)
	if err != nil {
		return fmt.Errorf("load seed pair %s: %w", pairID, err)
	}
	return l.WithUserLock(ctx, pair.UserID, fn)
}

// Commit creates a fresh committed pair for userID. An empty clientSeed is
// replaced by a generated one.
func (l *Lifecycle) Commit(ctx context.Context, userID, clientSeed string) (*store.SeedPair, error) {
	var pair *store.SeedPair
	err := l.WithUserLock(ctx, userID, func(s *Session) error {
		var err error
		pair, err = s.Commit(ctx, clientSeed)
		return err
	})
	return pair, err
}

// Current returns the user's live pair, committing one if there is none.
func (l *Lifecycle) Current(ctx context.Context, userID string) (*store.SeedPair, error) {
	var pair *store.SeedPair
	err := l.WithUserLock(ctx, userID, func(s *Session) error {
		var err error
		pair, err = s.Current(ctx)
		return err
	})
	return pair, err
}

// Activate moves a committed pair to active. Activating an active pair is
// a no-op.
func (l *Lifecycle) Activate(ctx context.Context, pairID uuid.UUID) (*store.SeedPair, error) {
	var pair *store.SeedPair
	err := l.withPairLock(ctx, pairID, func(s *Session) error {
		var err error
		pair, err = s.Activate(ctx, pairID)
		return err
	})
	return pair, err
}

// IssueNonce returns the pair's current nonce and advances it.
func (l *Lifecycle) IssueNonce(ctx context.Context, pairID uuid.UUID) (uint64, *store.SeedPair, error) {
	var (
		nonce uint64
		pair  *store.SeedPair
	)
	err := l.withPairLock(ctx, pairID, func(s *Session) error {
		var err error
		nonce, pair, err = s.IssueNonce(ctx, pairID)
		return err
	})
	return nonce, pair, err
}

// SetClientSeed replaces the client seed of a live pair with no bets.
func (l *Lifecycle) SetClientSeed(ctx context.Context, pairID uuid.UUID, clientSeed string) (*store.SeedPair, error) {
	var pair *store.SeedPair
	err := l.withPairLock(ctx, pairID, func(s *Session) error {
		var err error
		pair, err = s.SetClientSeed(ctx, pairID, clientSeed)
		return err
	})
	return pair, err
}

// Rotate reveals pairID and commits its successor. Rotating a pair that a
// concurrent caller already rotated returns that caller's result. Lost
// races are retried a bounded number of times.
func (l *Lifecycle) Rotate(ctx context.Context, pairID uuid.UUID) (*Rotation, error) {
	return retry.DoValue(ctx, l.rotateBackoff(), func(ctx context.Context) (*Rotation, error) {
		var rot *Rotation
		err := l.withPairLock(ctx, pairID, func(s *Session) error {
			var err error
			rot, err = s.Rotate(ctx, pairID)
			return err
		})
		if errors.Is(err, ErrRotationRaceDetected) {
			l.log.WithField("pair_id", pairID).WithError(err).Debug("seed_rotation_retry")
			return nil, retry.RetryableError(err)
		}
		return rot, err
	})
}

// History pages through the user's revealed pairs, newest first.
func (l *Lifecycle) History(ctx context.Context, userID string, limit, offset int) ([]store.SeedPair, int, error) {
	pairs, total, err := l.store.RevealedPairs(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list revealed pairs for %s: %w", userID, err)
	}
	return pairs, total, nil
}

// Pair loads a pair by id.
func (l *Lifecycle) Pair(ctx context.Context, pairID uuid.UUID) (*store.SeedPair, error) {
	pair, err := l.store.GetPair(ctx, pairID)
	if err != nil {
		return nil, fmt.Errorf("load seed pair %s: %w", pairID, err)
	}
	return pair, nil
}

// pair loads pairID and checks that it belongs to the session user.
func (s *Session) pair(ctx context.Context, pairID uuid.UUID) (*store.SeedPair, error) {
	pair, err := s.l.store.GetPair(ctx, pairID)
	if err != nil {
		return nil, fmt.Errorf("load seed pair %s: %w", pairID, err)
	}
	if pair.UserID != s.userID {
		return nil, fmt.Errorf("seed pair %s for user %s: %w", pairID, s.userID, store.ErrNotFound)
	}
	return pair, nil
}

func (s *Session) logger(pair *store.SeedPair) logrus.FieldLogger {
	return s.l.log.WithFields(logging.SeedFields(pair.ServerSeedHash, pair.ClientSeed)).
		WithField("user_id", s.userID).
		WithField("pair_id", pair.ID)
}

func (s *Session) newPair(clientSeed string, previous *uuid.UUID) (*store.SeedPair, error) {
	if clientSeed == "" {
		generated, err := engine.GenerateClientSeed()
		if err != nil {
			return nil, err
		}
		clientSeed = generated
	}
	if err := engine.ValidateClientSeed(clientSeed); err != nil {
		return nil, err
	}

	serverSeed, hash, err := engine.GenerateServerSeed()
	if err != nil {
		return nil, err
	}
	return &store.SeedPair{
		ID:             uuid.New(),
		UserID:         s.userID,
		ServerSeed:     serverSeed,
		ServerSeedHash: hash,
		ClientSeed:     clientSeed,
		State:          store.StateCommitted,
		PreviousPairID: previous,
		CreatedAt:      s.l.now(),
	}, nil
}

// Commit creates a fresh committed pair.
func (s *Session) Commit(ctx context.Context, clientSeed string) (*store.SeedPair, error) {
	pair, err := s.newPair(clientSeed, nil)
	if err != nil {
		return nil, err
	}

	if _, err := s.l.store.LivePair(ctx, s.userID); err == nil {
		return nil, ErrPairExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load live pair for %s: %w", s.userID, err)
	}

	if err := s.l.store.InsertPair(ctx, pair); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrPairExists
		}
		return nil, fmt.Errorf("insert seed pair: %w", err)
	}

	s.logger(pair).Info("seed_committed")
	return pair, nil
}

// Current returns the live pair, committing one with a generated client
// seed when the user has none.
func (s *Session) Current(ctx context.Context) (*store.SeedPair, error) {
	pair, err := s.l.store.LivePair(ctx, s.userID)
	if err == nil {
		return pair, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load live pair for %s: %w", s.userID, err)
	}
	return s.Commit(ctx, "")
}

// Activate moves a committed pair to active.
func (s *Session) Activate(ctx context.Context, pairID uuid.UUID) (*store.SeedPair, error) {
	pair, err := s.pair(ctx, pairID)
	if err != nil {
		return nil, err
	}
	switch pair.State {
	case store.StateActive:
		return pair, nil
	case store.StateRevealed:
		return nil, ErrNoActiveSeed
	}

	now := s.l.now()
	if err := s.l.store.ActivatePair(ctx, pair.ID, now); err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil, fmt.Errorf("%w: pair %s changed during activation", ErrRotationRaceDetected, pair.ID)
		}
		return nil, fmt.Errorf("activate seed pair %s: %w", pair.ID, err)
	}
	pair.State = store.StateActive
	pair.ActivatedAt = &now

	s.logger(pair).Info("seed_activated")
	return pair, nil
}

// IssueNonce returns the current nonce of a live pair and advances it,
// activating a committed pair. The nonce is consumed even if the caller
// later fails to use it.
func (s *Session) IssueNonce(ctx context.Context, pairID uuid.UUID) (uint64, *store.SeedPair, error) {
	for attempt := 0; attempt < staleRetries; attempt++ {
		pair, err := s.pair(ctx, pairID)
		if err != nil {
			return 0, nil, err
		}
		if !pair.Live() {
			return 0, nil, ErrNoActiveSeed
		}

		updated, err := s.l.store.AdvanceNonce(ctx, pair.ID, pair.Nonce, s.l.now())
		if errors.Is(err, store.ErrStale) {
			continue
		}
		if err != nil {
			return 0, nil, fmt.Errorf("advance nonce of %s: %w", pair.ID, err)
		}
		if pair.State == store.StateCommitted {
			s.logger(updated).Info("seed_activated")
		}
		return pair.Nonce, updated, nil
	}
	return 0, nil, fmt.Errorf("%w: nonce of pair %s kept changing", ErrRotationRaceDetected, pairID)
}

// SetClientSeed replaces the client seed while the pair has no bets.
func (s *Session) SetClientSeed(ctx context.Context, pairID uuid.UUID, clientSeed string) (*store.SeedPair, error) {
	if err := engine.ValidateClientSeed(clientSeed); err != nil {
		return nil, err
	}
	pair, err := s.pair(ctx, pairID)
	if err != nil {
		return nil, err
	}
	if !pair.Live() {
		return nil, ErrNoActiveSeed
	}
	if pair.BetCount > 0 {
		return nil, ErrSeedLocked
	}

	if err := s.l.store.UpdateClientSeed(ctx, pair.ID, clientSeed); err != nil {
		if !errors.Is(err, store.ErrStale) {
			return nil, fmt.Errorf("update client seed of %s: %w", pair.ID, err)
		}
		current, rerr := s.pair(ctx, pairID)
		if rerr != nil {
			return nil, rerr
		}
		if !current.Live() {
			return nil, ErrNoActiveSeed
		}
		return nil, ErrSeedLocked
	}
	pair.ClientSeed = clientSeed

	s.logger(pair).Info("client_seed_updated")
	return pair, nil
}

// Rotate reveals a live pair and commits its successor in one store
// transaction. The successor keeps the client seed. Rotating an already
// revealed pair returns the existing successor.
func (s *Session) Rotate(ctx context.Context, pairID uuid.UUID) (*Rotation, error) {
	pair, err := s.pair(ctx, pairID)
	if err != nil {
		return nil, err
	}
	if !pair.Live() {
		return s.rotated(ctx, pair)
	}

	if !engine.VerifyServerSeed(pair.ServerSeed, pair.ServerSeedHash) {
		s.logger(pair).Error("seed_hash_integrity_failed")
		return nil, fmt.Errorf("%w: pair %s", ErrHashIntegrity, pair.ID)
	}

	next, err := s.newPair(pair.ClientSeed, &pair.ID)
	if err != nil {
		return nil, err
	}

	now := s.l.now()
	if err := s.l.store.RotatePair(ctx, pair.ID, pair.Nonce, next, now); err != nil {
		if !errors.Is(err, store.ErrStale) && !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("rotate seed pair %s: %w", pair.ID, err)
		}
		current, rerr := s.pair(ctx, pairID)
		if rerr != nil {
			return nil, rerr
		}
		if !current.Live() {
			return s.rotated(ctx, current)
		}
		return nil, fmt.Errorf("%w: pair %s changed during rotation", ErrRotationRaceDetected, pair.ID)
	}

	pair.State = store.StateRevealed
	pair.RevealedAt = &now

	s.logger(pair).WithFields(logrus.Fields{
		"next_pair_id": next.ID,
		"nonce":        pair.Nonce,
		"bet_count":    pair.BetCount,
	}).Info("seed_rotated")
	return &Rotation{Revealed: pair, Next: next}, nil
}

// rotated returns the rotation that already revealed pair.
func (s *Session) rotated(ctx context.Context, pair *store.SeedPair) (*Rotation, error) {
	next, err := s.l.store.SuccessorPair(ctx, pair.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoActiveSeed
	}
	if err != nil {
		return nil, fmt.Errorf("load successor of %s: %w", pair.ID, err)
	}
	return &Rotation{Revealed: pair, Next: next, Replayed: true}, nil
}
