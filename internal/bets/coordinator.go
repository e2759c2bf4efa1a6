// Package bets places bets against a user's live seed pair and keeps the
// append-only bet log.
package bets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/MJE43/pf-outcome-engine/internal/games"
	"github.com/MJE43/pf-outcome-engine/internal/seeds"
	"github.com/MJE43/pf-outcome-engine/internal/store"
)

// PayoutPlaces is the number of decimal places payouts are truncated to.
// Stakes may not be more precise.
const PayoutPlaces = 8

// maxStake keeps stake * the largest table multiplier (1e6) inside the 18
// integer digits both stores hold.
var maxStake = decimal.New(1, 12)

var (
	// ErrInvalidStake is returned for negative, oversized or over-precise
	// stakes.
	ErrInvalidStake = errors.New("invalid stake")
	// ErrInvalidRequest is returned when a request misses required fields.
	ErrInvalidRequest = errors.New("invalid bet request")
)

// PlaceBetRequest is one bet by one user.
type PlaceBetRequest struct {
	UserID string          `json:"user_id"`
	Game   string          `json:"game"`
	Params map[string]any  `json:"params"`
	Stake  decimal.Decimal `json:"stake"`
}

// SeedInfo is the public view of a user's live pair. It never includes the
// server seed.
type SeedInfo struct {
	PairID         uuid.UUID       `json:"pair_id"`
	ServerSeedHash string          `json:"server_seed_hash"`
	ClientSeed     string          `json:"client_seed"`
	Nonce          uint64          `json:"nonce"`
	BetCount       uint64          `json:"bet_count"`
	State          store.PairState `json:"state"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NonceRange covers the nonces issued under a pair: From inclusive, To
// exclusive. Used counts issued nonces, including burned ones.
type NonceRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
	Used uint64 `json:"used"`
}

// RevealedSeed is a revealed pair as shown in the seed history.
type RevealedSeed struct {
	PairID         uuid.UUID  `json:"pair_id"`
	ServerSeed     string     `json:"server_seed"`
	ServerSeedHash string     `json:"server_seed_hash"`
	ClientSeed     string     `json:"client_seed"`
	Nonces         NonceRange `json:"nonces"`
	CreatedAt      time.Time  `json:"created_at"`
	RevealedAt     *time.Time `json:"revealed_at,omitempty"`
}

// SeedHistory is a page of revealed pairs, newest first.
type SeedHistory struct {
	Seeds      []RevealedSeed `json:"seeds"`
	TotalCount int            `json:"totalCount"`
	Limit      int            `json:"limit"`
	Offset     int            `json:"offset"`
}

// Coordinator is the only component that combines seed state, the outcome
// engine and the bet log.
type Coordinator struct {
	seeds     *seeds.Lifecycle
	store     store.Store
	resolver  *games.Resolver
	sink      EventSink
	threshold uint64
	now       func() time.Time
	log       logrus.FieldLogger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithEventSink publishes bet and rotation events to sink.
func WithEventSink(sink EventSink) Option {
	return func(c *Coordinator) { c.sink = sink }
}

// WithRotationThreshold overrides the catalog's auto-rotation threshold.
// Zero disables auto-rotation.
func WithRotationThreshold(n uint64) Option {
	return func(c *Coordinator) { c.threshold = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Coordinator) { c.log = log }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(lc *seeds.Lifecycle, st store.Store, resolver *games.Resolver, opts ...Option) *Coordinator {
	if resolver == nil {
		resolver = games.NewResolver(nil)
	}
	c := &Coordinator{
		seeds:     lc,
		store:     st,
		resolver:  resolver,
		sink:      nopSink{},
		threshold: resolver.Catalog().RotationThreshold,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolver returns the resolver bets are evaluated with.
func (c *Coordinator) Resolver() *games.Resolver {
	return c.resolver
}

// PlaceBet validates the request, issues the next nonce of the user's live
// pair, resolves and stores the bet. Invalid requests consume no nonce. A
// nonce whose bet could not be stored is burned, never reissued.
func (c *Coordinator) PlaceBet(ctx context.Context, req PlaceBetRequest) (*store.BetResolution, error) {
	req.Game = strings.ToLower(strings.TrimSpace(req.Game))
	if req.UserID == "" || req.Game == "" {
		return nil, fmt.Errorf("%w: user and game are required", ErrInvalidRequest)
	}
	if err := ValidateStake(req.Stake); err != nil {
		return nil, err
	}

	params := games.WithVersion(req.Params, c.resolver.Catalog().Current)
	if err := c.resolver.Validate(req.Game, params); err != nil {
		return nil, err
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: params are not serializable: %v", games.ErrInvalidParams, err)
	}

	var (
		bet  *store.BetResolution
		pair *store.SeedPair
	)
	err = c.seeds.WithUserLock(ctx, req.UserID, func(s *seeds.Session) error {
		live, err := s.Current(ctx)
		if err != nil {
			return err
		}
		nonce, updated, err := s.IssueNonce(ctx, live.ID)
		if err != nil {
			return err
		}
		pair = updated

		out, err := c.resolver.Resolve(req.Game, games.Seeds{Server: live.ServerSeed, Client: live.ClientSeed}, nonce, params)
		if err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"user_id": req.UserID,
				"pair_id": live.ID,
				"nonce":   nonce,
			}).Error("nonce_burned")
			return fmt.Errorf("resolve %s nonce %d: %w", req.Game, nonce, err)
		}

		bet, err = newBetResolution(req, live, out, paramsJSON, c.now())
		if err != nil {
			return err
		}
		if err := c.store.SaveBet(ctx, bet); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"user_id": req.UserID,
				"pair_id": live.ID,
				"nonce":   nonce,
			}).Error("nonce_burned")
			return fmt.Errorf("save bet: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"user_id":    bet.UserID,
		"bet_id":     bet.ID,
		"pair_id":    bet.PairID,
		"nonce":      bet.Nonce,
		"game":       bet.Game,
		"win":        bet.Win,
		"multiplier": bet.Multiplier,
	}).Debug("bet_resolved")
	c.sink.Publish(ctx, betEvent(bet, pair))

	if c.threshold > 0 && pair.BetCount >= c.threshold {
		c.autoRotate(ctx, pair)
	}
	return bet, nil
}

func newBetResolution(req PlaceBetRequest, pair *store.SeedPair, out games.Outcome, params []byte, at time.Time) (*store.BetResolution, error) {
	details, err := json.Marshal(out.Details)
	if err != nil {
		return nil, fmt.Errorf("encode outcome details: %w", err)
	}
	payout := req.Stake.Mul(decimal.NewFromFloat(out.Multiplier)).Truncate(PayoutPlaces)

	return &store.BetResolution{
		ID:           uuid.New(),
		UserID:       req.UserID,
		PairID:       pair.ID,
		Nonce:        out.Nonce,
		Game:         out.Game,
		Params:       params,
		TableVersion: out.Version,
		RawBytes:     out.RawBytes,
		Metric:       out.Metric,
		MetricLabel:  out.MetricLabel,
		Win:          out.Win,
		Multiplier:   out.Multiplier,
		Details:      details,
		Stake:        req.Stake,
		Payout:       payout,
		CreatedAt:    at,
	}, nil
}

// autoRotate rotates a pair that reached the threshold. The bet that
// triggered it is already stored, so failures are only logged; the next bet
// tries again.
func (c *Coordinator) autoRotate(ctx context.Context, pair *store.SeedPair) {
	rot, err := c.seeds.Rotate(ctx, pair.ID)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"user_id":   pair.UserID,
			"pair_id":   pair.ID,
			"bet_count": pair.BetCount,
		}).Warn("seed_auto_rotate_failed")
		return
	}
	if !rot.Replayed {
		c.sink.Publish(ctx, rotationEvent(rot, c.now()))
	}
}

// ValidateStake checks that a stake is non-negative, below 10^12 and has at
// most PayoutPlaces decimal places.
func ValidateStake(stake decimal.Decimal) error {
	switch {
	case stake.IsNegative():
		return fmt.Errorf("%w: stake must not be negative", ErrInvalidStake)
	case stake.GreaterThanOrEqual(maxStake):
		return fmt.Errorf("%w: stake must be below %s", ErrInvalidStake, maxStake)
	case !stake.Equal(stake.Truncate(PayoutPlaces)):
		return fmt.Errorf("%w: stake has more than %d decimal places", ErrInvalidStake, PayoutPlaces)
	}
	return nil
}

// CurrentSeedInfo returns the user's live pair, committing one if needed.
func (c *Coordinator) CurrentSeedInfo(ctx context.Context, userID string) (*SeedInfo, error) {
	pair, err := c.seeds.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	return InfoOf(pair), nil
}

// InfoOf builds the public view of a live pair.
func InfoOf(pair *store.SeedPair) *SeedInfo {
	return &SeedInfo{
		PairID:         pair.ID,
		ServerSeedHash: pair.ServerSeedHash,
		ClientSeed:     pair.ClientSeed,
		Nonce:          pair.Nonce,
		BetCount:       pair.BetCount,
		State:          pair.State,
		CreatedAt:      pair.CreatedAt,
	}
}

// SeedHistory pages through the user's revealed pairs.
func (c *Coordinator) SeedHistory(ctx context.Context, userID string, limit, offset int) (*SeedHistory, error) {
	limit, offset = store.NormalizePage(limit, offset)
	pairs, total, err := c.seeds.History(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	page := &SeedHistory{
		Seeds:      make([]RevealedSeed, 0, len(pairs)),
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
	}
	for _, p := range pairs {
		page.Seeds = append(page.Seeds, RevealedOf(&p))
	}
	return page, nil
}

// RevealedOf builds the history view of a revealed pair.
func RevealedOf(p *store.SeedPair) RevealedSeed {
	return RevealedSeed{
		PairID:         p.ID,
		ServerSeed:     p.ServerSeed,
		ServerSeedHash: p.ServerSeedHash,
		ClientSeed:     p.ClientSeed,
		Nonces:         NonceRange{From: 0, To: p.Nonce, Used: p.BetCount},
		CreatedAt:      p.CreatedAt,
		RevealedAt:     p.RevealedAt,
	}
}

// Rotate reveals pairID and commits a successor. Callers pass the pair they
// saw as live, so a request that arrives after that pair was already
// rotated gets the earlier rotation back instead of revealing its
// successor. uuid.Nil rotates whichever pair is live.
func (c *Coordinator) Rotate(ctx context.Context, userID string, pairID uuid.UUID) (*seeds.Rotation, error) {
	var rot *seeds.Rotation
	err := c.seeds.WithUserLock(ctx, userID, func(s *seeds.Session) error {
		target := pairID
		if target == uuid.Nil {
			live, err := s.Current(ctx)
			if err != nil {
				return err
			}
			target = live.ID
		}
		var err error
		rot, err = s.Rotate(ctx, target)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !rot.Replayed {
		c.sink.Publish(ctx, rotationEvent(rot, c.now()))
	}
	return rot, nil
}

// SetClientSeed replaces the client seed of the user's live pair. It fails
// with seeds.ErrSeedLocked once a bet was placed on the pair.
func (c *Coordinator) SetClientSeed(ctx context.Context, userID, clientSeed string) (*SeedInfo, error) {
	var pair *store.SeedPair
	err := c.seeds.WithUserLock(ctx, userID, func(s *seeds.Session) error {
		live, err := s.Current(ctx)
		if err != nil {
			return err
		}
		pair, err = s.SetClientSeed(ctx, live.ID, clientSeed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return InfoOf(pair), nil
}

// Bet loads one bet.
func (c *Coordinator) Bet(ctx context.Context, id uuid.UUID) (*store.BetResolution, error) {
	bet, err := c.store.GetBet(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load bet %s: %w", id, err)
	}
	return bet, nil
}

// Bets pages through the bet log.
func (c *Coordinator) Bets(ctx context.Context, query store.BetsQuery) (*store.BetsPage, error) {
	if query.UserID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	page, err := c.store.ListBets(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list bets for %s: %w", query.UserID, err)
	}
	return page, nil
}
