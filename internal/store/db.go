package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a pair or bet does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness rule: a
	// second live pair for a user, a reused (pair, nonce), a duplicate id.
	ErrConflict = errors.New("conflict")
	// ErrStale is returned when a compare-and-swap update matched no row
	// because the pair changed underneath the caller.
	ErrStale = errors.New("stale pair state")
)

// PairState is the lifecycle state of a seed pair.
type PairState string

const (
	StateCommitted PairState = "committed"
	StateActive    PairState = "active"
	StateRevealed  PairState = "revealed"
)

// Store persists seed pairs and the append-only bet log.
type Store interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// LivePair returns the user's committed or active pair.
	LivePair(ctx context.Context, userID string) (*SeedPair, error)
	GetPair(ctx context.Context, id uuid.UUID) (*SeedPair, error)
	// SuccessorPair returns the pair created by rotating previousID.
	SuccessorPair(ctx context.Context, previousID uuid.UUID) (*SeedPair, error)
	// RevealedPairs pages through a user's revealed pairs, newest first.
	RevealedPairs(ctx context.Context, userID string, limit, offset int) ([]SeedPair, int, error)

	InsertPair(ctx context.Context, pair *SeedPair) error
	// ActivatePair moves a committed pair to active.
	ActivatePair(ctx context.Context, id uuid.UUID, at time.Time) error
	// AdvanceNonce increments nonce and bet count if the stored nonce still
	// equals expected, activating a committed pair. It returns the updated pair.
	AdvanceNonce(ctx context.Context, id uuid.UUID, expected uint64, at time.Time) (*SeedPair, error)
	// UpdateClientSeed replaces the client seed of a live pair with no bets.
	UpdateClientSeed(ctx context.Context, id uuid.UUID, clientSeed string) error
	// RotatePair reveals the old pair and inserts next in one transaction.
	// The old pair must still be live with the expected nonce.
	RotatePair(ctx context.Context, oldID uuid.UUID, expected uint64, next *SeedPair, at time.Time) error

	SaveBet(ctx context.Context, bet *BetResolution) error
	GetBet(ctx context.Context, id uuid.UUID) (*BetResolution, error)
	ListBets(ctx context.Context, query BetsQuery) (*BetsPage, error)
}

// SeedPair is one commit/reveal seed pair.
type SeedPair struct {
	ID             uuid.UUID  `json:"id"`
	UserID         string     `json:"user_id"`
	ServerSeed     string     `json:"server_seed,omitempty"`
	ServerSeedHash string     `json:"server_seed_hash"`
	ClientSeed     string     `json:"client_seed"`
	Nonce          uint64     `json:"nonce"`
	BetCount       uint64     `json:"bet_count"`
	State          PairState  `json:"state"`
	PreviousPairID *uuid.UUID `json:"previous_pair_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty"`
	RevealedAt     *time.Time `json:"revealed_at,omitempty"`
}

// Live reports whether the pair still accepts nonces.
func (p *SeedPair) Live() bool {
	return p.State == StateCommitted || p.State == StateActive
}

// BetResolution is an immutable record of one resolved bet.
type BetResolution struct {
	ID           uuid.UUID       `json:"id"`
	UserID       string          `json:"user_id"`
	PairID       uuid.UUID       `json:"pair_id"`
	Nonce        uint64          `json:"nonce"`
	Game         string          `json:"game"`
	Params       json.RawMessage `json:"params"`
	TableVersion string          `json:"table_version"`
	RawBytes     string          `json:"raw_bytes"`
	Metric       float64         `json:"metric"`
	MetricLabel  string          `json:"metric_label"`
	Win          bool            `json:"win"`
	Multiplier   float64         `json:"multiplier"`
	Details      json.RawMessage `json:"details,omitempty"`
	Stake        decimal.Decimal `json:"stake"`
	Payout       decimal.Decimal `json:"payout"`
	CreatedAt    time.Time       `json:"created_at"`
}

// BetsQuery filters the bet log. UserID is required.
type BetsQuery struct {
	UserID string     `json:"user_id"`
	PairID *uuid.UUID `json:"pair_id,omitempty"`
	Game   string     `json:"game,omitempty"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// BetsPage is a page of the bet log, newest first.
type BetsPage struct {
	Bets       []BetResolution `json:"bets"`
	TotalCount int             `json:"totalCount"`
	Limit      int             `json:"limit"`
	Offset     int             `json:"offset"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// NormalizePage applies the default and maximum page size.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
