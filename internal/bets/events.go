package bets

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MJE43/pf-outcome-engine/internal/seeds"
	"github.com/MJE43/pf-outcome-engine/internal/store"
)

// EventType names an event published by the coordinator.
type EventType string

const (
	EventBetResolved EventType = "bet_resolved"
	EventSeedRotated EventType = "seed_rotated"
)

// Event is published after a bet is stored or a pair is rotated. Bet
// events carry only the commitment of the pair; the server seed appears
// only in rotation events, after it was revealed.
type Event struct {
	Type     EventType      `json:"type"`
	UserID   string         `json:"user_id"`
	At       time.Time      `json:"at"`
	Bet      *BetEvent      `json:"bet,omitempty"`
	Rotation *RotationEvent `json:"rotation,omitempty"`
}

// BetEvent summarizes a resolved bet.
type BetEvent struct {
	ID             uuid.UUID `json:"id"`
	PairID         uuid.UUID `json:"pair_id"`
	ServerSeedHash string    `json:"server_seed_hash"`
	Nonce          uint64    `json:"nonce"`
	Game           string    `json:"game"`
	Metric         float64   `json:"metric"`
	MetricLabel    string    `json:"metric_label"`
	Win            bool      `json:"win"`
	Multiplier     float64   `json:"multiplier"`
	Stake          string    `json:"stake"`
	Payout         string    `json:"payout"`
}

// RotationEvent announces a revealed pair and its successor's commitment.
type RotationEvent struct {
	RevealedPairID     uuid.UUID `json:"revealed_pair_id"`
	ServerSeed         string    `json:"server_seed"`
	ServerSeedHash     string    `json:"server_seed_hash"`
	ClientSeed         string    `json:"client_seed"`
	FinalNonce         uint64    `json:"final_nonce"`
	NextPairID         uuid.UUID `json:"next_pair_id"`
	NextServerSeedHash string    `json:"next_server_seed_hash"`
}

// EventSink receives coordinator events. Publish must not block for long;
// it runs on the bet path after the user lock is released.
type EventSink interface {
	Publish(ctx context.Context, event Event)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}

func betEvent(bet *store.BetResolution, pair *store.SeedPair) Event {
	return Event{
		Type:   EventBetResolved,
		UserID: bet.UserID,
		At:     bet.CreatedAt,
		Bet: &BetEvent{
			ID:             bet.ID,
			PairID:         bet.PairID,
			ServerSeedHash: pair.ServerSeedHash,
			Nonce:          bet.Nonce,
			Game:           bet.Game,
			Metric:         bet.Metric,
			MetricLabel:    bet.MetricLabel,
			Win:            bet.Win,
			Multiplier:     bet.Multiplier,
			Stake:          bet.Stake.String(),
			Payout:         bet.Payout.String(),
		},
	}
}

func rotationEvent(rot *seeds.Rotation, at time.Time) Event {
	return Event{
		Type:   EventSeedRotated,
		UserID: rot.Revealed.UserID,
		At:     at,
		Rotation: &RotationEvent{
			RevealedPairID:     rot.Revealed.ID,
			ServerSeed:         rot.Revealed.ServerSeed,
			ServerSeedHash:     rot.Revealed.ServerSeedHash,
			ClientSeed:         rot.Revealed.ClientSeed,
			FinalNonce:         rot.Revealed.Nonce,
			NextPairID:         rot.Next.ID,
			NextServerSeedHash: rot.Next.ServerSeedHash,
		},
	}
}
