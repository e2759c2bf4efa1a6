package games

import (
	"errors"
	"sort"
)

var (
	// ErrGameNotFound is returned for game identifiers missing from the registry.
	ErrGameNotFound = errors.New("game not found")
	// ErrInvalidParams is returned when bet parameters fail validation.
	ErrInvalidParams = errors.New("invalid game parameters")
	// ErrUnknownVersion is returned for pay table versions missing from the catalog.
	ErrUnknownVersion = errors.New("unknown table version")
)

// Seeds holds the seed pair a result is derived from.
type Seeds struct {
	Server string // ASCII; do NOT hex-decode
	Client string
}

// GameSpec describes a registered game.
type GameSpec struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	MetricLabel string   `json:"metric_label"`
	Params      []string `json:"params"`
}

// Outcome is the fully resolved result of one bet.
type Outcome struct {
	Game          string         `json:"game"`
	Nonce         uint64         `json:"nonce"`
	Version       string         `json:"version"`
	Metric        float64        `json:"metric"`
	MetricLabel   string         `json:"metric_label"`
	Win           bool           `json:"win"`
	Multiplier    float64        `json:"multiplier"`
	BytesConsumed int            `json:"bytes_consumed"`
	RawBytes      string         `json:"raw_bytes"`
	Details       map[string]any `json:"details,omitempty"`
}

// Game decodes a prefix of the hash chain into a result. Implementations are
// stateless; all tunables come from the pay tables.
type Game interface {
	Spec() GameSpec
	// ByteCount returns how many stream bytes one evaluation consumes.
	ByteCount(params map[string]any, t *Tables) (int, error)
	// EvaluateBytes decodes exactly ByteCount bytes. Game, Nonce, Version and
	// RawBytes are filled in by the Resolver.
	EvaluateBytes(raw []byte, params map[string]any, t *Tables) (Outcome, error)
}

// GameRegistry holds all available games
var GameRegistry = make(map[string]Game)

// RegisterGame adds a game to the registry
func RegisterGame(game Game) {
	GameRegistry[game.Spec().ID] = game
}

// GetGame retrieves a game by id
func GetGame(id string) (Game, bool) {
	game, exists := GameRegistry[id]
	return game, exists
}

// ListGames returns all registered game specs ordered by id
func ListGames() []GameSpec {
	specs := make([]GameSpec, 0, len(GameRegistry))
	for _, g := range GameRegistry {
		specs = append(specs, g.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

func init() {
	RegisterGame(&DiceGame{})
	RegisterGame(&CoinflipGame{})
	RegisterGame(&CrashGame{})
	RegisterGame(&WheelGame{})
	RegisterGame(&PlinkoGame{})
	RegisterGame(&SlotsGame{})
}
