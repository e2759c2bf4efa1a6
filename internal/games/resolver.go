package games

import (
	"encoding/hex"
	"fmt"

	"github.com/MJE43/pf-outcome-engine/internal/engine"
)

// Resolver turns (seeds, nonce, game, params) into an Outcome. It holds no
// mutable state and is safe for concurrent use.
type Resolver struct {
	catalog *Catalog
}

// NewResolver creates a resolver over catalog, falling back to the built-in
// tables when catalog is nil.
func NewResolver(catalog *Catalog) *Resolver {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Resolver{catalog: catalog}
}

// Catalog returns the catalog the resolver reads tables from.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Specs lists the registered games.
func (r *Resolver) Specs() []GameSpec {
	return ListGames()
}

func (r *Resolver) lookup(gameID string, params map[string]any) (Game, *Tables, error) {
	game, ok := GetGame(gameID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrGameNotFound, gameID)
	}
	version, _, err := stringParam(params, VersionParam)
	if err != nil {
		return nil, nil, err
	}
	tables, err := r.catalog.Tables(version)
	if err != nil {
		return nil, nil, err
	}
	return game, tables, nil
}

// Validate checks params against the game and its tables without touching
// the hash chain. It evaluates a zeroed buffer so every parameter check the
// game performs runs exactly as it would for a live bet.
func (r *Resolver) Validate(gameID string, params map[string]any) error {
	game, tables, err := r.lookup(gameID, params)
	if err != nil {
		return err
	}
	n, err := game.ByteCount(params, tables)
	if err != nil {
		return err
	}
	_, err = game.EvaluateBytes(make([]byte, n), params, tables)
	return err
}

// Resolve draws exactly ByteCount bytes from cursor 0 and evaluates them.
func (r *Resolver) Resolve(gameID string, seeds Seeds, nonce uint64, params map[string]any) (Outcome, error) {
	game, tables, err := r.lookup(gameID, params)
	if err != nil {
		return Outcome{}, err
	}
	n, err := game.ByteCount(params, tables)
	if err != nil {
		return Outcome{}, err
	}
	raw, err := engine.NextBytes(seeds.Server, seeds.Client, nonce, 0, n)
	if err != nil {
		return Outcome{}, err
	}
	return r.evaluate(game, tables, raw, nonce, params)
}

// EvaluateBytes evaluates caller-supplied stream bytes, used by the
// simulator to reuse buffers.
func (r *Resolver) EvaluateBytes(gameID string, raw []byte, nonce uint64, params map[string]any) (Outcome, error) {
	game, tables, err := r.lookup(gameID, params)
	if err != nil {
		return Outcome{}, err
	}
	return r.evaluate(game, tables, raw, nonce, params)
}

// ByteCount reports how many bytes one evaluation of gameID consumes.
func (r *Resolver) ByteCount(gameID string, params map[string]any) (int, error) {
	game, tables, err := r.lookup(gameID, params)
	if err != nil {
		return 0, err
	}
	return game.ByteCount(params, tables)
}

func (r *Resolver) evaluate(game Game, tables *Tables, raw []byte, nonce uint64, params map[string]any) (Outcome, error) {
	n, err := game.ByteCount(params, tables)
	if err != nil {
		return Outcome{}, err
	}
	if len(raw) < n {
		return Outcome{}, fmt.Errorf("%s requires %d bytes, got %d", game.Spec().ID, n, len(raw))
	}
	raw = raw[:n]

	out, err := game.EvaluateBytes(raw, params, tables)
	if err != nil {
		return Outcome{}, err
	}
	out.Game = game.Spec().ID
	out.Nonce = nonce
	out.Version = tables.Version
	out.BytesConsumed = n
	out.RawBytes = hex.EncodeToString(raw)
	return out, nil
}
