package games

import "fmt"

// CoinflipGame reads the low bit of one byte: 0 is heads, 1 is tails.
type CoinflipGame struct{}

var coinSides = [2]string{"heads", "tails"}

// Spec returns metadata about the Coinflip game
func (g *CoinflipGame) Spec() GameSpec {
	return GameSpec{
		ID:          "coinflip",
		Name:        "Coinflip",
		MetricLabel: "side",
		Params:      []string{"side"},
	}
}

// ByteCount returns the bytes one flip consumes
func (g *CoinflipGame) ByteCount(map[string]any, *Tables) (int, error) {
	return 1, nil
}

// EvaluateBytes decodes the flip. The metric is 0 for heads and 1 for tails.
func (g *CoinflipGame) EvaluateBytes(raw []byte, params map[string]any, t *Tables) (Outcome, error) {
	if len(raw) < 1 {
		return Outcome{}, fmt.Errorf("coinflip requires 1 byte, got %d", len(raw))
	}
	side, ok, err := stringParam(params, "side")
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, fmt.Errorf("%w: coinflip side is required", ErrInvalidParams)
	}
	if side != coinSides[0] && side != coinSides[1] {
		return Outcome{}, fmt.Errorf("%w: coinflip side must be heads or tails, got %q", ErrInvalidParams, side)
	}

	bit := raw[0] & 1
	result := coinSides[bit]
	win := result == side

	multiplier := 0.0
	if win {
		multiplier = coinflipMultiplier(t.Coinflip.HouseEdge)
	}

	return Outcome{
		Metric:      float64(bit),
		MetricLabel: "side",
		Win:         win,
		Multiplier:  multiplier,
		Details: map[string]any{
			"result": result,
			"side":   side,
		},
	}, nil
}

func coinflipMultiplier(houseEdge float64) float64 {
	return 2 * (1 - houseEdge)
}
