package games

import "fmt"

// PlinkoGame implements the Plinko provably fair game. Each row consumes one
// byte and its low bit chooses the direction.
type PlinkoGame struct{}

// Spec returns metadata about the Plinko game.
func (g *PlinkoGame) Spec() GameSpec {
	return GameSpec{
		ID:          "plinko",
		Name:        "Plinko",
		MetricLabel: "multiplier",
		Params:      []string{"rows", "risk"},
	}
}

// ByteCount returns one byte per row.
func (g *PlinkoGame) ByteCount(params map[string]any, t *Tables) (int, error) {
	rows, err := plinkoRows(params, t)
	if err != nil {
		return 0, err
	}
	return rows, nil
}

// EvaluateBytes drops the ball: bucket index is the number of right moves.
func (g *PlinkoGame) EvaluateBytes(raw []byte, params map[string]any, t *Tables) (Outcome, error) {
	rows, err := plinkoRows(params, t)
	if err != nil {
		return Outcome{}, err
	}
	risk, err := riskParam(params, t.Plinko.DefaultRisk)
	if err != nil {
		return Outcome{}, err
	}
	table, ok := t.Plinko.Payouts[risk][rows]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: invalid plinko risk: %s", ErrInvalidParams, risk)
	}
	if len(raw) < rows {
		return Outcome{}, fmt.Errorf("plinko requires %d bytes, got %d", rows, len(raw))
	}

	directions := make([]string, rows)
	bucket := 0
	for i := 0; i < rows; i++ {
		if raw[i]&1 == 1 {
			bucket++
			directions[i] = "right"
		} else {
			directions[i] = "left"
		}
	}

	if bucket >= len(table) {
		return Outcome{}, fmt.Errorf("plinko bucket %d out of bounds for rows %d", bucket, rows)
	}
	multiplier := table[bucket]

	return Outcome{
		Metric:      multiplier,
		MetricLabel: "multiplier",
		Win:         multiplier > 1,
		Multiplier:  multiplier,
		Details: map[string]any{
			"rows":       rows,
			"risk":       risk,
			"directions": directions,
			"bucket":     bucket,
			"multiplier": multiplier,
		},
	}, nil
}

func plinkoRows(params map[string]any, t *Tables) (int, error) {
	rows, ok, err := intParam(params, "rows")
	if err != nil {
		return 0, err
	}
	if !ok {
		return t.Plinko.DefaultRows, nil
	}
	if rows < t.Plinko.MinRows || rows > t.Plinko.MaxRows {
		return 0, fmt.Errorf("%w: plinko rows must be between %d and %d, got %d",
			ErrInvalidParams, t.Plinko.MinRows, t.Plinko.MaxRows, rows)
	}
	return rows, nil
}
