package games

import (
	"fmt"
	"math"

	"github.com/MJE43/pf-outcome-engine/internal/engine"
)

// CrashGame derives a crash point from one float and settles an automatic
// cash-out target against it.
type CrashGame struct{}

// Spec returns metadata about the Crash game.
func (g *CrashGame) Spec() GameSpec {
	return GameSpec{
		ID:          "crash",
		Name:        "Crash",
		MetricLabel: "crash_point",
		Params:      []string{"target"},
	}
}

// ByteCount returns the bytes one crash point consumes.
func (g *CrashGame) ByteCount(map[string]any, *Tables) (int, error) {
	return 4, nil
}

// EvaluateBytes computes max(1.00, floor(100*(1-he)/(1-f))/100). A win pays
// the target multiplier when the crash point reaches it.
func (g *CrashGame) EvaluateBytes(raw []byte, params map[string]any, t *Tables) (Outcome, error) {
	if len(raw) < 4 {
		return Outcome{}, fmt.Errorf("crash requires 4 bytes, got %d", len(raw))
	}
	if t.Crash.Formula != CrashFormulaInverseV1 {
		return Outcome{}, fmt.Errorf("crash formula %q not supported", t.Crash.Formula)
	}

	rawTarget, ok, err := floatParam(params, "target")
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, fmt.Errorf("%w: crash target is required", ErrInvalidParams)
	}
	target, err := hundredths("target", rawTarget)
	if err != nil {
		return Outcome{}, err
	}
	if rawTarget < t.Crash.MinTarget || rawTarget > t.Crash.MaxTarget {
		return Outcome{}, fmt.Errorf("%w: crash target %.2f outside [%.2f, %.2f]",
			ErrInvalidParams, rawTarget, t.Crash.MinTarget, t.Crash.MaxTarget)
	}

	f := engine.BytesToFloat([4]byte{raw[0], raw[1], raw[2], raw[3]})
	point := CrashPoint(f, t.Crash.HouseEdge)
	pointHundredths := int64(math.Round(point * 100))

	win := pointHundredths >= target
	multiplier := 0.0
	if win {
		multiplier = float64(target) / 100
	}

	return Outcome{
		Metric:      point,
		MetricLabel: "crash_point",
		Win:         win,
		Multiplier:  multiplier,
		Details: map[string]any{
			"raw_float":   f,
			"crash_point": point,
			"target":      float64(target) / 100,
			"formula":     t.Crash.Formula,
		},
	}, nil
}

// CrashPoint applies the inverse-v1 formula to a float in [0, 1).
func CrashPoint(f, houseEdge float64) float64 {
	point := math.Floor(100*(1-houseEdge)/(1-f)) / 100
	return math.Max(point, 1.0)
}

// CrashWinChance is the exact probability that the crash point reaches
// target, counted over the 2^32 floats BytesToFloat can produce. The point
// reaches t hundredths exactly when f >= 1 - 100*(1-he)/t.
func CrashWinChance(target, houseEdge float64) float64 {
	t := math.Round(target * 100)
	if t <= 100 {
		return 1
	}
	c := 100 * (1 - houseEdge) / t
	if c >= 1 {
		return 1
	}
	const space = float64(1 << 32)
	first := math.Ceil(space * (1 - c))
	return (space - first) / space
}

// CrashRTP is the expected return of a cash-out at target.
func CrashRTP(target, houseEdge float64) float64 {
	return math.Round(target*100) / 100 * CrashWinChance(target, houseEdge)
}
