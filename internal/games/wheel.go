package games

import (
	"fmt"

	"github.com/MJE43/pf-outcome-engine/internal/engine"
)

// WheelGame implements the Wheel provably fair game.
type WheelGame struct{}

// Spec returns metadata about the Wheel game.
func (g *WheelGame) Spec() GameSpec {
	return GameSpec{
		ID:          "wheel",
		Name:        "Wheel",
		MetricLabel: "multiplier",
		Params:      []string{"segments", "risk"},
	}
}

// ByteCount returns the bytes one spin consumes (always 4).
func (g *WheelGame) ByteCount(map[string]any, *Tables) (int, error) {
	return 4, nil
}

// EvaluateBytes walks the published segment order accumulating
// probabilities; the first segment whose cumulative probability reaches f
// is selected.
func (g *WheelGame) EvaluateBytes(raw []byte, params map[string]any, t *Tables) (Outcome, error) {
	if len(raw) < 4 {
		return Outcome{}, fmt.Errorf("wheel requires 4 bytes, got %d", len(raw))
	}
	segments, risk, layout, err := wheelParams(params, t)
	if err != nil {
		return Outcome{}, err
	}

	f := engine.BytesToFloat([4]byte{raw[0], raw[1], raw[2], raw[3]})
	index := SelectSegment(layout, f)
	multiplier := layout[index].Multiplier

	return Outcome{
		Metric:      multiplier,
		MetricLabel: "multiplier",
		Win:         multiplier > 1,
		Multiplier:  multiplier,
		Details: map[string]any{
			"raw_float":     f,
			"segments":      segments,
			"risk":          risk,
			"segment_index": index,
			"multiplier":    multiplier,
		},
	}, nil
}

// SelectSegment returns the index of the first segment whose cumulative
// probability is >= f. Rounding in the running sum can leave the total a hair
// below 1, so the last segment absorbs any remainder.
func SelectSegment(layout []WheelSegment, f float64) int {
	cumulative := 0.0
	for i, seg := range layout {
		cumulative += seg.Probability
		if cumulative >= f {
			return i
		}
	}
	return len(layout) - 1
}

func wheelParams(params map[string]any, t *Tables) (int, string, []WheelSegment, error) {
	segments, ok, err := intParam(params, "segments")
	if err != nil {
		return 0, "", nil, err
	}
	if !ok {
		segments = t.Wheel.DefaultSegments
	}
	risk, err := riskParam(params, t.Wheel.DefaultRisk)
	if err != nil {
		return 0, "", nil, err
	}

	risks, ok := t.Wheel.Layouts[segments]
	if !ok {
		return 0, "", nil, fmt.Errorf("%w: wheel segments %d not offered", ErrInvalidParams, segments)
	}
	layout, ok := risks[risk]
	if !ok || len(layout) == 0 {
		return 0, "", nil, fmt.Errorf("%w: invalid wheel risk: %s", ErrInvalidParams, risk)
	}
	return segments, risk, layout, nil
}
