package games

import (
	"fmt"
	"math"

	"github.com/MJE43/pf-outcome-engine/internal/engine"
	"github.com/shopspring/decimal"
)

// DiceGame rolls 0.00-99.99 and pays on an under/over target.
type DiceGame struct{}

const (
	diceConditionUnder = "under"
	diceConditionOver  = "over"
	diceOutcomes       = 10000
)

// Spec returns metadata about the Dice game
func (g *DiceGame) Spec() GameSpec {
	return GameSpec{
		ID:          "dice",
		Name:        "Dice",
		MetricLabel: "roll",
		Params:      []string{"target", "condition"},
	}
}

// ByteCount returns the bytes one roll consumes
func (g *DiceGame) ByteCount(map[string]any, *Tables) (int, error) {
	return 4, nil
}

// EvaluateBytes maps one float to floor(f*10000)/100, so there are exactly
// 10,000 equally likely rolls.
func (g *DiceGame) EvaluateBytes(raw []byte, params map[string]any, t *Tables) (Outcome, error) {
	if len(raw) < 4 {
		return Outcome{}, fmt.Errorf("dice requires 4 bytes, got %d", len(raw))
	}
	target, condition, winChance, err := diceParams(params, t)
	if err != nil {
		return Outcome{}, err
	}

	f := engine.BytesToFloat([4]byte{raw[0], raw[1], raw[2], raw[3]})
	rollHundredths := int64(math.Floor(f * diceOutcomes))
	roll := float64(rollHundredths) / 100

	win := rollHundredths < target
	if condition == diceConditionOver {
		win = rollHundredths > target
	}

	multiplier := diceMultiplier(t.Dice.HouseEdge, winChance)
	paid := 0.0
	if win {
		paid = multiplier
	}

	return Outcome{
		Metric:      roll,
		MetricLabel: "roll",
		Win:         win,
		Multiplier:  paid,
		Details: map[string]any{
			"raw_float":       f,
			"roll":            roll,
			"target":          float64(target) / 100,
			"condition":       condition,
			"win_chance":      winChance,
			"payout_multiple": multiplier,
		},
	}, nil
}

// diceParams returns the target in hundredths and the win chance in percent.
func diceParams(params map[string]any, t *Tables) (int64, string, float64, error) {
	rawTarget, ok, err := floatParam(params, "target")
	if err != nil {
		return 0, "", 0, err
	}
	if !ok {
		return 0, "", 0, fmt.Errorf("%w: dice target is required", ErrInvalidParams)
	}
	target, err := hundredths("target", rawTarget)
	if err != nil {
		return 0, "", 0, err
	}

	condition, ok, err := stringParam(params, "condition")
	if err != nil {
		return 0, "", 0, err
	}
	if !ok {
		condition = diceConditionUnder
	}

	var chanceHundredths int64
	switch condition {
	case diceConditionUnder:
		chanceHundredths = target
	case diceConditionOver:
		chanceHundredths = diceOutcomes - 1 - target
	default:
		return 0, "", 0, fmt.Errorf("%w: dice condition must be under or over, got %q", ErrInvalidParams, condition)
	}

	winChance := float64(chanceHundredths) / 100
	minChance, _ := hundredths("min_win_chance", t.Dice.MinWinChance)
	maxChance, _ := hundredths("max_win_chance", t.Dice.MaxWinChance)
	if chanceHundredths < minChance || chanceHundredths > maxChance {
		return 0, "", 0, fmt.Errorf("%w: dice win chance %.2f%% outside [%.2f%%, %.2f%%]",
			ErrInvalidParams, winChance, t.Dice.MinWinChance, t.Dice.MaxWinChance)
	}
	return target, condition, winChance, nil
}

// diceMultiplier is (100 - houseEdge%) / winChance%, floored to 4 decimals.
func diceMultiplier(houseEdge, winChance float64) float64 {
	if winChance <= 0 {
		return 0
	}
	hundred := decimal.NewFromInt(100)
	rtp := hundred.Sub(decimal.NewFromFloat(houseEdge).Mul(hundred))
	m := rtp.DivRound(decimal.NewFromFloat(winChance), 16).Truncate(4)
	f, _ := m.Float64()
	return f
}
