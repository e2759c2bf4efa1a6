package games

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Crash formulas understood by CrashGame.
const CrashFormulaInverseV1 = "inverse-v1"

// Tables is one immutable version of every game's payout configuration.
// Bets record the version they were resolved with.
type Tables struct {
	Version  string        `json:"version"`
	Dice     DiceTable     `json:"dice"`
	Coinflip CoinflipTable `json:"coinflip"`
	Crash    CrashTable    `json:"crash"`
	Wheel    WheelTable    `json:"wheel"`
	Plinko   PlinkoTable   `json:"plinko"`
	Slots    SlotsTable    `json:"slots"`
}

// DiceTable bounds are win chances in percent.
type DiceTable struct {
	HouseEdge    float64 `json:"house_edge"`
	MinWinChance float64 `json:"min_win_chance"`
	MaxWinChance float64 `json:"max_win_chance"`
}

type CoinflipTable struct {
	HouseEdge float64 `json:"house_edge"`
}

type CrashTable struct {
	HouseEdge float64 `json:"house_edge"`
	Formula   string  `json:"formula"`
	MinTarget float64 `json:"min_target"`
	MaxTarget float64 `json:"max_target"`
}

// WheelSegment is one slice of the wheel.
type WheelSegment struct {
	Multiplier  float64 `json:"multiplier"`
	Probability float64 `json:"probability"`
}

// WheelTable maps segment count and risk to the ordered segment list.
type WheelTable struct {
	DefaultSegments int                               `json:"default_segments"`
	DefaultRisk     string                            `json:"default_risk"`
	Layouts         map[int]map[string][]WheelSegment `json:"layouts"`
}

// PlinkoTable maps risk and row count to bucket multipliers.
type PlinkoTable struct {
	MinRows     int                          `json:"min_rows"`
	MaxRows     int                          `json:"max_rows"`
	DefaultRows int                          `json:"default_rows"`
	DefaultRisk string                       `json:"default_risk"`
	Payouts     map[string]map[int][]float64 `json:"payouts"`
}

// SlotsTable describes a reel grid. A payline lists one row index per reel;
// Pays maps symbol and left-anchored run length to a line multiplier.
type SlotsTable struct {
	Reels    int                        `json:"reels"`
	Rows     int                        `json:"rows"`
	Symbols  []string                   `json:"symbols"`
	Paylines [][]int                    `json:"paylines"`
	Pays     map[string]map[int]float64 `json:"pays"`
}

const probabilityTolerance = 1e-9

// Validate checks the structural invariants of every table.
func (t *Tables) Validate() error {
	if t.Version == "" {
		return fmt.Errorf("tables: version is empty")
	}
	if err := validateHouseEdge("dice", t.Dice.HouseEdge); err != nil {
		return err
	}
	if t.Dice.MinWinChance <= 0 || t.Dice.MaxWinChance >= 100 || t.Dice.MinWinChance > t.Dice.MaxWinChance {
		return fmt.Errorf("tables %s: dice win chance bounds [%v, %v] invalid", t.Version, t.Dice.MinWinChance, t.Dice.MaxWinChance)
	}
	if err := validateHouseEdge("coinflip", t.Coinflip.HouseEdge); err != nil {
		return err
	}
	if err := validateHouseEdge("crash", t.Crash.HouseEdge); err != nil {
		return err
	}
	if t.Crash.Formula != CrashFormulaInverseV1 {
		return fmt.Errorf("tables %s: unsupported crash formula %q", t.Version, t.Crash.Formula)
	}
	if t.Crash.MinTarget < 1.01 || t.Crash.MaxTarget < t.Crash.MinTarget {
		return fmt.Errorf("tables %s: crash target bounds [%v, %v] invalid", t.Version, t.Crash.MinTarget, t.Crash.MaxTarget)
	}
	if err := t.validateWheel(); err != nil {
		return err
	}
	if err := t.validatePlinko(); err != nil {
		return err
	}
	return t.validateSlots()
}

func validateHouseEdge(game string, he float64) error {
	if he < 0 || he >= 1 || math.IsNaN(he) {
		return fmt.Errorf("tables: %s house edge %v outside [0, 1)", game, he)
	}
	return nil
}

func (t *Tables) validateWheel() error {
	if len(t.Wheel.Layouts) == 0 {
		return fmt.Errorf("tables %s: wheel has no layouts", t.Version)
	}
	if _, ok := t.Wheel.Layouts[t.Wheel.DefaultSegments][t.Wheel.DefaultRisk]; !ok {
		return fmt.Errorf("tables %s: wheel default %d/%s missing", t.Version, t.Wheel.DefaultSegments, t.Wheel.DefaultRisk)
	}
	for segments, risks := range t.Wheel.Layouts {
		for risk, layout := range risks {
			if len(layout) != segments {
				return fmt.Errorf("tables %s: wheel %d/%s has %d segments", t.Version, segments, risk, len(layout))
			}
			sum := 0.0
			for i, seg := range layout {
				if seg.Probability <= 0 || seg.Multiplier < 0 {
					return fmt.Errorf("tables %s: wheel %d/%s segment %d invalid", t.Version, segments, risk, i)
				}
				sum += seg.Probability
			}
			if math.Abs(sum-1) > probabilityTolerance {
				return fmt.Errorf("tables %s: wheel %d/%s probabilities sum to %v", t.Version, segments, risk, sum)
			}
		}
	}
	return nil
}

func (t *Tables) validatePlinko() error {
	p := t.Plinko
	if p.MinRows < 1 || p.MaxRows < p.MinRows || p.DefaultRows < p.MinRows || p.DefaultRows > p.MaxRows {
		return fmt.Errorf("tables %s: plinko rows bounds invalid", t.Version)
	}
	if _, ok := p.Payouts[p.DefaultRisk]; !ok {
		return fmt.Errorf("tables %s: plinko default risk %q missing", t.Version, p.DefaultRisk)
	}
	for risk, byRows := range p.Payouts {
		for rows := p.MinRows; rows <= p.MaxRows; rows++ {
			table, ok := byRows[rows]
			if !ok {
				return fmt.Errorf("tables %s: plinko %s missing %d rows", t.Version, risk, rows)
			}
			if len(table) != rows+1 {
				return fmt.Errorf("tables %s: plinko %s/%d has %d buckets, want %d", t.Version, risk, rows, len(table), rows+1)
			}
			for i := 0; i < len(table)/2; i++ {
				if table[i] != table[len(table)-1-i] {
					return fmt.Errorf("tables %s: plinko %s/%d is not symmetric at bucket %d", t.Version, risk, rows, i)
				}
			}
		}
	}
	return nil
}

func (t *Tables) validateSlots() error {
	s := t.Slots
	if s.Reels < 1 || s.Rows < 1 {
		return fmt.Errorf("tables %s: slots grid %dx%d invalid", t.Version, s.Reels, s.Rows)
	}
	if len(s.Symbols) < 2 || len(s.Symbols) > 256 {
		return fmt.Errorf("tables %s: slots needs 2-256 symbols, got %d", t.Version, len(s.Symbols))
	}
	known := make(map[string]bool, len(s.Symbols))
	for _, sym := range s.Symbols {
		if sym == "" || known[sym] {
			return fmt.Errorf("tables %s: slots symbol %q empty or duplicated", t.Version, sym)
		}
		known[sym] = true
	}
	if len(s.Paylines) == 0 {
		return fmt.Errorf("tables %s: slots has no paylines", t.Version)
	}
	for i, line := range s.Paylines {
		if len(line) != s.Reels {
			return fmt.Errorf("tables %s: slots payline %d has %d positions, want %d", t.Version, i, len(line), s.Reels)
		}
		for _, row := range line {
			if row < 0 || row >= s.Rows {
				return fmt.Errorf("tables %s: slots payline %d row %d out of range", t.Version, i, row)
			}
		}
	}
	for sym, runs := range s.Pays {
		if !known[sym] {
			return fmt.Errorf("tables %s: slots pay for unknown symbol %q", t.Version, sym)
		}
		for run, pay := range runs {
			if run < 1 || run > s.Reels || pay < 0 {
				return fmt.Errorf("tables %s: slots pay %s/%d invalid", t.Version, sym, run)
			}
		}
	}
	return nil
}

// DiceMultiplierRTP returns the RTP of a dice bet at the given win chance.
func (t *Tables) DiceMultiplierRTP(winChance float64) float64 {
	return winChance / 100 * diceMultiplier(t.Dice.HouseEdge, winChance)
}

// ExpectedRTP computes the analytic return to player of every table, keyed
// by game and variant (for example "plinko/high/16").
func (t *Tables) ExpectedRTP() map[string]float64 {
	out := make(map[string]float64)
	out["dice"] = t.DiceMultiplierRTP(49.5)
	out["coinflip"] = 0.5 * coinflipMultiplier(t.Coinflip.HouseEdge)
	out["crash"] = CrashRTP(t.Crash.MinTarget, t.Crash.HouseEdge)
	for _, target := range []float64{2, 10, 100} {
		if target <= t.Crash.MaxTarget {
			out["crash/"+strconv.FormatFloat(target, 'f', -1, 64)] = CrashRTP(target, t.Crash.HouseEdge)
		}
	}

	for segments, risks := range t.Wheel.Layouts {
		for risk, layout := range risks {
			out["wheel/"+strconv.Itoa(segments)+"/"+risk] = WheelRTP(layout)
		}
	}
	for risk, byRows := range t.Plinko.Payouts {
		for rows, table := range byRows {
			out["plinko/"+risk+"/"+strconv.Itoa(rows)] = PlinkoRTP(table)
		}
	}
	out["slots"] = SlotsRTP(t.Slots)
	return out
}

// RTPKeys returns the keys of ExpectedRTP in stable order.
func RTPKeys(rtp map[string]float64) []string {
	keys := make([]string, 0, len(rtp))
	for k := range rtp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WheelRTP is the probability-weighted multiplier of a layout.
func WheelRTP(layout []WheelSegment) float64 {
	rtp := 0.0
	for _, seg := range layout {
		rtp += seg.Probability * seg.Multiplier
	}
	return rtp
}

// PlinkoRTP weights each bucket by its binomial probability.
func PlinkoRTP(table []float64) float64 {
	rows := len(table) - 1
	rtp := 0.0
	for k, m := range table {
		rtp += binomial(rows, k) / math.Pow(2, float64(rows)) * m
	}
	return rtp
}

func binomial(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	r := 1.0
	for i := 1; i <= k; i++ {
		r = r * float64(n-k+i) / float64(i)
	}
	return r
}

// SlotsRTP accounts for the modulo bias of symbol selection, so tables whose
// symbol count does not divide 256 are still reported exactly.
func SlotsRTP(s SlotsTable) float64 {
	n := len(s.Symbols)
	if n == 0 || len(s.Paylines) == 0 {
		return 0
	}

	probs := make([]float64, n)
	for b := 0; b < 256; b++ {
		probs[b%n] += 1.0 / 256
	}

	// Every payline reads one independent cell per reel, so each line has
	// the same expected pay.
	line := 0.0
	for i, sym := range s.Symbols {
		p := probs[i]
		for run, pay := range s.Pays[sym] {
			prob := math.Pow(p, float64(run))
			if run < s.Reels {
				prob *= 1 - p
			}
			line += prob * pay
		}
	}
	return line
}
