package games

// DefaultVersion is the built-in pay table version.
const DefaultVersion = "v1"

// Wheel multipliers by segment count and risk, published order.
var wheelV1Multipliers = map[int]map[string][]float64{
	10: {
		"low":    {1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0},
		"medium": {0, 1.9, 0, 1.5, 0, 2, 0, 1.5, 0, 3},
		"high":   {0, 0, 0, 0, 0, 0, 0, 0, 0, 9.9},
	},
	20: {
		"low": {
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
		},
		"medium": {
			1.5, 0, 2, 0, 2, 0, 2, 0, 1.5, 0,
			3, 0, 1.8, 0, 2, 0, 2, 0, 2, 0,
		},
		"high": {
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 19.8,
		},
	},
	30: {
		"low": {
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
		},
		"medium": {
			1.5, 0, 1.5, 0, 2, 0, 1.5, 0, 2, 0,
			2, 0, 1.5, 0, 3, 0, 1.5, 0, 2, 0,
			2, 0, 1.7, 0, 4, 0, 1.5, 0, 2, 0,
		},
		"high": {
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 29.7,
		},
	},
	40: {
		"low": {
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
		},
		"medium": {
			2, 0, 3, 0, 2, 0, 1.5, 0, 3, 0,
			1.5, 0, 1.5, 0, 2, 0, 1.5, 0, 3, 0,
			1.5, 0, 2, 0, 2, 0, 1.6, 0, 2, 0,
			1.5, 0, 3, 0, 1.5, 0, 2, 0, 1.5, 0,
		},
		"high": {
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 39.6,
		},
	},
	50: {
		"low": {
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
		},
		"medium": {
			2, 0, 1.5, 0, 2, 0, 1.5, 0, 3, 0,
			1.5, 0, 1.5, 0, 2, 0, 1.5, 0, 3, 0,
			1.5, 0, 2, 0, 1.5, 0, 2, 0, 2, 0,
			1.5, 0, 3, 0, 1.5, 0, 2, 0, 1.5, 0,
			1.5, 0, 5, 0, 1.5, 0, 2, 0, 1.5, 0,
		},
		"high": {
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 49.5,
		},
	},
}

// Plinko payouts by risk and rows. Tables are symmetric with rows+1 buckets.
var plinkoV1Payouts = map[string]map[int][]float64{
	"low": {
		8:  {5.6, 2.1, 1.1, 1, 0.5, 1, 1.1, 2.1, 5.6},
		9:  {5.6, 2, 1.6, 1, 0.7, 0.7, 1, 1.6, 2, 5.6},
		10: {8.9, 3, 1.4, 1.1, 1, 0.5, 1, 1.1, 1.4, 3, 8.9},
		11: {8.4, 3, 1.9, 1.3, 1, 0.7, 0.7, 1, 1.3, 1.9, 3, 8.4},
		12: {10, 3, 1.6, 1.4, 1.1, 1, 0.5, 1, 1.1, 1.4, 1.6, 3, 10},
		13: {8.1, 4, 3, 1.9, 1.2, 0.9, 0.7, 0.7, 0.9, 1.2, 1.9, 3, 4, 8.1},
		14: {7.1, 4, 1.9, 1.4, 1.3, 1.1, 1, 0.5, 1, 1.1, 1.3, 1.4, 1.9, 4, 7.1},
		15: {15, 8, 3, 2, 1.5, 1.1, 1, 0.7, 0.7, 1, 1.1, 1.5, 2, 3, 8, 15},
		16: {16, 9, 2, 1.4, 1.4, 1.2, 1.1, 1, 0.5, 1, 1.1, 1.2, 1.4, 1.4, 2, 9, 16},
	},
	"medium": {
		8:  {13, 3, 1.3, 0.7, 0.4, 0.7, 1.3, 3, 13},
		9:  {18, 4, 1.7, 0.9, 0.5, 0.5, 0.9, 1.7, 4, 18},
		10: {22, 5, 2, 1.4, 0.6, 0.4, 0.6, 1.4, 2, 5, 22},
		11: {24, 6, 3, 1.8, 0.7, 0.5, 0.5, 0.7, 1.8, 3, 6, 24},
		12: {33, 11, 4, 2, 1.1, 0.6, 0.3, 0.6, 1.1, 2, 4, 11, 33},
		13: {43, 13, 6, 3, 1.3, 0.7, 0.4, 0.4, 0.7, 1.3, 3, 6, 13, 43},
		14: {58, 15, 7, 4, 1.9, 1, 0.5, 0.2, 0.5, 1, 1.9, 4, 7, 15, 58},
		15: {88, 18, 11, 5, 3, 1.3, 0.5, 0.3, 0.3, 0.5, 1.3, 3, 5, 11, 18, 88},
		16: {110, 41, 10, 5, 3, 1.5, 1, 0.5, 0.3, 0.5, 1, 1.5, 3, 5, 10, 41, 110},
	},
	"high": {
		8:  {29, 4, 1.5, 0.3, 0.2, 0.3, 1.5, 4, 29},
		9:  {43, 7, 2, 0.6, 0.2, 0.2, 0.6, 2, 7, 43},
		10: {76, 10, 3, 0.9, 0.3, 0.2, 0.3, 0.9, 3, 10, 76},
		11: {120, 14, 5.2, 1.4, 0.4, 0.2, 0.2, 0.4, 1.4, 5.2, 14, 120},
		12: {170, 24, 8.1, 2, 0.7, 0.2, 0.2, 0.2, 0.7, 2, 8.1, 24, 170},
		13: {260, 37, 11, 4, 1, 0.2, 0.2, 0.2, 0.2, 1, 4, 11, 37, 260},
		14: {420, 56, 18, 5, 1.9, 0.3, 0.2, 0.2, 0.2, 0.3, 1.9, 5, 18, 56, 420},
		15: {620, 83, 27, 8, 3, 0.5, 0.2, 0.2, 0.2, 0.2, 0.5, 3, 8, 27, 83, 620},
		16: {1000, 130, 26, 9, 4, 2, 0.2, 0.2, 0.2, 0.2, 0.2, 2, 4, 9, 26, 130, 1000},
	},
}

// V1Tables returns a fresh copy of the built-in tables.
func V1Tables() *Tables {
	layouts := make(map[int]map[string][]WheelSegment, len(wheelV1Multipliers))
	for segments, risks := range wheelV1Multipliers {
		layouts[segments] = make(map[string][]WheelSegment, len(risks))
		for risk, multipliers := range risks {
			layout := make([]WheelSegment, len(multipliers))
			for i, m := range multipliers {
				layout[i] = WheelSegment{Multiplier: m, Probability: 1 / float64(segments)}
			}
			layouts[segments][risk] = layout
		}
	}

	payouts := make(map[string]map[int][]float64, len(plinkoV1Payouts))
	for risk, byRows := range plinkoV1Payouts {
		payouts[risk] = make(map[int][]float64, len(byRows))
		for rows, table := range byRows {
			payouts[risk][rows] = append([]float64(nil), table...)
		}
	}

	return &Tables{
		Version:  DefaultVersion,
		Dice:     DiceTable{HouseEdge: 0.01, MinWinChance: 0.01, MaxWinChance: 98},
		Coinflip: CoinflipTable{HouseEdge: 0.01},
		Crash: CrashTable{
			HouseEdge: 0.01,
			Formula:   CrashFormulaInverseV1,
			MinTarget: 1.01,
			MaxTarget: 1000000,
		},
		Wheel: WheelTable{
			DefaultSegments: 10,
			DefaultRisk:     "low",
			Layouts:         layouts,
		},
		Plinko: PlinkoTable{
			MinRows:     8,
			MaxRows:     16,
			DefaultRows: 16,
			DefaultRisk: "medium",
			Payouts:     payouts,
		},
		Slots: SlotsTable{
			Reels:    3,
			Rows:     1,
			Symbols:  []string{"cherry", "lemon", "orange", "plum", "bell", "bar", "seven", "diamond"},
			Paylines: [][]int{{0, 0, 0}},
			Pays: map[string]map[int]float64{
				"cherry":  {2: 2, 3: 10},
				"lemon":   {2: 1, 3: 15},
				"orange":  {3: 20},
				"plum":    {3: 25},
				"bell":    {3: 40},
				"bar":     {3: 60},
				"seven":   {3: 100},
				"diamond": {3: 200},
			},
		},
	}
}
