package games

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixtureSeeds = Seeds{
	Server: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	Client: "player1",
}

func TestAllGamesRegistered(t *testing.T) {
	for _, id := range []string{"dice", "coinflip", "crash", "wheel", "plinko", "slots"} {
		game, ok := GetGame(id)
		require.True(t, ok, "game %s not found in registry", id)
		assert.Equal(t, id, game.Spec().ID)
	}

	specs := ListGames()
	require.Len(t, specs, 6)
	for i := 1; i < len(specs); i++ {
		assert.Less(t, specs[i-1].ID, specs[i].ID)
	}
}

func TestDiceConformanceFixture(t *testing.T) {
	r := NewResolver(nil)
	out, err := r.Resolve("dice", fixtureSeeds, 0, map[string]any{"target": 50.0, "condition": "under"})
	require.NoError(t, err)

	assert.Equal(t, "dice", out.Game)
	assert.Equal(t, DefaultVersion, out.Version)
	assert.Equal(t, 44.24, out.Metric)
	assert.True(t, out.Win)
	assert.Equal(t, 1.98, out.Multiplier)
	assert.Equal(t, 4, out.BytesConsumed)
	assert.Equal(t, "714196a0", out.RawBytes)
}

func TestDiceGoldenRolls(t *testing.T) {
	r := NewResolver(nil)
	want := []float64{44.24, 36.31, 83.63, 3.86, 97.61}
	for nonce, roll := range want {
		out, err := r.Resolve("dice", fixtureSeeds, uint64(nonce), map[string]any{"target": 50, "condition": "over"})
		require.NoError(t, err)
		assert.Equal(t, roll, out.Metric, "nonce %d", nonce)
		assert.Equal(t, roll > 50, out.Win, "nonce %d", nonce)
	}
}

func TestDiceBoundaries(t *testing.T) {
	g := &DiceGame{}
	tables := V1Tables()

	// 0xffffffff maps to the highest roll, 99.99.
	out, err := g.EvaluateBytes([]byte{0xff, 0xff, 0xff, 0xff}, map[string]any{"target": 50}, tables)
	require.NoError(t, err)
	assert.Equal(t, 99.99, out.Metric)
	assert.False(t, out.Win)

	out, err = g.EvaluateBytes([]byte{0, 0, 0, 0}, map[string]any{"target": 50}, tables)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.Metric)
	assert.True(t, out.Win)

	// A roll equal to the target never wins either way.
	f := []byte{0x80, 0, 0, 0} // 0.5 -> 50.00
	out, err = g.EvaluateBytes(f, map[string]any{"target": 50, "condition": "under"}, tables)
	require.NoError(t, err)
	assert.Equal(t, 50.0, out.Metric)
	assert.False(t, out.Win)
	out, err = g.EvaluateBytes(f, map[string]any{"target": 50, "condition": "over"}, tables)
	require.NoError(t, err)
	assert.False(t, out.Win)
}

func TestDiceMultiplier(t *testing.T) {
	tests := []struct {
		winChance float64
		expected  float64
	}{
		{50, 1.98},
		{49.5, 2},
		{98, 1.0102},
		{33.33, 2.9702},
		{0.01, 9900},
		{1, 99},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, diceMultiplier(0.01, tt.winChance), "win chance %v", tt.winChance)
	}
}

func TestDiceRejectsInvalidParams(t *testing.T) {
	r := NewResolver(nil)
	cases := []map[string]any{
		nil,
		{"target": 50.001},
		{"target": 99, "condition": "under"},
		{"target": 0, "condition": "under"},
		{"target": 50, "condition": "sideways"},
		{"target": "fifty"},
		{"target": []int{1}},
	}
	for _, params := range cases {
		assert.ErrorIs(t, r.Validate("dice", params), ErrInvalidParams, "%v", params)
	}
	assert.NoError(t, r.Validate("dice", map[string]any{"target": "2.5", "condition": "OVER"}))
}

func TestCoinflipGolden(t *testing.T) {
	r := NewResolver(nil)
	want := []string{"tails", "heads", "heads", "tails", "tails"}
	for nonce, side := range want {
		out, err := r.Resolve("coinflip", fixtureSeeds, uint64(nonce), map[string]any{"side": "heads"})
		require.NoError(t, err)
		assert.Equal(t, side, out.Details["result"], "nonce %d", nonce)
		assert.Equal(t, side == "heads", out.Win)
		if out.Win {
			assert.Equal(t, 1.98, out.Multiplier)
		} else {
			assert.Zero(t, out.Multiplier)
		}
		assert.Equal(t, 1, out.BytesConsumed)
	}

	assert.ErrorIs(t, r.Validate("coinflip", map[string]any{"side": "edge"}), ErrInvalidParams)
	assert.ErrorIs(t, r.Validate("coinflip", nil), ErrInvalidParams)
}

func TestCrashGolden(t *testing.T) {
	r := NewResolver(nil)
	want := []float64{1.77, 1.55, 6.04, 1.02, 41.54}
	for nonce, point := range want {
		out, err := r.Resolve("crash", fixtureSeeds, uint64(nonce), map[string]any{"target": 2})
		require.NoError(t, err)
		assert.Equal(t, point, out.Metric, "nonce %d", nonce)
		assert.Equal(t, point >= 2, out.Win)
		if out.Win {
			assert.Equal(t, 2.0, out.Multiplier)
		}
		assert.Equal(t, CrashFormulaInverseV1, out.Details["formula"])
	}
}

func TestCrashPoint(t *testing.T) {
	assert.Equal(t, 1.0, CrashPoint(0, 0.01))
	assert.Equal(t, 1.98, CrashPoint(0.5, 0.01))
	assert.Equal(t, 1.0, CrashPoint(0.005, 0.01))
	assert.Greater(t, CrashPoint(4294967295.0/4294967296.0, 0.01), 1e9)

	// A target equal to the crash point wins.
	g := &CrashGame{}
	out, err := g.EvaluateBytes([]byte{0x80, 0, 0, 0}, map[string]any{"target": 1.98}, V1Tables())
	require.NoError(t, err)
	assert.True(t, out.Win)

	r := NewResolver(nil)
	assert.ErrorIs(t, r.Validate("crash", map[string]any{"target": 1.0}), ErrInvalidParams)
	assert.ErrorIs(t, r.Validate("crash", map[string]any{"target": 2.005}), ErrInvalidParams)
	assert.ErrorIs(t, r.Validate("crash", nil), ErrInvalidParams)
}

func TestCrashWinChanceMatchesEvaluation(t *testing.T) {
	g := &CrashGame{}
	tables := V1Tables()
	he := tables.Crash.HouseEdge

	for _, target := range []float64{1.01, 2, 10, 100, 1000000} {
		chance := CrashWinChance(target, he)
		assert.InDelta(t, (1-he)/target, chance, 1e-8, "target %v", target)
		assert.InDelta(t, 1-he, CrashRTP(target, he), 1e-5, "target %v", target)

		// The first winning 32-bit draw sits exactly where the chance says.
		first := uint32((1 - chance) * (1 << 32))
		var raw [4]byte
		binary.BigEndian.PutUint32(raw[:], first)
		out, err := g.EvaluateBytes(raw[:], map[string]any{"target": target}, tables)
		require.NoError(t, err)
		assert.True(t, out.Win, "target %v at draw %d", target, first)

		binary.BigEndian.PutUint32(raw[:], first-1)
		out, err = g.EvaluateBytes(raw[:], map[string]any{"target": target}, tables)
		require.NoError(t, err)
		assert.False(t, out.Win, "target %v at draw %d", target, first-1)
	}

	assert.Equal(t, 1.0, CrashWinChance(1, he))
}

func TestWheelGolden(t *testing.T) {
	r := NewResolver(nil)
	wantIndex := []int{4, 3, 8, 0, 9}
	wantMedium := []float64{0, 1.5, 0, 0, 3}
	for nonce := range wantIndex {
		out, err := r.Resolve("wheel", fixtureSeeds, uint64(nonce), map[string]any{"segments": 10, "risk": "medium"})
		require.NoError(t, err)
		assert.Equal(t, wantIndex[nonce], out.Details["segment_index"], "nonce %d", nonce)
		assert.Equal(t, wantMedium[nonce], out.Multiplier, "nonce %d", nonce)
	}
}

func TestWheelDefaultsAndCombos(t *testing.T) {
	r := NewResolver(nil)

	out, err := r.Resolve("wheel", fixtureSeeds, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, out.Details["segments"])
	assert.Equal(t, "low", out.Details["risk"])
	assert.Equal(t, 1.2, out.Multiplier)

	for _, seg := range []int{10, 20, 30, 40, 50} {
		for _, risk := range []string{"low", "medium", "high"} {
			params := map[string]any{"segments": float64(seg), "risk": risk}
			_, err := r.Resolve("wheel", fixtureSeeds, 1, params)
			assert.NoError(t, err, "segments=%d risk=%s", seg, risk)
		}
	}

	assert.ErrorIs(t, r.Validate("wheel", map[string]any{"segments": 15}), ErrInvalidParams)
	assert.ErrorIs(t, r.Validate("wheel", map[string]any{"risk": "extreme"}), ErrInvalidParams)
}

func TestSelectSegmentTiesAndRemainder(t *testing.T) {
	layout := []WheelSegment{{Multiplier: 0, Probability: 0.25}, {Multiplier: 2, Probability: 0.25}, {Multiplier: 3, Probability: 0.5}}
	assert.Equal(t, 0, SelectSegment(layout, 0))
	assert.Equal(t, 0, SelectSegment(layout, 0.25))
	assert.Equal(t, 1, SelectSegment(layout, 0.2500001))
	assert.Equal(t, 2, SelectSegment(layout, 0.9999999))

	short := []WheelSegment{{Probability: 0.3}, {Probability: 0.3}, {Probability: 0.3999999}}
	assert.Equal(t, 2, SelectSegment(short, 0.99999999))
}

func TestPlinkoGolden(t *testing.T) {
	r := NewResolver(nil)
	wantBucket := []int{5, 4, 3, 4, 6}
	wantLow := []float64{1, 0.5, 1, 0.5, 1.1}
	for nonce := range wantBucket {
		out, err := r.Resolve("plinko", fixtureSeeds, uint64(nonce), map[string]any{"rows": 8, "risk": "low"})
		require.NoError(t, err)
		assert.Equal(t, wantBucket[nonce], out.Details["bucket"], "nonce %d", nonce)
		assert.Equal(t, wantLow[nonce], out.Multiplier, "nonce %d", nonce)
		assert.Equal(t, 8, out.BytesConsumed)
	}

	out, err := r.Resolve("plinko", fixtureSeeds, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, out.BytesConsumed)
	assert.Equal(t, 8, out.Details["bucket"])
	assert.Equal(t, 0.3, out.Multiplier)
}

func TestPlinkoRejectsInvalidParams(t *testing.T) {
	r := NewResolver(nil)
	assert.ErrorIs(t, r.Validate("plinko", map[string]any{"rows": 7}), ErrInvalidParams)
	assert.ErrorIs(t, r.Validate("plinko", map[string]any{"rows": 17}), ErrInvalidParams)
	assert.ErrorIs(t, r.Validate("plinko", map[string]any{"rows": 8.5}), ErrInvalidParams)
	assert.ErrorIs(t, r.Validate("plinko", map[string]any{"risk": "extreme"}), ErrInvalidParams)
}

func TestSlotsGolden(t *testing.T) {
	r := NewResolver(nil)
	wantGrid := [][]string{
		{"lemon", "lemon", "seven"},
		{"bell", "cherry", "bell"},
		{"seven", "diamond", "bell"},
		{"lemon", "orange", "seven"},
		{"lemon", "seven", "seven"},
	}
	wantMultiplier := []float64{1, 0, 0, 0, 0}

	for nonce, row := range wantGrid {
		out, err := r.Resolve("slots", fixtureSeeds, uint64(nonce), nil)
		require.NoError(t, err)
		grid := out.Details["grid"].([][]string)
		for reel, sym := range row {
			assert.Equal(t, sym, grid[reel][0], "nonce %d reel %d", nonce, reel)
		}
		assert.Equal(t, wantMultiplier[nonce], out.Multiplier, "nonce %d", nonce)
		assert.Equal(t, 3, out.BytesConsumed)
	}
}

func TestSlotsTriplePays(t *testing.T) {
	g := &SlotsGame{}
	out, err := g.EvaluateBytes([]byte{7, 15, 255}, nil, V1Tables())
	require.NoError(t, err)
	assert.Equal(t, 200.0, out.Multiplier)
	assert.True(t, out.Win)

	wins := out.Details["line_wins"].([]LineWin)
	require.Len(t, wins, 1)
	assert.Equal(t, LineWin{Line: 0, Symbol: "diamond", Run: 3, Pay: 200}, wins[0])
}

func TestResolveDeterministic(t *testing.T) {
	r := NewResolver(nil)
	params := map[string]any{"rows": 12, "risk": "high"}
	for nonce := uint64(0); nonce < 50; nonce++ {
		a, err := r.Resolve("plinko", fixtureSeeds, nonce, params)
		require.NoError(t, err)
		b, err := r.Resolve("plinko", fixtureSeeds, nonce, params)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestResolveErrors(t *testing.T) {
	r := NewResolver(nil)

	_, err := r.Resolve("blackjack", fixtureSeeds, 0, nil)
	assert.ErrorIs(t, err, ErrGameNotFound)

	_, err = r.Resolve("coinflip", fixtureSeeds, 0, map[string]any{"side": "heads", "version": "v9"})
	assert.ErrorIs(t, err, ErrUnknownVersion)

	_, err = r.Resolve("coinflip", Seeds{Server: "", Client: "c"}, 0, map[string]any{"side": "heads"})
	assert.Error(t, err)
}

func TestWithVersion(t *testing.T) {
	params := map[string]any{"target": 50}
	pinned := WithVersion(params, "v1")
	assert.Equal(t, "v1", pinned[VersionParam])
	assert.NotContains(t, params, VersionParam)

	kept := WithVersion(map[string]any{VersionParam: "v2"}, "v1")
	assert.Equal(t, "v2", kept[VersionParam])
}

func BenchmarkResolveDice(b *testing.B) {
	r := NewResolver(nil)
	params := map[string]any{"target": 50, "condition": "under"}
	for i := 0; i < b.N; i++ {
		_, _ = r.Resolve("dice", fixtureSeeds, uint64(i), params)
	}
}
