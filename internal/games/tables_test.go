package games

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestV1TablesValidate(t *testing.T) {
	require.NoError(t, V1Tables().Validate())
	require.NoError(t, DefaultCatalog().Validate())
}

func TestV1ExpectedRTP(t *testing.T) {
	rtp := V1Tables().ExpectedRTP()

	assert.InDelta(t, 0.99, rtp["dice"], 1e-12)
	assert.InDelta(t, 0.99, rtp["coinflip"], 1e-12)
	assert.InDelta(t, 0.99, rtp["crash"], 1e-8)
	assert.InDelta(t, 0.99, rtp["crash/2"], 1e-8)
	assert.InDelta(t, 0.99, rtp["crash/10"], 1e-8)
	assert.InDelta(t, 0.99, rtp["crash/100"], 1e-7)
	assert.InDelta(t, 491.0/512.0, rtp["slots"], 1e-12)

	for _, key := range RTPKeys(rtp) {
		switch {
		case len(key) > 6 && key[:6] == "wheel/":
			assert.InDelta(t, 0.99, rtp[key], 1e-9, key)
		case len(key) > 7 && key[:7] == "plinko/":
			assert.GreaterOrEqual(t, rtp[key], 0.985, key)
			assert.LessOrEqual(t, rtp[key], 0.995, key)
		}
	}
	assert.Len(t, rtp, 3+3+15+27+1)
}

func TestPlinkoRTP(t *testing.T) {
	// 8 rows: buckets weighted 1,8,28,56,70,56,28,8,1 over 256.
	assert.InDelta(t, 1.0, PlinkoRTP([]float64{1, 1, 1, 1, 1, 1, 1, 1, 1}), 1e-12)
	assert.InDelta(t, 70.0/256.0, PlinkoRTP([]float64{0, 0, 0, 0, 1, 0, 0, 0, 0}), 1e-12)
}

func TestSlotsRTPModuloBias(t *testing.T) {
	s := SlotsTable{
		Reels:    1,
		Rows:     1,
		Symbols:  []string{"a", "b", "c"},
		Paylines: [][]int{{0}},
		Pays:     map[string]map[int]float64{"a": {1: 1}},
	}
	// 256 = 3*85 + 1, so "a" owns 86 of 256 byte values.
	assert.InDelta(t, 86.0/256.0, SlotsRTP(s), 1e-12)
}

func TestTablesValidateRejects(t *testing.T) {
	cases := map[string]func(*Tables){
		"wheel probabilities": func(tb *Tables) {
			tb.Wheel.Layouts[10]["low"][0].Probability = 0.2
		},
		"wheel length": func(tb *Tables) {
			tb.Wheel.Layouts[10]["low"] = tb.Wheel.Layouts[10]["low"][:9]
		},
		"plinko asymmetric": func(tb *Tables) {
			tb.Plinko.Payouts["low"][8][0] = 6
		},
		"plinko length": func(tb *Tables) {
			tb.Plinko.Payouts["low"][8] = tb.Plinko.Payouts["low"][8][:8]
		},
		"plinko missing rows": func(tb *Tables) {
			delete(tb.Plinko.Payouts["high"], 12)
		},
		"slots payline": func(tb *Tables) {
			tb.Slots.Paylines = [][]int{{0, 0}}
		},
		"slots unknown symbol": func(tb *Tables) {
			tb.Slots.Pays["joker"] = map[int]float64{3: 5}
		},
		"slots duplicate symbol": func(tb *Tables) {
			tb.Slots.Symbols[1] = "cherry"
		},
		"crash formula": func(tb *Tables) {
			tb.Crash.Formula = "linear"
		},
		"house edge": func(tb *Tables) {
			tb.Dice.HouseEdge = 1
		},
		"dice bounds": func(tb *Tables) {
			tb.Dice.MaxWinChance = 100
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tb := V1Tables()
			mutate(tb)
			assert.Error(t, tb.Validate())
		})
	}
}

func writeCatalogFile(t *testing.T, c *Catalog) string {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "tables.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadCatalogAddsVersion(t *testing.T) {
	v2 := V1Tables()
	v2.Dice.HouseEdge = 0.02
	path := writeCatalogFile(t, &Catalog{
		Current:           "v2",
		RotationThreshold: 500,
		Versions:          map[string]*Tables{"v2": v2},
	})

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", c.Current)
	assert.Equal(t, uint64(500), c.RotationThreshold)
	assert.Equal(t, []string{"v1", "v2"}, c.VersionNames())

	// Historic bets keep resolving against v1.
	r := NewResolver(c)
	old, err := r.Resolve("dice", fixtureSeeds, 0, map[string]any{"target": 50, "version": "v1"})
	require.NoError(t, err)
	assert.Equal(t, 1.98, old.Multiplier)
	assert.Equal(t, "v1", old.Version)

	cur, err := r.Resolve("dice", fixtureSeeds, 0, map[string]any{"target": 50})
	require.NoError(t, err)
	assert.Equal(t, 1.96, cur.Multiplier)
	assert.Equal(t, "v2", cur.Version)
}

func TestLoadCatalogRejectsRedefinition(t *testing.T) {
	v1 := V1Tables()
	v1.Coinflip.HouseEdge = 0
	path := writeCatalogFile(t, &Catalog{Versions: map[string]*Tables{"v1": v1}})

	_, err := LoadCatalog(path)
	assert.Error(t, err)
}

func TestLoadCatalogRejectsInvalidTables(t *testing.T) {
	bad := V1Tables()
	bad.Plinko.Payouts["low"][9][0] = 1
	path := writeCatalogFile(t, &Catalog{Versions: map[string]*Tables{"v3": bad}})

	_, err := LoadCatalog(path)
	assert.Error(t, err)
}

func TestLoadCatalogUnknownCurrent(t *testing.T) {
	path := writeCatalogFile(t, &Catalog{Current: "v7"})
	_, err := LoadCatalog(path)
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestLoadCatalogEmptyPath(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, c.Current)
	assert.Equal(t, uint64(DefaultRotationThreshold), c.RotationThreshold)
}
