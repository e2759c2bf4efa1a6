package games

import "fmt"

// SlotsGame fills a reels x rows grid one byte per cell, reel-major.
type SlotsGame struct{}

// LineWin is a paying payline.
type LineWin struct {
	Line   int     `json:"line"`
	Symbol string  `json:"symbol"`
	Run    int     `json:"run"`
	Pay    float64 `json:"pay"`
}

// Spec returns metadata about the Slots game.
func (g *SlotsGame) Spec() GameSpec {
	return GameSpec{
		ID:          "slots",
		Name:        "Slots",
		MetricLabel: "multiplier",
	}
}

// ByteCount returns one byte per grid cell.
func (g *SlotsGame) ByteCount(_ map[string]any, t *Tables) (int, error) {
	return t.Slots.Reels * t.Slots.Rows, nil
}

// EvaluateBytes maps each byte to symbol b mod len(symbols) and pays the
// left-anchored run of each payline. The multiplier is the total line pay
// divided by the number of lines, so the stake is spread across lines.
func (g *SlotsGame) EvaluateBytes(raw []byte, _ map[string]any, t *Tables) (Outcome, error) {
	s := t.Slots
	cells := s.Reels * s.Rows
	if len(raw) < cells {
		return Outcome{}, fmt.Errorf("slots requires %d bytes, got %d", cells, len(raw))
	}

	grid := make([][]string, s.Reels)
	for reel := 0; reel < s.Reels; reel++ {
		grid[reel] = make([]string, s.Rows)
		for row := 0; row < s.Rows; row++ {
			b := raw[reel*s.Rows+row]
			grid[reel][row] = s.Symbols[int(b)%len(s.Symbols)]
		}
	}

	var wins []LineWin
	total := 0.0
	for i, line := range s.Paylines {
		first := grid[0][line[0]]
		run := 1
		for reel := 1; reel < s.Reels && grid[reel][line[reel]] == first; reel++ {
			run++
		}
		if pay := s.Pays[first][run]; pay > 0 {
			wins = append(wins, LineWin{Line: i, Symbol: first, Run: run, Pay: pay})
			total += pay
		}
	}

	multiplier := total / float64(len(s.Paylines))
	return Outcome{
		Metric:      multiplier,
		MetricLabel: "multiplier",
		Win:         multiplier > 1,
		Multiplier:  multiplier,
		Details: map[string]any{
			"grid":      grid,
			"line_wins": wins,
		},
	}, nil
}
