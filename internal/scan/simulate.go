package scan

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MJE43/pf-outcome-engine/internal/engine"
	"github.com/MJE43/pf-outcome-engine/internal/games"
)

// HistogramMetric buckets outcomes by their metric.
const HistogramMetric = "metric"

// SimRequest describes a distribution run over Count consecutive nonces.
// Empty seeds are replaced by freshly generated ones.
type SimRequest struct {
	Game       string         `json:"game"`
	Seeds      games.Seeds    `json:"seeds"`
	NonceStart uint64         `json:"nonce_start"`
	Count      uint64         `json:"count"`
	Params     map[string]any `json:"params"`
	// HistogramKey selects what outcomes are bucketed by: HistogramMetric,
	// a details key such as "segment_index", or empty for no histogram.
	HistogramKey string `json:"histogram_key,omitempty"`
}

// Distribution is the empirical behaviour of a game over a nonce range.
type Distribution struct {
	Game       string            `json:"game"`
	Version    string            `json:"version"`
	Seeds      games.Seeds       `json:"seeds"`
	Evaluated  uint64            `json:"evaluated"`
	Wins       uint64            `json:"wins"`
	WinRate    float64           `json:"win_rate"`
	RTP        float64           `json:"rtp"`
	MeanMetric float64           `json:"mean_metric"`
	MinMetric  float64           `json:"min_metric"`
	MaxMetric  float64           `json:"max_metric"`
	Histogram  map[string]uint64 `json:"histogram,omitempty"`
	TimedOut   bool              `json:"timed_out,omitempty"`
	Elapsed    time.Duration     `json:"elapsed"`
}

// Frequency returns the observed share of a histogram bucket.
func (d *Distribution) Frequency(key string) float64 {
	if d.Evaluated == 0 {
		return 0
	}
	return float64(d.Histogram[key]) / float64(d.Evaluated)
}

type simAccumulator struct {
	key        string
	wins       uint64
	multiplier float64
	stats      metricStats
	histogram  map[string]uint64
}

func (a *simAccumulator) add(_ uint64, out *games.Outcome) {
	a.stats.add(out.Metric)
	a.multiplier += out.Multiplier
	if out.Win {
		a.wins++
	}
	switch a.key {
	case "":
	case HistogramMetric:
		a.histogram[HistogramKey(out.Metric)]++
	default:
		a.histogram[HistogramKey(out.Details[a.key])]++
	}
}

// HistogramKey formats a value the way Simulate labels histogram buckets.
func HistogramKey(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return "<none>"
	default:
		return fmt.Sprint(x)
	}
}

// Simulate evaluates Count nonces and reports win rate, RTP and the
// histogram. The RTP is the mean payout multiplier per unit staked.
func (s *Scanner) Simulate(ctx context.Context, req SimRequest) (*Distribution, error) {
	if req.Count == 0 {
		return nil, fmt.Errorf("%w: count must be positive", ErrInvalidRange)
	}
	if req.NonceStart > math.MaxUint64-(req.Count-1) {
		return nil, fmt.Errorf("%w: range overflows", ErrInvalidRange)
	}

	seeds := req.Seeds
	if seeds.Server == "" {
		server, _, err := engine.GenerateServerSeed()
		if err != nil {
			return nil, err
		}
		seeds.Server = server
	}
	if seeds.Client == "" {
		client, err := engine.GenerateClientSeed()
		if err != nil {
			return nil, err
		}
		seeds.Client = client
	}

	startedAt := time.Now()
	accs, timedOut, err := s.run(ctx, req.Game, seeds, req.Params, req.NonceStart, req.NonceStart+req.Count-1, func() accumulator {
		return &simAccumulator{key: req.HistogramKey, histogram: make(map[string]uint64)}
	})
	if err != nil {
		return nil, err
	}

	tables, err := s.resolver.Catalog().Tables(versionOf(req.Params))
	if err != nil {
		return nil, err
	}

	dist := &Distribution{
		Game:     req.Game,
		Version:  tables.Version,
		Seeds:    seeds,
		TimedOut: timedOut,
	}
	if req.HistogramKey != "" {
		dist.Histogram = make(map[string]uint64)
	}

	var (
		stats metricStats
		total float64
	)
	for _, a := range accs {
		sa := a.(*simAccumulator)
		stats.merge(sa.stats)
		dist.Wins += sa.wins
		total += sa.multiplier
		for k, v := range sa.histogram {
			dist.Histogram[k] += v
		}
	}

	dist.Evaluated = stats.count
	dist.MeanMetric = stats.mean()
	dist.MinMetric = stats.min
	dist.MaxMetric = stats.max
	if stats.count > 0 {
		dist.WinRate = float64(dist.Wins) / float64(stats.count)
		dist.RTP = total / float64(stats.count)
	}
	dist.Elapsed = time.Since(startedAt)

	s.log.WithFields(logrus.Fields{
		"game":      req.Game,
		"version":   dist.Version,
		"evaluated": dist.Evaluated,
		"win_rate":  dist.WinRate,
		"rtp":       dist.RTP,
		"duration":  dist.Elapsed,
	}).Info("simulation_completed")
	return dist, nil
}
