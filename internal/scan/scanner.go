// Package scan evaluates large nonce ranges in parallel, either to find
// nonces whose metric matches a target or to measure a game's empirical
// distribution.
package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/MJE43/pf-outcome-engine/internal/engine"
	"github.com/MJE43/pf-outcome-engine/internal/games"
)

const (
	defaultBatchSize = 8192 // 8k nonces per batch for good throughput
	defaultHitLimit  = 1000
	cancelCheckEvery = 1024
)

// Request describes a scan over [NonceStart, NonceEnd].
type Request struct {
	Game       string         `json:"game"`
	Seeds      games.Seeds    `json:"seeds"`
	NonceStart uint64         `json:"nonce_start"`
	NonceEnd   uint64         `json:"nonce_end"`
	Params     map[string]any `json:"params"`
	TargetOp   TargetOp       `json:"target_op"`
	TargetVal  float64        `json:"target_val"`
	TargetVal2 float64        `json:"target_val2,omitempty"` // for "between" and "outside"
	Tolerance  float64        `json:"tolerance"`
	Limit      int            `json:"limit,omitempty"`
	Timeout    time.Duration  `json:"timeout,omitempty"`
}

// Hit represents a single matching result
type Hit struct {
	Nonce  uint64  `json:"nonce"`
	Metric float64 `json:"metric"`
}

// Summary contains aggregate statistics over every evaluated nonce.
type Summary struct {
	TotalEvaluated uint64  `json:"total_evaluated"`
	HitsFound      uint64  `json:"hits_found"`
	MinMetric      float64 `json:"min_metric"`
	MaxMetric      float64 `json:"max_metric"`
	MeanMetric     float64 `json:"mean_metric"`
	TimedOut       bool    `json:"timed_out,omitempty"`
}

// Result holds the lowest-nonce hits, up to the request limit.
type Result struct {
	Hits    []Hit   `json:"hits"`
	Summary Summary `json:"summary"`
	Version string  `json:"version"`
	Elapsed string  `json:"elapsed"`
}

// Scanner runs evaluations on a fixed-size worker pool.
type Scanner struct {
	resolver    *games.Resolver
	workerCount int
	batchSize   uint64
	log         logrus.FieldLogger
}

// NewScanner creates a scanner with one worker per CPU.
func NewScanner(resolver *games.Resolver, log logrus.FieldLogger) *Scanner {
	if resolver == nil {
		resolver = games.NewResolver(nil)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scanner{
		resolver:    resolver,
		workerCount: runtime.GOMAXPROCS(0),
		batchSize:   defaultBatchSize,
		log:         log,
	}
}

// WithWorkers returns a copy of the scanner using n workers.
func (s *Scanner) WithWorkers(n int) *Scanner {
	c := *s
	if n > 0 {
		c.workerCount = n
	}
	return &c
}

type job struct {
	start, end uint64 // inclusive
}

// accumulator collects per-worker results; accumulators are merged after
// all workers finish, so they need no locking.
type accumulator interface {
	add(nonce uint64, out *games.Outcome)
}

// run evaluates every nonce in [start, end] and feeds the outcomes to one
// accumulator per worker. It reports whether ctx ended before the range was
// covered.
func (s *Scanner) run(ctx context.Context, gameID string, seeds games.Seeds, params map[string]any, start, end uint64, newAcc func() accumulator) ([]accumulator, bool, error) {
	if end < start {
		return nil, false, fmt.Errorf("%w: end %d before start %d", ErrInvalidRange, end, start)
	}
	if err := s.resolver.Validate(gameID, params); err != nil {
		return nil, false, err
	}
	n, err := s.resolver.ByteCount(gameID, params)
	if err != nil {
		return nil, false, err
	}
	if _, err := engine.NewByteGenerator(seeds.Server, seeds.Client, 0, 0); err != nil {
		return nil, false, err
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job, s.workerCount*2)

	g.Go(func() error {
		defer close(jobs)
		for current := start; ; {
			batchEnd := end
			if end-current >= s.batchSize {
				batchEnd = current + s.batchSize - 1
			}
			select {
			case jobs <- job{start: current, end: batchEnd}:
			case <-gctx.Done():
				return nil
			}
			if batchEnd == end {
				return nil
			}
			current = batchEnd + 1
		}
	})

	accs := make([]accumulator, 0, s.workerCount)
	for i := 0; i < s.workerCount; i++ {
		acc := newAcc()
		accs = append(accs, acc)

		g.Go(func() error {
			buf := make([]byte, n)
			for j := range jobs {
				for nonce := j.start; ; nonce++ {
					if (nonce-j.start)%cancelCheckEvery == 0 && gctx.Err() != nil {
						return nil
					}
					bg, err := engine.NewByteGenerator(seeds.Server, seeds.Client, nonce, 0)
					if err != nil {
						return err
					}
					_, _ = bg.Read(buf)
					out, err := s.resolver.EvaluateBytes(gameID, buf, nonce, params)
					if err != nil {
						return fmt.Errorf("evaluate nonce %d: %w", nonce, err)
					}
					acc.add(nonce, &out)
					if nonce == j.end {
						break
					}
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return accs, true, nil
		}
		return nil, false, err
	}
	return accs, false, nil
}

type metricStats struct {
	count    uint64
	sum      float64
	min, max float64
}

func (m *metricStats) add(v float64) {
	if m.count == 0 || v < m.min {
		m.min = v
	}
	if m.count == 0 || v > m.max {
		m.max = v
	}
	m.count++
	m.sum += v
}

func (m *metricStats) merge(o metricStats) {
	if o.count == 0 {
		return
	}
	if m.count == 0 || o.min < m.min {
		m.min = o.min
	}
	if m.count == 0 || o.max > m.max {
		m.max = o.max
	}
	m.count += o.count
	m.sum += o.sum
}

func (m *metricStats) mean() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

type hitAccumulator struct {
	evaluator *TargetEvaluator
	limit     int
	hits      []Hit
	found     uint64
	stats     metricStats
}

// add keeps only the first limit hits of this worker. Jobs are handed out
// in nonce order, so the global lowest hits always survive the cut.
func (h *hitAccumulator) add(nonce uint64, out *games.Outcome) {
	h.stats.add(out.Metric)
	if !h.evaluator.Matches(out.Metric) {
		return
	}
	h.found++
	if len(h.hits) < h.limit {
		h.hits = append(h.hits, Hit{Nonce: nonce, Metric: out.Metric})
	}
}

// Scan finds nonces whose metric matches the request target.
func (s *Scanner) Scan(ctx context.Context, req Request) (*Result, error) {
	if !req.TargetOp.Valid() {
		return nil, fmt.Errorf("%w: unknown target op %q", games.ErrInvalidParams, req.TargetOp)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHitLimit
	}
	tolerance := req.Tolerance
	if tolerance == 0 {
		tolerance = 1e-9
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	startedAt := time.Now()
	evaluator := NewTargetEvaluator(req.TargetOp, req.TargetVal, req.TargetVal2, tolerance)
	accs, timedOut, err := s.run(ctx, req.Game, req.Seeds, req.Params, req.NonceStart, req.NonceEnd, func() accumulator {
		return &hitAccumulator{evaluator: evaluator, limit: limit}
	})
	if err != nil {
		return nil, err
	}

	var (
		hits  []Hit
		stats metricStats
		found uint64
	)
	for _, a := range accs {
		h := a.(*hitAccumulator)
		hits = append(hits, h.hits...)
		stats.merge(h.stats)
		found += h.found
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Nonce < hits[j].Nonce })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	if hits == nil {
		hits = []Hit{}
	}

	tables, err := s.resolver.Catalog().Tables(versionOf(req.Params))
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(startedAt)
	s.log.WithFields(logrus.Fields{
		"game":      req.Game,
		"evaluated": stats.count,
		"hits":      found,
		"timed_out": timedOut,
		"duration":  elapsed,
	}).Info("scan_completed")

	return &Result{
		Hits: hits,
		Summary: Summary{
			TotalEvaluated: stats.count,
			HitsFound:      found,
			MinMetric:      stats.min,
			MaxMetric:      stats.max,
			MeanMetric:     stats.mean(),
			TimedOut:       timedOut,
		},
		Version: tables.Version,
		Elapsed: elapsed.String(),
	}, nil
}

func versionOf(params map[string]any) string {
	if v, ok := params[games.VersionParam].(string); ok {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return ""
}
