// Command pfsim measures a game's empirical distribution over a nonce range
// and compares it with the pay table's analytic RTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/MJE43/pf-outcome-engine/internal/games"
	"github.com/MJE43/pf-outcome-engine/internal/logging"
	"github.com/MJE43/pf-outcome-engine/internal/scan"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	req        scan.SimRequest
	params     string
	tablesPath string
	workers    int
	timeout    time.Duration
	asJSON     bool
	logLevel   string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("pfsim", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.req.Game, "game", "dice", "game id")
	fs.StringVar(&o.params, "params", "", "game params as a JSON object")
	fs.Uint64Var(&o.req.Count, "count", 1_000_000, "number of nonces to evaluate")
	fs.Uint64Var(&o.req.NonceStart, "start", 0, "first nonce")
	fs.StringVar(&o.req.Seeds.Server, "server-seed", "", "server seed, generated when empty")
	fs.StringVar(&o.req.Seeds.Client, "client-seed", "", "client seed, generated when empty")
	fs.StringVar(&o.req.HistogramKey, "histogram", scan.HistogramMetric, `bucket by "metric", a details key, or "" for none`)
	fs.StringVar(&o.tablesPath, "tables", "", "pay tables JSON file with additional versions")
	fs.IntVar(&o.workers, "workers", 0, "worker count, 0 for one per CPU")
	fs.DurationVar(&o.timeout, "timeout", 0, "stop early after this long")
	fs.BoolVar(&o.asJSON, "json", false, "print the distribution as JSON")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.params != "" {
		if err := json.Unmarshal([]byte(o.params), &o.req.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "pfsim: %v\n", err)
		return 2
	}
	log, err := logging.NewWithOutput(stderr, o.logLevel, "text")
	if err != nil {
		fmt.Fprintf(stderr, "pfsim: %v\n", err)
		return 2
	}
	catalog, err := games.LoadCatalog(o.tablesPath)
	if err != nil {
		fmt.Fprintf(stderr, "pfsim: %v\n", err)
		return 2
	}
	resolver := games.NewResolver(catalog)

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	o.req.Game = strings.ToLower(o.req.Game)
	dist, err := scan.NewScanner(resolver, log).WithWorkers(o.workers).Simulate(ctx, o.req)
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{"game": o.req.Game}).Error("simulation_failed")
		fmt.Fprintf(stderr, "pfsim: %v\n", err)
		return 1
	}

	tables, err := catalog.Tables(dist.Version)
	if err != nil {
		fmt.Fprintf(stderr, "pfsim: %v\n", err)
		return 1
	}

	if o.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(dist)
		return 0
	}
	printDistribution(stdout, dist, tables.ExpectedRTP())
	return 0
}

func percent(v float64) string {
	return humanize.FormatFloat("#,###.####", v*100) + "%"
}

func printDistribution(w io.Writer, d *scan.Distribution, expected map[string]float64) {
	fmt.Fprintf(w, "game:        %s (tables %s)\n", d.Game, d.Version)
	fmt.Fprintf(w, "server hash: %s\n", logging.HashSeed(d.Seeds.Server))
	fmt.Fprintf(w, "client seed: %s\n", d.Seeds.Client)
	fmt.Fprintf(w, "evaluated:   %s nonces in %s", humanize.Comma(int64(d.Evaluated)), d.Elapsed.Round(time.Millisecond))
	if d.TimedOut {
		fmt.Fprint(w, " (stopped early)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "wins:        %s (%s)\n", humanize.Comma(int64(d.Wins)), percent(d.WinRate))
	fmt.Fprintf(w, "rtp:         %s\n", percent(d.RTP))
	fmt.Fprintf(w, "metric:      mean %s  min %s  max %s\n",
		humanize.Ftoa(d.MeanMetric), humanize.Ftoa(d.MinMetric), humanize.Ftoa(d.MaxMetric))

	var keys []string
	for _, k := range games.RTPKeys(expected) {
		if k == d.Game || strings.HasPrefix(k, d.Game+"/") {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		fmt.Fprintln(w, "analytic rtp:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %-24s %s\n", k, percent(expected[k]))
		}
	}

	if len(d.Histogram) == 0 {
		return
	}
	fmt.Fprintln(w, "histogram:")
	for _, k := range histogramKeys(d.Histogram) {
		fmt.Fprintf(w, "  %-12s %12s  %s\n", k, humanize.Comma(int64(d.Histogram[k])), percent(d.Frequency(k)))
	}
}

// histogramKeys orders numeric buckets numerically and the rest lexically.
func histogramKeys(h map[string]uint64) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.ParseFloat(keys[i], 64)
		b, errB := strconv.ParseFloat(keys[j], 64)
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}
