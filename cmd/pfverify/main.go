// Command pfverify recomputes a bet from its revealed seeds without
// contacting the service.
//
//	pfverify -game dice -server-seed <seed> -hash <sha256> -client-seed <seed> -nonce 3 -params '{"target":50}'
//	pfverify -in request.json
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/MJE43/pf-outcome-engine/internal/games"
	"github.com/MJE43/pf-outcome-engine/internal/verify"
)

// Exit codes: 0 verified, 1 hash or result mismatch, 2 bad input.
const (
	exitVerified = 0
	exitMismatch = 1
	exitUsage    = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	in         string
	tablesPath string
	asJSON     bool
	req        verify.Request
	params     string
	claimed    claimFlags
}

type claimFlags struct {
	metric     optionalFloat
	multiplier optionalFloat
	win        optionalBool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("pfverify", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.in, "in", "", "read a JSON verify request from a file, - for stdin")
	fs.StringVar(&o.tablesPath, "tables", "", "pay tables JSON file with additional versions")
	fs.BoolVar(&o.asJSON, "json", false, "print the report as JSON")
	fs.StringVar(&o.req.Game, "game", "", "game id")
	fs.StringVar(&o.req.ServerSeed, "server-seed", "", "revealed server seed")
	fs.StringVar(&o.req.ServerSeedHash, "hash", "", "published server seed hash")
	fs.StringVar(&o.req.ClientSeed, "client-seed", "", "client seed")
	fs.Uint64Var(&o.req.Nonce, "nonce", 0, "bet nonce")
	fs.StringVar(&o.params, "params", "", "bet params as a JSON object")
	fs.Var(&o.claimed.metric, "claimed-metric", "metric the operator reported")
	fs.Var(&o.claimed.multiplier, "claimed-multiplier", "multiplier the operator reported")
	fs.Var(&o.claimed.win, "claimed-win", "win flag the operator reported")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *options) request(stdin io.Reader) (verify.Request, error) {
	if o.in != "" {
		var r io.Reader = stdin
		if o.in != "-" {
			f, err := os.Open(o.in)
			if err != nil {
				return verify.Request{}, err
			}
			defer f.Close()
			r = f
		}
		var req verify.Request
		if err := json.NewDecoder(r).Decode(&req); err != nil {
			return verify.Request{}, fmt.Errorf("decode %s: %w", o.in, err)
		}
		return req, nil
	}

	req := o.req
	if o.params != "" {
		if err := json.Unmarshal([]byte(o.params), &req.Params); err != nil {
			return verify.Request{}, fmt.Errorf("decode params: %w", err)
		}
	}
	if o.claimed.metric.set || o.claimed.multiplier.set || o.claimed.win.set {
		req.Claimed = &verify.Claim{
			Metric:     o.claimed.metric.ptr(),
			Multiplier: o.claimed.multiplier.ptr(),
			Win:        o.claimed.win.ptr(),
		}
	}
	if req.Game == "" || req.ServerSeed == "" || req.ServerSeedHash == "" || req.ClientSeed == "" {
		return verify.Request{}, errors.New("-game, -server-seed, -hash and -client-seed are required")
	}
	return req, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return exitUsage
	}
	req, err := o.request(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "pfverify: %v\n", err)
		return exitUsage
	}
	catalog, err := games.LoadCatalog(o.tablesPath)
	if err != nil {
		fmt.Fprintf(stderr, "pfverify: %v\n", err)
		return exitUsage
	}

	report, err := verify.New(games.NewResolver(catalog)).Verify(req)
	if err != nil {
		fmt.Fprintf(stderr, "pfverify: %v\n", err)
		return exitUsage
	}

	if o.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	} else {
		printReport(stdout, report)
	}
	if report.Status != verify.StatusVerified {
		return exitMismatch
	}
	return exitVerified
}

func printReport(w io.Writer, r verify.Report) {
	fmt.Fprintf(w, "status:        %s\n", r.Status)
	fmt.Fprintf(w, "game:          %s\n", r.Game)
	fmt.Fprintf(w, "nonce:         %d\n", r.Nonce)
	fmt.Fprintf(w, "expected hash: %s\n", r.ExpectedHash)
	fmt.Fprintf(w, "computed hash: %s\n", r.ComputedHash)
	if o := r.Outcome; o != nil {
		fmt.Fprintf(w, "tables:        %s\n", o.Version)
		fmt.Fprintf(w, "%-14s %v\n", o.MetricLabel+":", o.Metric)
		fmt.Fprintf(w, "multiplier:    %v\n", o.Multiplier)
		fmt.Fprintf(w, "win:           %t\n", o.Win)
		fmt.Fprintf(w, "raw bytes:     %s\n", o.RawBytes)
	}
	for _, m := range r.Mismatches {
		fmt.Fprintf(w, "mismatch:      %s\n", m)
	}
}
