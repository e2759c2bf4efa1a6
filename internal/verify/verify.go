// Package verify recomputes bet results from revealed seeds. It holds no
// mutable state and can run offline.
package verify

import (
	"fmt"
	"math"

	"github.com/MJE43/pf-outcome-engine/internal/engine"
	"github.com/MJE43/pf-outcome-engine/internal/games"
)

// Status is the verdict of a verification.
type Status string

const (
	StatusVerified       Status = "verified"
	StatusHashMismatch   Status = "hash_mismatch"
	StatusResultMismatch Status = "result_mismatch"
)

const claimTolerance = 1e-9

// Claim is the result the operator published for a bet. Nil fields are not
// compared.
type Claim struct {
	Metric     *float64 `json:"metric,omitempty"`
	Multiplier *float64 `json:"multiplier,omitempty"`
	Win        *bool    `json:"win,omitempty"`
}

// Request carries everything needed to recompute one bet.
type Request struct {
	Game           string         `json:"game"`
	ServerSeed     string         `json:"server_seed"`
	ServerSeedHash string         `json:"server_seed_hash"`
	ClientSeed     string         `json:"client_seed"`
	Nonce          uint64         `json:"nonce"`
	Params         map[string]any `json:"params,omitempty"`
	Claimed        *Claim         `json:"claimed,omitempty"`
}

// Report is the outcome of a verification. Mismatches are reported, never
// corrected.
type Report struct {
	Status       Status         `json:"status"`
	Game         string         `json:"game"`
	Nonce        uint64         `json:"nonce"`
	ComputedHash string         `json:"computed_hash"`
	ExpectedHash string         `json:"expected_hash"`
	Outcome      *games.Outcome `json:"outcome,omitempty"`
	Mismatches   []string       `json:"mismatches,omitempty"`
}

// Verifier recomputes outcomes with a resolver.
type Verifier struct {
	resolver *games.Resolver
}

// New creates a verifier; a nil resolver uses the built-in tables.
func New(resolver *games.Resolver) *Verifier {
	if resolver == nil {
		resolver = games.NewResolver(nil)
	}
	return &Verifier{resolver: resolver}
}

// Verify checks the seed commitment first and stops on a mismatch. It then
// re-resolves the bet and compares it with the claimed result, if any.
// Errors are returned only for requests that cannot be evaluated at all.
func (v *Verifier) Verify(req Request) (Report, error) {
	if req.ServerSeed == "" || req.ClientSeed == "" {
		return Report{}, fmt.Errorf("verify: %w", engine.ErrInvalidSeedMaterial)
	}

	report := Report{
		Game:         req.Game,
		Nonce:        req.Nonce,
		ComputedHash: engine.HashServerSeed(req.ServerSeed),
		ExpectedHash: req.ServerSeedHash,
	}

	if !engine.VerifyServerSeed(req.ServerSeed, req.ServerSeedHash) {
		report.Status = StatusHashMismatch
		return report, nil
	}

	outcome, err := v.resolver.Resolve(req.Game, games.Seeds{Server: req.ServerSeed, Client: req.ClientSeed}, req.Nonce, req.Params)
	if err != nil {
		return Report{}, fmt.Errorf("verify %s nonce %d: %w", req.Game, req.Nonce, err)
	}
	report.Outcome = &outcome

	if req.Claimed != nil {
		report.Mismatches = compare(outcome, *req.Claimed)
	}
	if len(report.Mismatches) > 0 {
		report.Status = StatusResultMismatch
	} else {
		report.Status = StatusVerified
	}
	return report, nil
}

func compare(got games.Outcome, claim Claim) []string {
	var mismatches []string
	if claim.Metric != nil && math.Abs(*claim.Metric-got.Metric) > claimTolerance {
		mismatches = append(mismatches, fmt.Sprintf("%s: claimed %v, computed %v", got.MetricLabel, *claim.Metric, got.Metric))
	}
	if claim.Multiplier != nil && math.Abs(*claim.Multiplier-got.Multiplier) > claimTolerance {
		mismatches = append(mismatches, fmt.Sprintf("multiplier: claimed %v, computed %v", *claim.Multiplier, got.Multiplier))
	}
	if claim.Win != nil && *claim.Win != got.Win {
		mismatches = append(mismatches, fmt.Sprintf("win: claimed %v, computed %v", *claim.Win, got.Win))
	}
	return mismatches
}
