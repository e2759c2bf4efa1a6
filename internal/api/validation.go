package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/MJE43/pf-outcome-engine/internal/games"
	"github.com/MJE43/pf-outcome-engine/internal/scan"
	"github.com/MJE43/pf-outcome-engine/internal/verify"
)

const (
	maxNonceRange = 10_000_000 // 10M nonces max
	maxScanLimit  = 100_000
	maxTimeoutMs  = 300_000 // 5 minutes
)

// FieldError is a request validation failure on one field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func fieldErr(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateScanRequest validates a scan request and returns the first
// offending field.
func ValidateScanRequest(req *ScanRequest) *FieldError {
	if req.Game == "" {
		return fieldErr("game", "game is required")
	}
	if _, exists := games.GetGame(strings.ToLower(req.Game)); !exists {
		return fieldErr("game", "game '%s' not found", req.Game)
	}
	if req.Seeds.Server == "" {
		return fieldErr("seeds.server", "server seed is required")
	}
	if req.Seeds.Client == "" {
		return fieldErr("seeds.client", "client seed is required")
	}
	if req.NonceEnd < req.NonceStart {
		return fieldErr("nonce_end", "nonce_end (%d) must be >= nonce_start (%d)", req.NonceEnd, req.NonceStart)
	}
	if req.NonceEnd-req.NonceStart >= maxNonceRange {
		return fieldErr("nonce_end", "nonce range too large (max %d nonces)", maxNonceRange)
	}

	op := scan.TargetOp(req.TargetOp)
	if req.TargetOp == "" {
		return fieldErr("target_op", "target_op is required")
	}
	if !op.Valid() {
		return fieldErr("target_op", "target_op must be one of: eq, gt, ge, lt, le, between, outside")
	}
	if op == scan.OpBetween || op == scan.OpOutside {
		if req.TargetVal > req.TargetVal2 {
			return fieldErr("target_val2", "target_val must be <= target_val2 for '%s' operation", req.TargetOp)
		}
	}

	if req.Limit < 0 || req.Limit > maxScanLimit {
		return fieldErr("limit", "limit must be between 0 and %d", maxScanLimit)
	}
	if req.TimeoutMs < 0 || req.TimeoutMs > maxTimeoutMs {
		return fieldErr("timeout_ms", "timeout_ms must be between 0 and %d", maxTimeoutMs)
	}
	if req.Tolerance < 0 {
		return fieldErr("tolerance", "tolerance must be >= 0")
	}
	return nil
}

// ValidateVerifyRequest validates a verify request
func ValidateVerifyRequest(req *verify.Request) *FieldError {
	if req.Game == "" {
		return fieldErr("game", "game is required")
	}
	if req.ServerSeed == "" {
		return fieldErr("server_seed", "server seed is required")
	}
	if req.ServerSeedHash == "" {
		return fieldErr("server_seed_hash", "server seed hash is required")
	}
	if req.ClientSeed == "" {
		return fieldErr("client_seed", "client seed is required")
	}
	return nil
}

// convertToScanRequest converts API ScanRequest to internal scan.Request
func convertToScanRequest(apiReq *ScanRequest) scan.Request {
	return scan.Request{
		Game:       strings.ToLower(apiReq.Game),
		Seeds:      games.Seeds{Server: apiReq.Seeds.Server, Client: apiReq.Seeds.Client},
		NonceStart: apiReq.NonceStart,
		NonceEnd:   apiReq.NonceEnd,
		Params:     apiReq.Params,
		TargetOp:   scan.TargetOp(apiReq.TargetOp),
		TargetVal:  apiReq.TargetVal,
		TargetVal2: apiReq.TargetVal2,
		Tolerance:  apiReq.Tolerance,
		Limit:      apiReq.Limit,
		Timeout:    time.Duration(apiReq.TimeoutMs) * time.Millisecond,
	}
}
