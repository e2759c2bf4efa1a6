package api

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MJE43/pf-outcome-engine/internal/games"
	"github.com/MJE43/pf-outcome-engine/internal/livefeed"
	"github.com/MJE43/pf-outcome-engine/internal/scan"
	"github.com/MJE43/pf-outcome-engine/internal/verify"
)

// EngineError represents a structured error response with context
type EngineError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e EngineError) Error() string {
	return e.Message
}

// Error types with proper categorization
const (
	// Input validation errors
	ErrTypeInvalidSeed   = "invalid_seed"
	ErrTypeInvalidParams = "invalid_params"
	ErrTypeValidation    = "validation_error"

	// Game-related errors
	ErrTypeGameNotFound   = "game_not_found"
	ErrTypeUnknownVersion = "unknown_table_version"

	// Seed lifecycle errors
	ErrTypeSeedLocked    = "seed_locked"
	ErrTypeNoActiveSeed  = "no_active_seed"
	ErrTypeRotationRace  = "rotation_race"
	ErrTypeHashIntegrity = "hash_integrity"
	ErrTypeConflict      = "conflict"
	ErrTypeNotFound      = "not_found"

	// Access errors
	ErrTypeUnauthorized = "unauthorized"
	ErrTypeForbidden    = "forbidden"

	// System errors
	ErrTypeTimeout            = "timeout"
	ErrTypeInternal           = "internal_error"
	ErrTypeServiceUnavailable = "service_unavailable"
)

// ErrorCategory represents error categories for monitoring
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryGame       ErrorCategory = "game"
	CategorySeed       ErrorCategory = "seed"
	CategoryAuth       ErrorCategory = "auth"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeInvalidSeed, ErrTypeInvalidParams, ErrTypeValidation:
		return CategoryValidation
	case ErrTypeGameNotFound, ErrTypeUnknownVersion:
		return CategoryGame
	case ErrTypeSeedLocked, ErrTypeNoActiveSeed, ErrTypeRotationRace, ErrTypeHashIntegrity, ErrTypeConflict:
		return CategorySeed
	case ErrTypeUnauthorized, ErrTypeForbidden:
		return CategoryAuth
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains engine version information
type VersionInfo struct {
	EngineVersion string `json:"engine_version"`
	GitCommit     string `json:"git_commit,omitempty"`
	BuildTime     string `json:"build_time,omitempty"`
}

// GamesResponse represents the games metadata response
type GamesResponse struct {
	Games          []games.GameSpec `json:"games"`
	CurrentVersion string           `json:"current_version"`
	EngineVersion  string           `json:"engine_version"`
}

// TablesResponse lists the published pay table versions.
type TablesResponse struct {
	Current           string   `json:"current"`
	Versions          []string `json:"versions"`
	RotationThreshold uint64   `json:"rotation_threshold"`
	EngineVersion     string   `json:"engine_version"`
}

// TableResponse is one pay table version with its analytic RTP per table.
type TableResponse struct {
	Tables        *games.Tables      `json:"tables"`
	ExpectedRTP   map[string]float64 `json:"expected_rtp"`
	EngineVersion string             `json:"engine_version"`
}

// VerifyResponse wraps a verification report
type VerifyResponse struct {
	Report        verify.Report `json:"report"`
	EngineVersion string        `json:"engine_version"`
}

// SeedHashRequest represents a seed hashing request
type SeedHashRequest struct {
	ServerSeed string `json:"server_seed"`
}

// SeedHashResponse represents a seed hashing response
type SeedHashResponse struct {
	Hash          string `json:"hash"`
	EngineVersion string `json:"engine_version"`
}

// ScanRequest represents a scan operation request
type ScanRequest struct {
	Game       string         `json:"game"`
	Seeds      SeedsPayload   `json:"seeds"`
	NonceStart uint64         `json:"nonce_start"`
	NonceEnd   uint64         `json:"nonce_end"`
	Params     map[string]any `json:"params"`
	TargetOp   string         `json:"target_op"` // "ge", "le", "eq", "gt", "lt", "between", "outside"
	TargetVal  float64        `json:"target_val"`
	TargetVal2 float64        `json:"target_val2,omitempty"`
	Tolerance  float64        `json:"tolerance"`
	Limit      int            `json:"limit,omitempty"`
	TimeoutMs  int            `json:"timeout_ms,omitempty"`
}

// SeedsPayload is the JSON form of games.Seeds.
type SeedsPayload struct {
	Server string `json:"server"`
	Client string `json:"client"`
}

// ScanResponse represents the complete scan response
type ScanResponse struct {
	*scan.Result
	EngineVersion string `json:"engine_version"`
}

// PlaceBetRequest is the body of POST /users/{userID}/bets.
type PlaceBetRequest struct {
	Game   string          `json:"game"`
	Params map[string]any  `json:"params"`
	Stake  decimal.Decimal `json:"stake"`
}

// ClientSeedRequest is the body of PUT /users/{userID}/seed/client.
type ClientSeedRequest struct {
	ClientSeed string `json:"client_seed"`
}

// RotateRequest names the pair the caller saw as live. Without it the
// currently live pair is rotated.
type RotateRequest struct {
	PairID uuid.UUID `json:"pair_id"`
}

// TailResponse is a page of the live feed backlog.
type TailResponse struct {
	Messages []livefeed.Message `json:"messages"`
	LastID   uint64             `json:"last_id"`
}
