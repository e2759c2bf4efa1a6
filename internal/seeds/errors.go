package seeds

import (
	"errors"

	"github.com/MJE43/pf-outcome-engine/internal/engine"
)

var (
	// ErrInvalidSeedMaterial is returned for malformed client or server seeds.
	ErrInvalidSeedMaterial = engine.ErrInvalidSeedMaterial
	// ErrSeedLocked is returned when the client seed changes after the first bet.
	ErrSeedLocked = errors.New("client seed is locked after the first bet")
	// ErrNoActiveSeed is returned for operations on a revealed pair.
	ErrNoActiveSeed = errors.New("no active seed pair")
	// ErrRotationRaceDetected is returned when the per-user lock could not be
	// acquired in time or a concurrent writer changed the pair.
	ErrRotationRaceDetected = errors.New("rotation race detected")
	// ErrPairExists is returned when committing a pair for a user who already
	// has a live one.
	ErrPairExists = errors.New("user already has a live seed pair")
	// ErrHashIntegrity is returned when a stored server seed no longer
	// matches its published commitment. The pair is never revealed.
	ErrHashIntegrity = errors.New("server seed does not match its commitment")
)
