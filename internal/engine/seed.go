package engine

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// ServerSeedBytes is the entropy of a generated server seed.
	ServerSeedBytes = 32
	clientSeedBytes = 8

	// MaxClientSeedLength bounds user supplied client seeds.
	MaxClientSeedLength = 64
)

// GenerateServerSeed returns 32 bytes from crypto/rand as 64 lowercase hex
// characters, together with its SHA-256 commitment.
func GenerateServerSeed() (seed string, hash string, err error) {
	buf := make([]byte, ServerSeedBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("read server seed entropy: %w", err)
	}
	seed = hex.EncodeToString(buf)
	return seed, HashServerSeed(seed), nil
}

// GenerateClientSeed returns a random 16 hex character client seed.
func GenerateClientSeed() (string, error) {
	buf := make([]byte, clientSeedBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read client seed entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashServerSeed returns the lowercase hex SHA-256 of the seed's ASCII bytes.
func HashServerSeed(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// VerifyServerSeed reports whether hash is the SHA-256 commitment of seed.
// The hash may be upper or lower case hex.
func VerifyServerSeed(serverSeed, hash string) bool {
	want, err := hex.DecodeString(strings.TrimSpace(hash))
	if err != nil || len(want) != sha256.Size {
		return false
	}
	got := sha256.Sum256([]byte(serverSeed))
	return subtle.ConstantTimeCompare(got[:], want) == 1
}

// ValidateServerSeed checks the shape of a generated server seed.
func ValidateServerSeed(serverSeed string) error {
	if len(serverSeed) != ServerSeedBytes*2 {
		return fmt.Errorf("%w: server seed must be %d hex characters", ErrInvalidSeedMaterial, ServerSeedBytes*2)
	}
	if _, err := hex.DecodeString(serverSeed); err != nil {
		return fmt.Errorf("%w: server seed is not hex", ErrInvalidSeedMaterial)
	}
	return nil
}

// ValidateClientSeed rejects seeds that are empty, too long, contain
// non-printable ASCII, or contain ':' (the HMAC message separator).
func ValidateClientSeed(clientSeed string) error {
	if clientSeed == "" {
		return fmt.Errorf("%w: client seed is empty", ErrInvalidSeedMaterial)
	}
	if len(clientSeed) > MaxClientSeedLength {
		return fmt.Errorf("%w: client seed longer than %d characters", ErrInvalidSeedMaterial, MaxClientSeedLength)
	}
	for i := 0; i < len(clientSeed); i++ {
		c := clientSeed[i]
		if c < 0x21 || c > 0x7e {
			return fmt.Errorf("%w: client seed contains non-printable character at %d", ErrInvalidSeedMaterial, i)
		}
		if c == ':' {
			return fmt.Errorf("%w: client seed must not contain ':'", ErrInvalidSeedMaterial)
		}
	}
	return nil
}
