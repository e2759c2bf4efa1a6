// Package logging configures logrus and keeps raw seeds out of log output.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a logger writing to stdout. format is "text" or "json".
func New(level, format string) (*logrus.Logger, error) {
	return NewWithOutput(os.Stdout, level, format)
}

// NewWithOutput is New with an explicit writer.
func NewWithOutput(w io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return log, nil
}

// HashSeed returns the first 16 hex chars of SHA-256(seed), for log output
// only. It is not the published commitment.
func HashSeed(seed string) string {
	if seed == "" {
		return "empty"
	}
	hash := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(hash[:])[:16]
}

// SeedFields identifies a pair in logs by its public commitment and a
// hashed client seed.
func SeedFields(serverSeedHash, clientSeed string) logrus.Fields {
	return logrus.Fields{
		"server_seed_hash": serverSeedHash,
		"client_hash":      HashSeed(clientSeed),
	}
}

// Sanitize hashes seed-like values and redacts secrets in a field map.
func Sanitize(fields map[string]any) logrus.Fields {
	if fields == nil {
		return nil
	}

	sanitized := make(logrus.Fields, len(fields))
	for key, value := range fields {
		switch key {
		case "server_seed", "serverSeed", "server", "client_seed", "clientSeed", "client":
			if s, ok := value.(string); ok {
				sanitized[key+"_hash"] = HashSeed(s)
			} else {
				sanitized[key+"_hash"] = fmt.Sprintf("non_string_value_%T", value)
			}
		case "private_key", "secret", "password", "token", "api_key", "authorization":
			sanitized[key] = "[REDACTED]"
		default:
			sanitized[key] = value
		}
	}
	return sanitized
}
