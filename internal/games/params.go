package games

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VersionParam is the params key that pins a bet to a pay table version.
const VersionParam = "version"

func floatParam(params map[string]any, key string) (float64, bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return 0, false, nil
	}

	switch v := raw.(type) {
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case uint64:
		return float64(v), true, nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, true, fmt.Errorf("%w: %s must be a number, got %q", ErrInvalidParams, key, v)
		}
		return parsed, true, nil
	default:
		return 0, true, fmt.Errorf("%w: unsupported type for %s: %T", ErrInvalidParams, key, raw)
	}
}

func intParam(params map[string]any, key string) (int, bool, error) {
	f, ok, err := floatParam(params, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if math.Mod(f, 1) != 0 {
		return 0, true, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidParams, key, f)
	}
	return int(f), true, nil
}

func stringParam(params map[string]any, key string) (string, bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return "", false, nil
	}
	s, isString := raw.(string)
	if !isString {
		return "", true, fmt.Errorf("%w: unsupported type for %s: %T", ErrInvalidParams, key, raw)
	}
	return strings.ToLower(strings.TrimSpace(s)), true, nil
}

// hundredths converts a value with 0.01 resolution to an integer count of
// hundredths, rejecting finer resolutions.
func hundredths(key string, v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s must be finite", ErrInvalidParams, key)
	}
	scaled := math.Round(v * 100)
	if math.Abs(scaled-v*100) > 1e-6 {
		return 0, fmt.Errorf("%w: %s must have at most two decimals, got %v", ErrInvalidParams, key, v)
	}
	return int64(scaled), nil
}

func riskParam(params map[string]any, def string) (string, error) {
	risk, ok, err := stringParam(params, "risk")
	if err != nil {
		return "", err
	}
	if !ok {
		return def, nil
	}
	return risk, nil
}

// WithVersion returns a copy of params pinned to version. An existing
// version entry is kept.
func WithVersion(params map[string]any, version string) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if _, ok := out[VersionParam]; !ok {
		out[VersionParam] = version
	}
	return out
}
