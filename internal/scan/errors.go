package scan

import "errors"

var (
	ErrInvalidRange = errors.New("invalid nonce range")
	ErrTimeout      = errors.New("scan timed out")
)
