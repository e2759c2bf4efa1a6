package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"strconv"
)

// BlockSize is the number of bytes produced by one HMAC-SHA256 round.
const BlockSize = sha256.Size

// ErrInvalidSeedMaterial is returned for empty or malformed seeds.
var ErrInvalidSeedMaterial = errors.New("invalid seed material")

// ByteGenerator streams bytes from the HMAC-SHA256 hash chain of a single
// (serverSeed, clientSeed, nonce) triple. Block i is
// HMAC-SHA256(serverSeed, "clientSeed:nonce:cursor+i").
type ByteGenerator struct {
	mac        hash.Hash
	clientSeed string
	nonce      uint64
	cursor     uint64
	pos        int
	consumed   int
	buffer     [BlockSize]byte
	msg        []byte
}

// NewByteGenerator creates a generator positioned at the first byte of block
// cursor. Seeds are used as their ASCII bytes; hex seeds are not decoded.
func NewByteGenerator(serverSeed, clientSeed string, nonce, cursor uint64) (*ByteGenerator, error) {
	if serverSeed == "" {
		return nil, fmt.Errorf("%w: server seed is empty", ErrInvalidSeedMaterial)
	}
	if clientSeed == "" {
		return nil, fmt.Errorf("%w: client seed is empty", ErrInvalidSeedMaterial)
	}

	bg := &ByteGenerator{
		mac:        hmac.New(sha256.New, []byte(serverSeed)),
		clientSeed: clientSeed,
		nonce:      nonce,
		cursor:     cursor,
		msg:        make([]byte, 0, len(clientSeed)+42),
	}
	bg.generateBlock()
	return bg, nil
}

// Next returns the next byte of the stream.
func (bg *ByteGenerator) Next() byte {
	if bg.pos >= BlockSize {
		bg.cursor++
		bg.generateBlock()
	}

	b := bg.buffer[bg.pos]
	bg.pos++
	bg.consumed++
	return b
}

// Read fills p from the stream. It never fails.
func (bg *ByteGenerator) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = bg.Next()
	}
	return len(p), nil
}

// NextFloat consumes exactly 4 bytes and returns a float in [0, 1).
func (bg *ByteGenerator) NextFloat() float64 {
	var b [4]byte
	_, _ = bg.Read(b[:])
	return BytesToFloat(b)
}

// Consumed reports how many bytes have been drawn so far.
func (bg *ByteGenerator) Consumed() int {
	return bg.consumed
}

func (bg *ByteGenerator) generateBlock() {
	bg.msg = bg.msg[:0]
	bg.msg = append(bg.msg, bg.clientSeed...)
	bg.msg = append(bg.msg, ':')
	bg.msg = strconv.AppendUint(bg.msg, bg.nonce, 10)
	bg.msg = append(bg.msg, ':')
	bg.msg = strconv.AppendUint(bg.msg, bg.cursor, 10)

	bg.mac.Reset()
	bg.mac.Write(bg.msg)
	bg.mac.Sum(bg.buffer[:0])
	bg.pos = 0
}

// BytesToFloat interprets 4 bytes as a big-endian uint32 and divides by 2^32.
// The division is exact in IEEE-754 doubles, so the result is bit-identical
// on every platform.
func BytesToFloat(b [4]byte) float64 {
	return float64(binary.BigEndian.Uint32(b[:])) / 4294967296.0
}

// NextBytes returns count bytes of the hash chain starting at block cursor.
func NextBytes(serverSeed, clientSeed string, nonce, cursor uint64, count int) ([]byte, error) {
	if count < 0 {
		return nil, fmt.Errorf("byte count must be >= 0, got %d", count)
	}
	bg, err := NewByteGenerator(serverSeed, clientSeed, nonce, cursor)
	if err != nil {
		return nil, err
	}
	out := make([]byte, count)
	_, _ = bg.Read(out)
	return out, nil
}

// Floats generates count floats (4 bytes each) starting at block cursor.
func Floats(serverSeed, clientSeed string, nonce, cursor uint64, count int) ([]float64, error) {
	return FloatsInto(nil, serverSeed, clientSeed, nonce, cursor, count)
}

// FloatsInto fills dst with floats, reallocating only when dst is too small.
func FloatsInto(dst []float64, serverSeed, clientSeed string, nonce, cursor uint64, count int) ([]float64, error) {
	bg, err := NewByteGenerator(serverSeed, clientSeed, nonce, cursor)
	if err != nil {
		return nil, err
	}
	if cap(dst) < count {
		dst = make([]float64, count)
	}
	dst = dst[:count]
	for i := range dst {
		dst[i] = bg.NextFloat()
	}
	return dst, nil
}
