package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidHex = errors.New("invalid hex")

var hexNumberPattern = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)

// IsHexNumber reports whether s is a 0x-prefixed hex integer.
func IsHexNumber(s string) bool {
	return hexNumberPattern.MatchString(s)
}

// NormalizeHex lower-cases s and makes sure it carries the 0x prefix.
func NormalizeHex(s string) string {
	s = strings.ToLower(s)
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return s
}

// ParseUint64 parses a 0x-prefixed hex integer.
func ParseUint64(s string) (uint64, error) {
	if !IsHexNumber(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHex, s)
	}
	n, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidHex, s, err)
	}
	return n, nil
}

// Uint64ToHex formats n the way the node encodes numbers.
func Uint64ToHex(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

// HexByteLen returns the number of bytes encoded by a 0x-prefixed hex string.
func HexByteLen(s string) int {
	s = strings.TrimPrefix(NormalizeHex(s), "0x")
	return len(s) / 2
}

func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(NormalizeHex(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}

// Uint128LE reads the little-endian u128 held in the first 16 bytes of data,
// which is how token cells store their amount.
func Uint128LE(data string) (*big.Int, error) {
	b, err := DecodeHex(data)
	if err != nil {
		return nil, err
	}
	if len(b) < 16 {
		return nil, fmt.Errorf("%w: u128 needs 16 bytes, got %d", ErrInvalidHex, len(b))
	}
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[15-i] = b[i]
	}
	return new(big.Int).SetBytes(be), nil
}
