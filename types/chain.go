package types

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ShannonsPerCKB is the number of shannons in one CKB.
const ShannonsPerCKB = 100_000_000

// Tip is the indexer's view of the chain head.
type Tip struct {
	BlockHash   string `json:"block_hash"`
	BlockNumber string `json:"block_number"`
}

type Header struct {
	Hash       string `json:"hash"`
	Number     string `json:"number"`
	ParentHash string `json:"parent_hash"`
	Timestamp  string `json:"timestamp"`
	Epoch      string `json:"epoch"`
}

type BlockchainInfo struct {
	Chain                  string `json:"chain"`
	MedianTime             string `json:"median_time"`
	Epoch                  string `json:"epoch"`
	Difficulty             string `json:"difficulty"`
	IsInitialBlockDownload bool   `json:"is_initial_block_download"`
}

// FormatCKB renders an amount of shannons as a decimal CKB string.
func FormatCKB(shannons uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(shannons), -8).String()
}

// ParseCKB converts a decimal CKB amount into shannons.
func ParseCKB(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid CKB amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("invalid CKB amount %q: negative", s)
	}
	shannons := d.Shift(8)
	if !shannons.Equal(shannons.Truncate(0)) {
		return 0, fmt.Errorf("invalid CKB amount %q: more than 8 decimal places", s)
	}
	n := shannons.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("invalid CKB amount %q: overflows u64", s)
	}
	return n.Uint64(), nil
}
