package indexer

import (
	"math/big"

	"github.com/klingon-exchange/cardaminal/pkg/helpers"
)

// deltaWidth is the byte width of tx_history.balance_delta: a
// big-endian 128-bit signed integer.
const deltaWidth = 16

// EncodeDelta converts a signed lovelace delta to its 128-bit
// big-endian two's-complement wire form.
func EncodeDelta(delta *big.Int) []byte {
	if delta.Sign() >= 0 {
		return helpers.PadLeft(delta.Bytes(), deltaWidth)
	}

	// Two's complement of a negative value: (1<<128) + delta.
	mod := new(big.Int).Lsh(big.NewInt(1), deltaWidth*8)
	twos := new(big.Int).Add(mod, delta)
	return helpers.PadLeft(twos.Bytes(), deltaWidth)
}

// DecodeDelta reverses EncodeDelta.
func DecodeDelta(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	if len(b) == deltaWidth && b[0]&0x80 != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), deltaWidth*8)
		v.Sub(v, mod)
	}
	return v
}
