package math

import (
	"math/big"
	"sync"
)

// Amounts are int64 in the smallest currency unit. Basis-point products can
// exceed 63 bits, so intermediate math goes through big.Int.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MulDivFloor computes a * b / denom with int128 intermediates, truncating
// toward zero. All inputs are expected non-negative; denom must be positive.
func MulDivFloor(a, b, denom int64) int64 {
	product := getInt128()
	product.Mul(big.NewInt(a), big.NewInt(b))

	quotient := getInt128()
	quotient.Div(product, big.NewInt(denom))

	result := quotient.Int64()

	putInt128(product)
	putInt128(quotient)

	return result
}
