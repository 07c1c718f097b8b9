package common

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Precision scales rates: a rate of Precision means one unit out per unit in.
var Precision = uint256.NewInt(1_000_000_000_000_000_000)

const BPS = 10_000

// Decimals is the number of decimal places of every asset amount.
const Decimals = 18

// CompareRates compares srcA/dstA with srcB/dstB exactly. Both denominators
// must be non-zero.
func CompareRates(srcA, dstA, srcB, dstB *uint256.Int) int {
	var l, r uint256.Int
	_, lo := l.MulOverflow(srcA, dstB)
	_, ro := r.MulOverflow(srcB, dstA)
	if !lo && !ro {
		return l.Cmp(&r)
	}
	lb := new(big.Int).Mul(srcA.ToBig(), dstB.ToBig())
	rb := new(big.Int).Mul(srcB.ToBig(), dstA.ToBig())
	return lb.Cmp(rb)
}

// Rate returns Precision*src/dst, floored. Saturates on overflow.
func Rate(src, dst *uint256.Int) *uint256.Int {
	if dst.IsZero() {
		return new(uint256.Int)
	}
	r, overflow := new(uint256.Int).MulDivOverflow(Precision, src, dst)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return r
}

// MulDiv returns x*y/d floored, reporting overflow of the result.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, bool) {
	if d.IsZero() {
		return new(uint256.Int), true
	}
	return new(uint256.Int).MulDivOverflow(x, y, d)
}

func Amount(v uint64) uint256.Int {
	return *uint256.NewInt(v)
}

// Ether returns v * 10^18.
func Ether(v uint64) uint256.Int {
	var x uint256.Int
	x.Mul(uint256.NewInt(v), Precision)
	return x
}
