package engine

import (
	"fmt"

	. "obreserve/internal/common"

	"github.com/holiman/uint256"
)

// CalcStake returns the collateral bound by an order committing ethAmount.
func (r *Reserve) CalcStake(ethAmount *uint256.Int) uint256.Int {
	return r.state.ledger.RequiredCollateral(ethAmount)
}

// CalcBurnAmount returns the collateral burned when ethAmount of an order is
// filled, at the current fee rate.
func (r *Reserve) CalcBurnAmount(ethAmount *uint256.Int) uint256.Int {
	var out uint256.Int
	var scaled uint256.Int
	if _, overflow := scaled.MulOverflow(ethAmount, uint256.NewInt(r.cfg.BurnFeeBps)); overflow {
		return *out.SetAllOne()
	}
	rate := r.feeRate.FeeRate()
	var denom uint256.Int
	denom.Mul(uint256.NewInt(BPS), Precision)
	v, overflow := MulDiv(&scaled, &rate, &denom)
	if overflow {
		return *out.SetAllOne()
	}
	return *out.Set(v)
}

// orderStake is the collateral bound by one order of direction d.
func (r *Reserve) orderStake(d Direction, src, dst *uint256.Int) uint256.Int {
	return r.CalcStake(commitment(d, src, dst))
}

// checkAmounts rejects zero amounts, amounts above MaxQty and rates above
// MaxRate.
func (r *Reserve) checkAmounts(src, dst *uint256.Int) error {
	if src.IsZero() || dst.IsZero() {
		return fmt.Errorf("%w: zero amount", ErrInvalidAmount)
	}
	if src.Gt(&r.cfg.MaxQty) || dst.Gt(&r.cfg.MaxQty) {
		return fmt.Errorf("%w: above max quantity", ErrInvalidAmount)
	}
	if Rate(src, dst).Gt(&r.cfg.MaxRate) {
		return ErrRateTooHigh
	}
	return nil
}
