package engine

import (
	"context"

	. "obreserve/internal/common"

	"github.com/holiman/uint256"
)

// Vault moves assets held outside the reserve's books. It behaves like a
// standard fungible asset with balances and allowances, seen from the
// reserve's account.
type Vault interface {
	// Transfer sends amount of asset from the reserve to to.
	Transfer(ctx context.Context, asset, to Address, amount *uint256.Int) error
	// TransferFrom pulls amount of asset from owner into the reserve,
	// spending the reserve's allowance.
	TransferFrom(ctx context.Context, asset, owner Address, amount *uint256.Int) error
}

// FeeRateSource gives the collateral-per-ETH rate used to price burn fees,
// scaled by Precision.
type FeeRateSource interface {
	FeeRate() uint256.Int
}

// StaticFeeRate is a FeeRateSource that never changes.
type StaticFeeRate struct {
	Rate uint256.Int
}

func (r StaticFeeRate) FeeRate() uint256.Int {
	return r.Rate
}

// Reporter receives every committed event.
type Reporter interface {
	Report(event Event)
}

type Reporters []Reporter

func (rs Reporters) Report(event Event) {
	for _, r := range rs {
		r.Report(event)
	}
}
