package ledger

import (
	"bytes"
	"slices"

	. "obreserve/internal/common"

	"github.com/holiman/uint256"
)

type Balance struct {
	Asset  Address
	Amount uint256.Int
}

type AccountSnapshot struct {
	Maker      Address
	Funds      []Balance
	Collateral Collateral
}

func (l *Ledger) Snapshot() []AccountSnapshot {
	makers := l.Makers()
	out := make([]AccountSnapshot, 0, len(makers))
	for _, m := range makers {
		a := l.accounts[m]
		s := AccountSnapshot{
			Maker:      m,
			Collateral: Collateral{Free: a.free, Bound: a.bound, Burned: a.burned},
		}
		for asset, v := range a.funds {
			s.Funds = append(s.Funds, Balance{Asset: asset, Amount: *v})
		}
		slices.SortFunc(s.Funds, func(x, y Balance) int {
			return bytes.Compare(x.Asset[:], y.Asset[:])
		})
		out = append(out, s)
	}
	return out
}

func Restore(stakeRateBps uint64, accounts []AccountSnapshot) *Ledger {
	l := New(stakeRateBps)
	for _, s := range accounts {
		a := l.account(s.Maker)
		for _, b := range s.Funds {
			a.funds[b.Asset] = b.Amount.Clone()
		}
		a.free = s.Collateral.Free
		a.bound = s.Collateral.Bound
		a.burned = s.Collateral.Burned
	}
	return l
}
