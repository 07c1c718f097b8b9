package engine

import (
	"context"
	"testing"

	. "obreserve/internal/common"
	"obreserve/internal/vault"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// checkInvariants verifies the book is sorted, every maker's bound
// collateral matches its orders, and the reserve's vault balances equal
// free balances plus what resting orders hold.
func checkInvariants(t require.TestingT, r *Reserve, m *vault.Memory, makers []Address) {
	var ethHeld, tokenHeld, collHeld uint256.Int
	bound := make(map[Address]*uint256.Int)
	for _, mk := range makers {
		bound[mk] = new(uint256.Int)
	}

	for _, d := range Directions {
		ids, err := r.GetOrderList(d)
		require.NoError(t, err)
		var prev *Order
		for _, id := range ids {
			o, err := r.GetOrder(d, id)
			require.NoError(t, err)
			if prev != nil {
				require.GreaterOrEqual(t, CompareRates(&prev.SrcAmount, &prev.DstAmount, &o.SrcAmount, &o.DstAmount), 0)
			}
			prev = &o

			stake := r.orderStake(d, &o.SrcAmount, &o.DstAmount)
			bound[o.Maker].Add(bound[o.Maker], &stake)
			if d == EthToToken {
				ethHeld.Add(&ethHeld, &o.SrcAmount)
			} else {
				tokenHeld.Add(&tokenHeld, &o.SrcAmount)
			}
		}
	}

	for _, mk := range makers {
		c := r.MakerCollateral(mk)
		require.Equal(t, *bound[mk], c.Bound)
		collHeld.Add(&collHeld, &c.Free)
		collHeld.Add(&collHeld, &c.Bound)
		e := r.MakerFunds(mk, eth)
		ethHeld.Add(&ethHeld, &e)
		tk := r.MakerFunds(mk, token)
		tokenHeld.Add(&tokenHeld, &tk)
	}

	require.Equal(t, ethHeld, m.BalanceOf(eth, reserveAddr))
	require.Equal(t, tokenHeld, m.BalanceOf(token, reserveAddr))
	require.Equal(t, collHeld, m.BalanceOf(knc, reserveAddr))
}

func TestProperty_ReserveInvariants(t *testing.T) {
	makers := []Address{maker1, maker2, HexToAddress("0xca7")}

	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		m := vault.NewMemory()
		cfg := testConfig()
		cfg.OrdersPerMaker = 4
		cfg.MaxOrdersPerTrade = rapid.IntRange(1, 5).Draw(rt, "maxOrders")
		r, err := New(cfg, m.Account(reserveAddr))
		require.NoError(rt, err)

		plenty := units("1000000")
		for _, a := range append(makers, taker) {
			for _, asset := range []Address{eth, token, knc} {
				m.Mint(asset, a, plenty)
				m.Approve(asset, a, reserveAddr, plenty)
			}
		}

		// Amounts are drawn in tenths of a unit.
		amount := func(label string, lo, hi uint64) *uint256.Int {
			v := rapid.Uint64Range(lo, hi).Draw(rt, label)
			return new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(100_000_000_000_000_000))
		}

		for i := rapid.IntRange(1, 40).Draw(rt, "ops"); i > 0; i-- {
			mk := rapid.SampledFrom(makers).Draw(rt, "maker")
			d := Direction(rapid.IntRange(0, 1).Draw(rt, "direction"))
			ids, _ := r.MakerOrders(mk, d)

			switch rapid.IntRange(0, 7).Draw(rt, "op") {
			case 0:
				asset := rapid.SampledFrom([]Address{eth, token}).Draw(rt, "asset")
				_ = r.Deposit(ctx, mk, asset, amount("deposit", 1, 300))
			case 1:
				_ = r.DepositCollateral(ctx, mk, amount("collateral", 1, 10))
			case 2:
				asset := rapid.SampledFrom([]Address{eth, token}).Draw(rt, "asset")
				_ = r.Withdraw(ctx, mk, asset, amount("withdraw", 1, 100))
			case 3:
				_ = r.WithdrawCollateral(ctx, mk, amount("withdrawCollateral", 1, 5))
			case 4:
				_, _ = r.Submit(mk, d, amount("src", 1, 100), amount("dst", 1, 100), OrderID(rapid.IntRange(0, 12).Draw(rt, "hint")))
			case 5:
				if len(ids) > 0 {
					id := rapid.SampledFrom(ids).Draw(rt, "id")
					_ = r.Update(mk, d, id, amount("src", 1, 100), amount("dst", 1, 100), OrderID(rapid.IntRange(0, 12).Draw(rt, "hint")))
				}
			case 6:
				if len(ids) > 0 {
					_, err := r.Cancel(mk, d, rapid.SampledFrom(ids).Draw(rt, "id"))
					require.NoError(rt, err)
				}
			case 7:
				_, err := r.Trade(ctx, taker, d, amount("in", 1, 300), payee)
				require.NoError(rt, err)
			}

			checkInvariants(rt, r, m, makers)
		}
	})
}
