package ledger

import (
	"testing"

	. "obreserve/internal/common"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	maker = HexToAddress("0xa11ce")
	eth   = HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	token = HexToAddress("0x70c")
)

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func TestDepositWithdraw(t *testing.T) {
	l := New(125)

	require.NoError(t, l.Deposit(maker, eth, u(20)))
	require.NoError(t, l.Withdraw(maker, eth, u(5)))
	assert.Equal(t, *u(15), l.Funds(maker, eth))
	assert.Equal(t, uint256.Int{}, l.Funds(maker, token))

	assert.ErrorIs(t, l.Withdraw(maker, eth, u(16)), ErrInsufficientFunds)
	assert.ErrorIs(t, l.Withdraw(maker, token, u(1)), ErrInsufficientFunds)
	assert.ErrorIs(t, l.Withdraw(HexToAddress("0x1"), eth, u(1)), ErrInsufficientFunds)
	assert.Equal(t, *u(15), l.Funds(maker, eth))
}

func TestDeposit_Overflow(t *testing.T) {
	l := New(125)
	top := new(uint256.Int).SetAllOne()

	require.NoError(t, l.Deposit(maker, eth, top))
	assert.ErrorIs(t, l.Deposit(maker, eth, u(1)), ErrInvalidAmount)
	assert.Equal(t, *top, l.Funds(maker, eth))
}

func TestCollateral_BindRelease(t *testing.T) {
	l := New(125)
	require.NoError(t, l.DepositCollateral(maker, u(100)))

	require.NoError(t, l.BindCollateral(maker, u(60)))
	assert.ErrorIs(t, l.BindCollateral(maker, u(41)), ErrInsufficientCollateral)
	assert.ErrorIs(t, l.WithdrawCollateral(maker, u(41)), ErrInsufficientCollateral)

	c := l.Collateral(maker)
	assert.Equal(t, *u(40), c.Free)
	assert.Equal(t, *u(60), c.Bound)

	// Release 30, 5 of which is burned.
	require.NoError(t, l.ReleaseCollateral(maker, u(30), u(25)))
	c = l.Collateral(maker)
	assert.Equal(t, *u(65), c.Free)
	assert.Equal(t, *u(30), c.Bound)
	assert.Equal(t, *u(5), c.Burned)

	assert.ErrorIs(t, l.ReleaseCollateral(maker, u(31), u(31)), ErrReleaseExceedsBound)
	assert.ErrorIs(t, l.ReleaseCollateral(maker, u(1), u(2)), ErrInvalidAmount)
	assert.Equal(t, c, l.Collateral(maker))

	require.NoError(t, l.WithdrawCollateral(maker, u(65)))
	assert.Equal(t, uint256.Int{}, l.Collateral(maker).Free)
}

func TestRequiredCollateral(t *testing.T) {
	l := New(125)

	assert.Equal(t, *u(125), l.RequiredCollateral(u(10_000)))
	assert.Equal(t, *u(0), l.RequiredCollateral(u(79)))
	assert.Equal(t, *u(1), l.RequiredCollateral(u(80)))

	one := Ether(1)
	want := Ether(125)
	want.Div(&want, u(10_000))
	assert.Equal(t, want, l.RequiredCollateral(&one))
}

func TestRollback_RestoresTouchedAccounts(t *testing.T) {
	l := New(125)
	other := HexToAddress("0xb0b")
	require.NoError(t, l.Deposit(maker, eth, u(10)))
	require.NoError(t, l.DepositCollateral(maker, u(10)))
	before := l.Snapshot()

	l.Begin()
	require.NoError(t, l.Withdraw(maker, eth, u(10)))
	require.NoError(t, l.BindCollateral(maker, u(10)))
	require.NoError(t, l.ReleaseCollateral(maker, u(4), u(1)))
	require.NoError(t, l.Credit(other, token, u(3)))
	assert.Len(t, l.journal, 2)
	l.Rollback()

	assert.Equal(t, before, l.Snapshot())
	assert.Equal(t, []Address{maker}, l.Makers())
	assert.Equal(t, *u(10), l.Funds(maker, eth))
	assert.Equal(t, Collateral{Free: *u(10)}, l.Collateral(maker))
}

func TestCommit_KeepsChanges(t *testing.T) {
	l := New(125)
	require.NoError(t, l.Deposit(maker, eth, u(10)))

	l.Begin()
	require.NoError(t, l.Withdraw(maker, eth, u(4)))
	l.Commit()
	l.Rollback()

	assert.Equal(t, *u(6), l.Funds(maker, eth))
}

func TestSnapshot_Restore(t *testing.T) {
	l := New(125)
	other := HexToAddress("0xb0b")
	require.NoError(t, l.Deposit(other, token, u(7)))
	require.NoError(t, l.Deposit(maker, token, u(3)))
	require.NoError(t, l.Deposit(maker, eth, u(4)))
	require.NoError(t, l.DepositCollateral(maker, u(9)))
	require.NoError(t, l.BindCollateral(maker, u(4)))
	require.NoError(t, l.ReleaseCollateral(maker, u(2), u(1)))

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, maker, snap[0].Maker)

	r := Restore(125, snap)
	assert.Equal(t, snap, r.Snapshot())
	assert.Equal(t, l.Collateral(maker), r.Collateral(maker))
	assert.Equal(t, *u(7), r.Funds(other, token))
}

// TestProperty_Conservation checks free + bound + burned collateral and free
// funds always match what went in minus what came out.
func TestProperty_Conservation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		l := New(rapid.Uint64Range(0, 10_000).Draw(rt, "bps"))
		var funds, coll uint64

		for i := rapid.IntRange(1, 50).Draw(rt, "ops"); i > 0; i-- {
			amt := rapid.Uint64Range(0, 1000).Draw(rt, "amount")
			switch rapid.IntRange(0, 5).Draw(rt, "op") {
			case 0:
				require.NoError(rt, l.Deposit(maker, eth, u(amt)))
				funds += amt
			case 1:
				if l.Withdraw(maker, eth, u(amt)) == nil {
					funds -= amt
				}
			case 2:
				require.NoError(rt, l.DepositCollateral(maker, u(amt)))
				coll += amt
			case 3:
				if l.WithdrawCollateral(maker, u(amt)) == nil {
					coll -= amt
				}
			case 4:
				_ = l.BindCollateral(maker, u(amt))
			case 5:
				c := l.Collateral(maker)
				bound := c.Bound.Uint64()
				if bound > 0 {
					d := rapid.Uint64Range(0, bound).Draw(rt, "release")
					free := rapid.Uint64Range(0, d).Draw(rt, "free")
					require.NoError(rt, l.ReleaseCollateral(maker, u(d), u(free)))
				}
			}

			f := l.Funds(maker, eth)
			require.Equal(rt, funds, f.Uint64())
			c := l.Collateral(maker)
			var total uint256.Int
			total.Add(&c.Free, &c.Bound)
			total.Add(&total, &c.Burned)
			require.Equal(rt, coll, total.Uint64())
		}
	})
}
