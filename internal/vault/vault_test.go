package vault

import (
	"context"
	"testing"

	. "obreserve/internal/common"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	asset   = HexToAddress("0x70c")
	owner   = HexToAddress("0xa11ce")
	reserve = HexToAddress("0x5e5e")
)

func TestTransfer(t *testing.T) {
	m := NewMemory()
	m.Mint(asset, owner, uint256.NewInt(10))

	require.NoError(t, m.Transfer(asset, owner, reserve, uint256.NewInt(4)))
	assert.ErrorIs(t, m.Transfer(asset, owner, reserve, uint256.NewInt(7)), ErrInsufficientBalance)

	assert.Equal(t, *uint256.NewInt(6), m.BalanceOf(asset, owner))
	assert.Equal(t, *uint256.NewInt(4), m.BalanceOf(asset, reserve))
}

func TestAccount_TransferFromSpendsAllowance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	acct := m.Account(reserve)
	m.Mint(asset, owner, uint256.NewInt(10))

	assert.ErrorIs(t, acct.TransferFrom(ctx, asset, owner, uint256.NewInt(1)), ErrInsufficientAllowance)

	m.Approve(asset, owner, reserve, uint256.NewInt(5))
	require.NoError(t, acct.TransferFrom(ctx, asset, owner, uint256.NewInt(3)))
	assert.Equal(t, *uint256.NewInt(2), m.Allowance(asset, owner, reserve))
	assert.ErrorIs(t, acct.TransferFrom(ctx, asset, owner, uint256.NewInt(3)), ErrInsufficientAllowance)

	// A failed move leaves the allowance alone.
	m.Approve(asset, owner, reserve, uint256.NewInt(100))
	assert.ErrorIs(t, acct.TransferFrom(ctx, asset, owner, uint256.NewInt(8)), ErrInsufficientBalance)
	assert.Equal(t, *uint256.NewInt(100), m.Allowance(asset, owner, reserve))

	require.NoError(t, acct.Transfer(ctx, asset, owner, uint256.NewInt(3)))
	assert.Equal(t, *uint256.NewInt(10), m.BalanceOf(asset, owner))
	assert.Equal(t, uint256.Int{}, m.BalanceOf(asset, reserve))
}

func TestSnapshot_Restore(t *testing.T) {
	m := NewMemory()
	m.Mint(asset, owner, uint256.NewInt(10))
	m.Mint(asset, reserve, uint256.NewInt(3))
	m.Approve(asset, owner, reserve, uint256.NewInt(5))
	require.NoError(t, m.Transfer(asset, reserve, owner, uint256.NewInt(3)))

	s := m.Snapshot()
	// The emptied reserve balance is left out.
	require.Len(t, s.Holdings, 1)
	assert.Equal(t, owner, s.Holdings[0].Owner)
	require.Len(t, s.Allowances, 1)

	r := Restore(s)
	assert.Equal(t, *uint256.NewInt(13), r.BalanceOf(asset, owner))
	assert.Equal(t, *uint256.NewInt(5), r.Allowance(asset, owner, reserve))
	assert.Equal(t, s, r.Snapshot())
}
