package main

import (
	"testing"

	. "obreserve/internal/common"
	"obreserve/internal/net"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAsset(t *testing.T) {
	a, err := parseAsset("ETH")
	require.NoError(t, err)
	assert.Equal(t, EthAddress, a)

	a, err = parseAsset("0x00000000000000000000000000000000000070c0")
	require.NoError(t, err)
	assert.Equal(t, HexToAddress("0x70c0"), a)

	_, err = parseAsset("token")
	assert.Error(t, err)
}

func TestOrderAmounts(t *testing.T) {
	m, err := orderAmounts(net.SubmitOrder, "sell", "2.5", "0.5")
	require.NoError(t, err)
	assert.Equal(t, TokenToEth, m.Direction)
	assert.Equal(t, "2500000000000000000", m.SrcAmount.Dec())
	assert.Equal(t, "500000000000000000", m.DstAmount.Dec())

	_, err = orderAmounts(net.SubmitOrder, "sideways", "1", "1")
	assert.ErrorIs(t, err, ErrInvalidDirection)
}

func TestDirectionID(t *testing.T) {
	m, err := directionID(net.CancelOrder)([]string{"buy", "7"})
	require.NoError(t, err)
	assert.Equal(t, EthToToken, m.Direction)
	assert.Equal(t, OrderID(7), m.ID)

	_, err = directionID(net.CancelOrder)([]string{"buy", "x"})
	assert.Error(t, err)
}

func TestRootCmd_RequiresCaller(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"list", "buy"})
	assert.Error(t, cmd.Execute())
}
