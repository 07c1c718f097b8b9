package engine

import (
	"context"
	"testing"

	. "obreserve/internal/common"
	"obreserve/internal/vault"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

var (
	eth         = EthAddress
	token       = HexToAddress("0x70c")
	knc         = HexToAddress("0xc011")
	reserveAddr = HexToAddress("0x5e5e")
	burner      = HexToAddress("0xb042")

	maker1 = HexToAddress("0xa11ce")
	maker2 = HexToAddress("0xb0b")
	taker  = HexToAddress("0x7a4e")
	payee  = HexToAddress("0x9a7ee")
)

type eventLog struct {
	events []Event
}

func (l *eventLog) Report(e Event) {
	l.events = append(l.events, e)
}

func (l *eventLog) types() []EventType {
	types := make([]EventType, len(l.events))
	for i, e := range l.events {
		types[i] = e.Type
	}
	return types
}

type harness struct {
	r     *Reserve
	vault *vault.Memory
	log   *eventLog
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TokenAsset = token
	cfg.CollateralAsset = knc
	cfg.Reserve = reserveAddr
	cfg.BurnRecipient = burner
	return cfg
}

func newHarness(t *testing.T, mutate func(*Config), opts ...Option) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{vault: vault.NewMemory(), log: &eventLog{}}
	r, err := New(cfg, h.vault.Account(reserveAddr), append([]Option{WithReporter(h.log)}, opts...)...)
	require.NoError(t, err)
	h.r = r
	return h
}

// units converts a human amount such as "2.5" to 18-decimal base units.
func units(s string) *uint256.Int {
	return uint256.MustFromBig(decimal.RequireFromString(s).Shift(18).BigInt())
}

func wei(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

// mint gives owner amount of asset and lets the reserve spend all of it.
func (h *harness) mint(owner, asset Address, amount *uint256.Int) {
	h.vault.Mint(asset, owner, amount)
	bal := h.vault.BalanceOf(asset, owner)
	h.vault.Approve(asset, owner, reserveAddr, &bal)
}

func (h *harness) deposit(t *testing.T, maker, asset Address, amount *uint256.Int) {
	t.Helper()
	h.mint(maker, asset, amount)
	require.NoError(t, h.r.Deposit(context.Background(), maker, asset, amount))
}

func (h *harness) depositCollateral(t *testing.T, maker Address, amount *uint256.Int) {
	t.Helper()
	h.mint(maker, knc, amount)
	require.NoError(t, h.r.DepositCollateral(context.Background(), maker, amount))
}

// fundMaker deposits 20 ETH, 100 tokens and 1 unit of collateral.
func (h *harness) fundMaker(t *testing.T, maker Address) {
	t.Helper()
	h.deposit(t, maker, eth, units("20"))
	h.deposit(t, maker, token, units("100"))
	h.depositCollateral(t, maker, units("1"))
}

func (h *harness) submit(t *testing.T, maker Address, d Direction, src, dst string) OrderID {
	t.Helper()
	id, err := h.r.Submit(maker, d, units(src), units(dst), NoOrder)
	require.NoError(t, err)
	return id
}

func (h *harness) order(t *testing.T, d Direction, id OrderID) Order {
	t.Helper()
	o, err := h.r.GetOrder(d, id)
	require.NoError(t, err)
	return o
}

func (h *harness) ids(t *testing.T, d Direction) []OrderID {
	t.Helper()
	ids, err := h.r.GetOrderList(d)
	require.NoError(t, err)
	return ids
}
