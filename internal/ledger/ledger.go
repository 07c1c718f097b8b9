// Package ledger tracks maker balances: free funds per asset plus free,
// bound and burned collateral. Funds committed to resting orders are not
// held here; the order's own amounts record them.
package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	. "obreserve/internal/common"

	"github.com/holiman/uint256"
)

var ErrReleaseExceedsBound = errors.New("release exceeds bound collateral")

type account struct {
	funds  map[Address]*uint256.Int
	free   uint256.Int
	bound  uint256.Int
	burned uint256.Int
}

func newAccount() *account {
	return &account{funds: make(map[Address]*uint256.Int)}
}

func (a *account) clone() *account {
	c := &account{
		funds:  make(map[Address]*uint256.Int, len(a.funds)),
		free:   a.free,
		bound:  a.bound,
		burned: a.burned,
	}
	for asset, v := range a.funds {
		c.funds[asset] = v.Clone()
	}
	return c
}

// Collateral is a maker's collateral position.
type Collateral struct {
	Free   uint256.Int
	Bound  uint256.Int
	Burned uint256.Int
}

type Ledger struct {
	accounts     map[Address]*account
	stakeRateBps uint64
	journal      map[Address]*account
}

func New(stakeRateBps uint64) *Ledger {
	return &Ledger{
		accounts:     make(map[Address]*account),
		stakeRateBps: stakeRateBps,
	}
}

// RequiredCollateral is the stake bound for an order committing amount of
// the quote asset.
func (l *Ledger) RequiredCollateral(amount *uint256.Int) uint256.Int {
	var r uint256.Int
	v, overflow := MulDiv(amount, uint256.NewInt(l.stakeRateBps), uint256.NewInt(BPS))
	if overflow {
		r.SetAllOne()
		return r
	}
	r.Set(v)
	return r
}

func (l *Ledger) StakeRateBps() uint64 {
	return l.stakeRateBps
}

func (l *Ledger) Funds(maker, asset Address) uint256.Int {
	a, ok := l.accounts[maker]
	if !ok {
		return uint256.Int{}
	}
	if v, ok := a.funds[asset]; ok {
		return *v
	}
	return uint256.Int{}
}

func (l *Ledger) Collateral(maker Address) Collateral {
	a, ok := l.accounts[maker]
	if !ok {
		return Collateral{}
	}
	return Collateral{Free: a.free, Bound: a.bound, Burned: a.burned}
}

// Deposit credits free funds. Credit is the same operation used when orders
// release their commitment or pay out a fill.
func (l *Ledger) Deposit(maker, asset Address, amount *uint256.Int) error {
	return l.Credit(maker, asset, amount)
}

func (l *Ledger) Credit(maker, asset Address, amount *uint256.Int) error {
	a := l.account(maker)
	v, ok := a.funds[asset]
	if !ok {
		v = new(uint256.Int)
	}
	var sum uint256.Int
	if _, overflow := sum.AddOverflow(v, amount); overflow {
		return fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}
	a.funds[asset] = v.Set(&sum)
	return nil
}

// Withdraw debits free funds. Commit is the same operation used when an
// order reserves funds.
func (l *Ledger) Withdraw(maker, asset Address, amount *uint256.Int) error {
	return l.Commit(maker, asset, amount)
}

func (l *Ledger) Commit(maker, asset Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	a, ok := l.accounts[maker]
	if !ok {
		return ErrInsufficientFunds
	}
	v, ok := a.funds[asset]
	if !ok || v.Lt(amount) {
		return ErrInsufficientFunds
	}
	l.touch(maker)
	v.Sub(v, amount)
	return nil
}

func (l *Ledger) DepositCollateral(maker Address, amount *uint256.Int) error {
	a := l.account(maker)
	var sum uint256.Int
	if _, overflow := sum.AddOverflow(&a.free, amount); overflow {
		return fmt.Errorf("%w: collateral overflow", ErrInvalidAmount)
	}
	a.free = sum
	return nil
}

func (l *Ledger) WithdrawCollateral(maker Address, amount *uint256.Int) error {
	a, ok := l.accounts[maker]
	if !ok || a.free.Lt(amount) {
		return ErrInsufficientCollateral
	}
	l.touch(maker)
	a.free.Sub(&a.free, amount)
	return nil
}

// BindCollateral moves amount from free to bound collateral.
func (l *Ledger) BindCollateral(maker Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	a, ok := l.accounts[maker]
	if !ok || a.free.Lt(amount) {
		return ErrInsufficientCollateral
	}
	l.touch(maker)
	a.free.Sub(&a.free, amount)
	a.bound.Add(&a.bound, amount)
	return nil
}

// ReleaseCollateral unbinds boundDelta, returning freeDelta of it to free
// collateral. The difference is forfeited and counted as burned.
func (l *Ledger) ReleaseCollateral(maker Address, boundDelta, freeDelta *uint256.Int) error {
	if freeDelta.Gt(boundDelta) {
		return fmt.Errorf("%w: free share larger than release", ErrInvalidAmount)
	}
	if boundDelta.IsZero() {
		return nil
	}
	a, ok := l.accounts[maker]
	if !ok || a.bound.Lt(boundDelta) {
		return ErrReleaseExceedsBound
	}
	l.touch(maker)
	var burn uint256.Int
	burn.Sub(boundDelta, freeDelta)
	a.bound.Sub(&a.bound, boundDelta)
	a.free.Add(&a.free, freeDelta)
	a.burned.Add(&a.burned, &burn)
	return nil
}

// Makers returns every maker with an account, in address order.
func (l *Ledger) Makers() []Address {
	makers := make([]Address, 0, len(l.accounts))
	for m := range l.accounts {
		makers = append(makers, m)
	}
	slices.SortFunc(makers, func(a, b Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return makers
}

// account returns maker's account for writing, creating it if needed.
func (l *Ledger) account(maker Address) *account {
	l.touch(maker)
	a, ok := l.accounts[maker]
	if !ok {
		a = newAccount()
		l.accounts[maker] = a
	}
	return a
}
