// Package vault holds fungible asset balances with allowances, standing in
// for the asset contracts a reserve settles against.
package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	. "obreserve/internal/common"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

type key struct {
	asset Address
	owner Address
}

type allowanceKey struct {
	asset   Address
	owner   Address
	spender Address
}

// Memory is an in-memory multi-asset vault.
type Memory struct {
	mu         sync.Mutex
	balances   map[key]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
}

func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[key]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

func (m *Memory) Mint(asset, to Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance(asset, to).Add(m.balance(asset, to), amount)
}

func (m *Memory) Approve(asset, owner, spender Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[allowanceKey{asset, owner, spender}] = amount.Clone()
}

func (m *Memory) BalanceOf(asset, owner Address) uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.balance(asset, owner)
}

func (m *Memory) Allowance(asset, owner, spender Address) uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.allowances[allowanceKey{asset, owner, spender}]; ok {
		return *a
	}
	return uint256.Int{}
}

// Transfer moves amount of asset from from to to.
func (m *Memory) Transfer(asset, from, to Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(asset, from, to, amount)
}

// TransferFrom moves amount from owner to to on behalf of spender.
func (m *Memory) TransferFrom(asset, spender, owner, to Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := allowanceKey{asset, owner, spender}
	a, ok := m.allowances[k]
	if !ok || a.Lt(amount) {
		return fmt.Errorf("%w: %s for %s", ErrInsufficientAllowance, owner.Hex(), spender.Hex())
	}
	if err := m.move(asset, owner, to, amount); err != nil {
		return err
	}
	a.Sub(a, amount)
	return nil
}

// Account returns a view of m acting as account.
func (m *Memory) Account(account Address) *Account {
	return &Account{m: m, self: account}
}

func (m *Memory) move(asset, from, to Address, amount *uint256.Int) error {
	src := m.balance(asset, from)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), src.Dec(), amount.Dec())
	}
	src.Sub(src, amount)
	dst := m.balance(asset, to)
	dst.Add(dst, amount)
	return nil
}

func (m *Memory) balance(asset, owner Address) *uint256.Int {
	k := key{asset, owner}
	b, ok := m.balances[k]
	if !ok {
		b = new(uint256.Int)
		m.balances[k] = b
	}
	return b
}

// Account is the vault as seen by one account, which it uses as sender and
// spender.
type Account struct {
	m    *Memory
	self Address
}

func (a *Account) Address() Address {
	return a.self
}

func (a *Account) Transfer(_ context.Context, asset, to Address, amount *uint256.Int) error {
	return a.m.Transfer(asset, a.self, to, amount)
}

func (a *Account) TransferFrom(_ context.Context, asset, owner Address, amount *uint256.Int) error {
	return a.m.TransferFrom(asset, a.self, owner, a.self, amount)
}

type Holding struct {
	Asset  Address
	Owner  Address
	Amount uint256.Int
}

type Allowance struct {
	Asset   Address
	Owner   Address
	Spender Address
	Amount  uint256.Int
}

// Snapshot lists every non-zero balance and allowance, sorted by key.
type Snapshot struct {
	Holdings   []Holding
	Allowances []Allowance
}

func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Snapshot
	for k, v := range m.balances {
		if !v.IsZero() {
			s.Holdings = append(s.Holdings, Holding{Asset: k.asset, Owner: k.owner, Amount: *v})
		}
	}
	for k, v := range m.allowances {
		if !v.IsZero() {
			s.Allowances = append(s.Allowances, Allowance{Asset: k.asset, Owner: k.owner, Spender: k.spender, Amount: *v})
		}
	}
	slices.SortFunc(s.Holdings, func(a, b Holding) int {
		if c := bytes.Compare(a.Asset[:], b.Asset[:]); c != 0 {
			return c
		}
		return bytes.Compare(a.Owner[:], b.Owner[:])
	})
	slices.SortFunc(s.Allowances, func(a, b Allowance) int {
		if c := bytes.Compare(a.Asset[:], b.Asset[:]); c != 0 {
			return c
		}
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c
		}
		return bytes.Compare(a.Spender[:], b.Spender[:])
	})
	return s
}

// Restore builds a vault holding exactly the balances in s.
func Restore(s Snapshot) *Memory {
	m := NewMemory()
	for _, h := range s.Holdings {
		m.balances[key{h.Asset, h.Owner}] = h.Amount.Clone()
	}
	for _, a := range s.Allowances {
		m.allowances[allowanceKey{a.Asset, a.Owner, a.Spender}] = a.Amount.Clone()
	}
	return m
}
