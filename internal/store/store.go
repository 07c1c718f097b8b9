// Package store persists reserve snapshots in pebble.
package store

import (
	"bytes"
	"errors"
	"fmt"

	. "obreserve/internal/common"
	"obreserve/internal/engine"
	"obreserve/internal/ledger"
	"obreserve/internal/vault"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// State is everything a server persists: the reserve books and the vault
// balances they settle against.
type State struct {
	Reserve engine.Snapshot
	Vault   vault.Snapshot
}

// Save replaces the stored state with st in one synced batch.
func (s *Store) Save(st State) error {
	b := s.db.NewBatch()
	defer b.Close()

	snap := st.Reserve
	for _, prefix := range [][]byte{listPrefix, acctPrefix, fundPrefix, holdPrefix, allowPrefix} {
		if err := b.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
			return err
		}
	}

	for _, d := range Directions {
		ls := snap.Lists[d]
		if err := b.Set(listKey(d, "meta"), encodeListMeta(ls), nil); err != nil {
			return err
		}
		orders := listKey(d, "order/")
		for i, o := range ls.Orders {
			if err := b.Set(seqKey(orders, uint32(i)), encodeOrder(o), nil); err != nil {
				return err
			}
		}
		blocks := listKey(d, "block/")
		for i, bs := range ls.Blocks {
			if err := b.Set(seqKey(blocks, uint32(i)), encodeBlock(bs), nil); err != nil {
				return err
			}
		}
	}

	for _, a := range snap.Accounts {
		if err := b.Set(acctKey(a.Maker), encodeCollateral(a.Collateral), nil); err != nil {
			return err
		}
		for _, bal := range a.Funds {
			if err := b.Set(fundKey(a.Maker, bal.Asset), bal.Amount.PaddedBytes(amountLen), nil); err != nil {
				return err
			}
		}
	}

	for _, h := range st.Vault.Holdings {
		if err := b.Set(addrKey(holdPrefix, h.Asset, h.Owner), h.Amount.PaddedBytes(amountLen), nil); err != nil {
			return err
		}
	}
	for _, a := range st.Vault.Allowances {
		if err := b.Set(addrKey(allowPrefix, a.Asset, a.Owner, a.Spender), a.Amount.PaddedBytes(amountLen), nil); err != nil {
			return err
		}
	}

	return b.Commit(pebble.Sync)
}

// Load reads the stored state. It reports false when nothing was saved.
func (s *Store) Load() (State, bool, error) {
	snap, found, err := s.loadReserve()
	if err != nil {
		return State{}, false, err
	}
	v, err := s.loadVault()
	if err != nil {
		return State{}, false, err
	}
	found = found || len(v.Holdings) > 0
	return State{Reserve: snap, Vault: v}, found, nil
}

func (s *Store) loadVault() (vault.Snapshot, error) {
	var v vault.Snapshot
	err := s.scan(holdPrefix, func(key, val []byte) error {
		addrs, err := splitAddrs(key, holdPrefix, 2)
		if err != nil || len(val) != amountLen {
			return ErrBadRecord
		}
		v.Holdings = append(v.Holdings, vault.Holding{Asset: addrs[0], Owner: addrs[1], Amount: getAmount(val)})
		return nil
	})
	if err != nil {
		return vault.Snapshot{}, fmt.Errorf("holdings: %w", err)
	}
	err = s.scan(allowPrefix, func(key, val []byte) error {
		addrs, err := splitAddrs(key, allowPrefix, 3)
		if err != nil || len(val) != amountLen {
			return ErrBadRecord
		}
		v.Allowances = append(v.Allowances, vault.Allowance{
			Asset: addrs[0], Owner: addrs[1], Spender: addrs[2], Amount: getAmount(val),
		})
		return nil
	})
	if err != nil {
		return vault.Snapshot{}, fmt.Errorf("allowances: %w", err)
	}
	return v, nil
}

func (s *Store) loadReserve() (engine.Snapshot, bool, error) {
	var snap engine.Snapshot
	found := false

	for _, d := range Directions {
		ls := &snap.Lists[d]
		val, closer, err := s.db.Get(listKey(d, "meta"))
		if errors.Is(err, pebble.ErrNotFound) {
			continue
		}
		if err != nil {
			return engine.Snapshot{}, false, err
		}
		err = decodeListMeta(val, ls)
		closer.Close()
		if err != nil {
			return engine.Snapshot{}, false, fmt.Errorf("%s meta: %w", d, err)
		}
		found = true

		err = s.scan(listKey(d, "order/"), func(_, val []byte) error {
			o, err := decodeOrder(val)
			if err != nil {
				return err
			}
			ls.Orders = append(ls.Orders, o)
			return nil
		})
		if err != nil {
			return engine.Snapshot{}, false, fmt.Errorf("%s orders: %w", d, err)
		}

		err = s.scan(listKey(d, "block/"), func(_, val []byte) error {
			bs, err := decodeBlock(val)
			if err != nil {
				return err
			}
			ls.Blocks = append(ls.Blocks, bs)
			return nil
		})
		if err != nil {
			return engine.Snapshot{}, false, fmt.Errorf("%s blocks: %w", d, err)
		}
	}

	err := s.scan(acctPrefix, func(key, val []byte) error {
		c, err := decodeCollateral(val)
		if err != nil {
			return err
		}
		var a ledger.AccountSnapshot
		copy(a.Maker[:], key[len(acctPrefix):])
		a.Collateral = c
		snap.Accounts = append(snap.Accounts, a)
		return nil
	})
	if err != nil {
		return engine.Snapshot{}, false, fmt.Errorf("accounts: %w", err)
	}

	err = s.scan(fundPrefix, func(key, val []byte) error {
		if len(key) != len(fundPrefix)+2*addrLen || len(val) != amountLen {
			return ErrBadRecord
		}
		maker := key[len(fundPrefix) : len(fundPrefix)+addrLen]
		// Accounts and funds are both ordered by maker.
		i := len(snap.Accounts) - 1
		for i >= 0 && !bytes.Equal(snap.Accounts[i].Maker[:], maker) {
			i--
		}
		if i < 0 {
			return fmt.Errorf("%w: funds without account", ErrBadRecord)
		}
		var bal ledger.Balance
		copy(bal.Asset[:], key[len(fundPrefix)+addrLen:])
		bal.Amount = getAmount(val)
		snap.Accounts[i].Funds = append(snap.Accounts[i].Funds, bal)
		return nil
	})
	if err != nil {
		return engine.Snapshot{}, false, fmt.Errorf("funds: %w", err)
	}

	return snap, found || len(snap.Accounts) > 0, nil
}

func (s *Store) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
