package engine

import (
	"errors"
	"fmt"

	. "obreserve/internal/common"
	"obreserve/internal/ledger"
	"obreserve/internal/orderlist"

	"github.com/holiman/uint256"
)

var ErrCorruptState = errors.New("corrupt reserve state")

// Snapshot is the full persisted state of a reserve.
type Snapshot struct {
	Lists    [len(Directions)]orderlist.Snapshot
	Accounts []ledger.AccountSnapshot
}

func (r *Reserve) Snapshot() Snapshot {
	var s Snapshot
	for _, d := range Directions {
		s.Lists[d] = r.state.lists[d].Snapshot()
	}
	s.Accounts = r.state.ledger.Snapshot()
	return s
}

// Restore builds a reserve from a snapshot. Every maker's bound collateral
// must equal the stake of its open orders.
func Restore(cfg Config, snap Snapshot, vault Vault, opts ...Option) (*Reserve, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &state{ledger: ledger.Restore(cfg.StakeRateBps, snap.Accounts)}
	for _, d := range Directions {
		ls := snap.Lists[d]
		if ls.PerMaker == 0 {
			ls.PerMaker = cfg.OrdersPerMaker
			ls.NextBlock = FirstOrderID
		}
		if ls.PerMaker != cfg.OrdersPerMaker {
			return nil, fmt.Errorf("%w: %s list has %d ids per maker, config has %d",
				ErrCorruptState, d, ls.PerMaker, cfg.OrdersPerMaker)
		}
		list, err := orderlist.Restore(ls)
		if err != nil {
			return nil, fmt.Errorf("%s list: %w", d, err)
		}
		s.lists[d] = list
	}

	r := newReserve(cfg, s, vault, opts...)
	stakes := make(map[Address]*uint256.Int)
	for _, d := range Directions {
		for _, o := range s.lists[d].Orders() {
			stake := r.orderStake(d, &o.SrcAmount, &o.DstAmount)
			sum, ok := stakes[o.Maker]
			if !ok {
				sum = new(uint256.Int)
				stakes[o.Maker] = sum
			}
			sum.Add(sum, &stake)
		}
	}
	for _, maker := range s.ledger.Makers() {
		want, ok := stakes[maker]
		if !ok {
			want = new(uint256.Int)
		}
		delete(stakes, maker)
		if c := s.ledger.Collateral(maker); !c.Bound.Eq(want) {
			return nil, fmt.Errorf("%w: %s has %s bound for %s of stake",
				ErrCorruptState, maker.Hex(), c.Bound.Dec(), want.Dec())
		}
	}
	for maker, want := range stakes {
		if !want.IsZero() {
			return nil, fmt.Errorf("%w: %s has orders but no account", ErrCorruptState, maker.Hex())
		}
	}
	return r, nil
}
