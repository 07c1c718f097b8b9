package orderlist

import (
	"errors"
	"fmt"

	. "obreserve/internal/common"

	"github.com/tidwall/btree"
)

var ErrCorruptSnapshot = errors.New("corrupt order list snapshot")

type BlockSnapshot struct {
	Maker  Address
	First  OrderID
	Cursor OrderID
	Free   []OrderID
}

// Snapshot is the persisted form of a list: orders best first plus the
// allocation state of every maker.
type Snapshot struct {
	PerMaker  uint32
	NextBlock OrderID
	Orders    []Order
	Blocks    []BlockSnapshot
}

func (l *List) Snapshot() Snapshot {
	s := Snapshot{
		PerMaker:  l.perMaker,
		NextBlock: l.nextBlock,
		Orders:    l.Orders(),
		Blocks:    make([]BlockSnapshot, 0, len(l.owners)),
	}
	for _, maker := range l.owners {
		b := l.blocks[maker]
		s.Blocks = append(s.Blocks, BlockSnapshot{
			Maker:  maker,
			First:  b.first,
			Cursor: b.cursor,
			Free:   b.free.Keys(),
		})
	}
	return s
}

// Restore rebuilds a list from a snapshot, checking that blocks do not
// overlap, every order belongs to its maker's block and the orders are
// sorted.
func Restore(s Snapshot) (*List, error) {
	if s.PerMaker == 0 {
		return nil, fmt.Errorf("%w: zero ids per maker", ErrCorruptSnapshot)
	}
	l := New(s.PerMaker)
	l.nextBlock = s.NextBlock

	for _, bs := range s.Blocks {
		if _, dup := l.blocks[bs.Maker]; dup {
			return nil, fmt.Errorf("%w: duplicate block for %s", ErrCorruptSnapshot, bs.Maker.Hex())
		}
		if bs.First < FirstOrderID || bs.Cursor < bs.First ||
			uint32(bs.Cursor-bs.First) > s.PerMaker || bs.First+OrderID(s.PerMaker) > s.NextBlock ||
			uint32(bs.First-FirstOrderID)%s.PerMaker != 0 {
			return nil, fmt.Errorf("%w: bad block for %s", ErrCorruptSnapshot, bs.Maker.Hex())
		}
		for _, other := range l.owners {
			if l.blocks[other].first == bs.First {
				return nil, fmt.Errorf("%w: overlapping blocks", ErrCorruptSnapshot)
			}
		}
		b := &block{first: bs.First, cursor: bs.Cursor, free: new(btree.Set[OrderID])}
		for _, id := range bs.Free {
			if id < bs.First || id >= bs.Cursor {
				return nil, fmt.Errorf("%w: free id %d outside block", ErrCorruptSnapshot, id)
			}
			b.free.Insert(id)
		}
		l.blocks[bs.Maker] = b
		l.owners = append(l.owners, bs.Maker)
		if bs.Cursor > bs.First {
			l.grow(bs.Cursor - 1)
		}
	}

	for i, o := range s.Orders {
		if !l.ownedBy(o.ID, o.Maker) || l.valid(o.ID) {
			return nil, fmt.Errorf("%w: order %d not owned by %s", ErrCorruptSnapshot, o.ID, o.Maker.Hex())
		}
		if o.SrcAmount.IsZero() || o.DstAmount.IsZero() {
			return nil, fmt.Errorf("%w: order %d has zero amount", ErrCorruptSnapshot, o.ID)
		}
		if i > 0 {
			prev := &s.Orders[i-1]
			if CompareRates(&prev.SrcAmount, &prev.DstAmount, &o.SrcAmount, &o.DstAmount) < 0 {
				return nil, fmt.Errorf("%w: order %d out of rate order", ErrCorruptSnapshot, o.ID)
			}
		}
		n := &l.nodes[o.ID]
		n.maker = o.Maker
		n.src = o.SrcAmount
		n.dst = o.DstAmount
		n.live = true
		l.link(o.ID, l.Last())
		l.size++
	}

	for _, maker := range l.owners {
		if l.Allocated(maker) != len(l.MakerOrders(maker)) {
			return nil, fmt.Errorf("%w: leaked ids for %s", ErrCorruptSnapshot, maker.Hex())
		}
	}
	return l, nil
}
