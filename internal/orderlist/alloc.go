package orderlist

import (
	"fmt"

	. "obreserve/internal/common"

	"github.com/tidwall/btree"
)

// block is a maker's contiguous ID range [first, first+perMaker).
type block struct {
	first  OrderID
	cursor OrderID // next never-used ID
	free   *btree.Set[OrderID]
}

func (b *block) clone() *block {
	return &block{first: b.first, cursor: b.cursor, free: b.free.Copy()}
}

// CanAllocate reports whether maker can get another ID without exceeding
// its capacity.
func (l *List) CanAllocate(maker Address) bool {
	b, ok := l.blocks[maker]
	if !ok {
		return l.perMaker > 0 && uint64(l.nextBlock)+uint64(l.perMaker) <= uint64(^OrderID(0))+1
	}
	return b.free.Len() > 0 || uint32(b.cursor-b.first) < l.perMaker
}

// AllocateID hands out the lowest released ID of maker, or the next unused
// one of its block. The first call for a maker reserves its block.
func (l *List) AllocateID(maker Address) (OrderID, error) {
	if !l.CanAllocate(maker) {
		return NoOrder, fmt.Errorf("%w: %s", ErrMakerOrderCapacityExceeded, maker.Hex())
	}
	l.touchBlock(maker)
	b, ok := l.blocks[maker]
	if !ok {
		b = &block{
			first:  l.nextBlock,
			cursor: l.nextBlock,
			free:   new(btree.Set[OrderID]),
		}
		l.blocks[maker] = b
		l.owners = append(l.owners, maker)
		l.nextBlock += OrderID(l.perMaker)
	}

	if id, ok := b.free.PopMin(); ok {
		return id, nil
	}
	id := b.cursor
	b.cursor++
	l.grow(id)
	return id, nil
}

// MakerOrders returns the live order IDs of maker in ID order.
func (l *List) MakerOrders(maker Address) []OrderID {
	b, ok := l.blocks[maker]
	if !ok {
		return nil
	}
	var ids []OrderID
	for id := b.first; id < b.cursor; id++ {
		if l.nodes[id].live {
			ids = append(ids, id)
		}
	}
	return ids
}

// Allocated returns how many IDs maker currently holds, live or allocated
// but not yet inserted.
func (l *List) Allocated(maker Address) int {
	b, ok := l.blocks[maker]
	if !ok {
		return 0
	}
	return int(b.cursor-b.first) - b.free.Len()
}

func (l *List) ownedBy(id OrderID, maker Address) bool {
	b, ok := l.blocks[maker]
	return ok && id >= b.first && id < b.cursor && !b.free.Contains(id)
}

func (l *List) release(maker Address, id OrderID) {
	if b, ok := l.blocks[maker]; ok {
		l.touchBlock(maker)
		b.free.Insert(id)
	}
}

func (l *List) grow(id OrderID) {
	if int(id) < len(l.nodes) {
		return
	}
	n := int(id) + 1
	if n < 2*len(l.nodes) {
		n = 2 * len(l.nodes)
	}
	nodes := make([]node, n)
	copy(nodes, l.nodes)
	l.nodes = nodes
}
