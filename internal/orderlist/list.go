// Package orderlist keeps one direction's resting orders in a doubly linked
// list sorted by descending rate. Nodes live in a slice indexed by OrderID,
// with HEAD and TAIL as fixed sentinel slots.
package orderlist

import (
	"errors"
	"fmt"

	. "obreserve/internal/common"

	"github.com/holiman/uint256"
)

var (
	ErrOrderExists  = errors.New("order already in list")
	ErrNotAllocated = errors.New("order id not allocated to maker")
	ErrOutOfPlace   = errors.New("amounts would break list order")
)

type node struct {
	maker Address
	src   uint256.Int
	dst   uint256.Int
	prev  OrderID
	next  OrderID
	live  bool
}

// Placement describes how a list mutation found its position.
type Placement struct {
	Prev  OrderID // predecessor after the mutation
	Steps int     // rate comparisons performed
	Moved bool    // false when an update only rewrote amounts
}

type List struct {
	nodes     []node
	blocks    map[Address]*block
	owners    []Address // block owners in allocation order
	nextBlock OrderID
	perMaker  uint32
	size      int
	journal   *journal
}

// New creates an empty list where each maker may hold up to perMaker IDs.
func New(perMaker uint32) *List {
	l := &List{
		nodes:     make([]node, FirstOrderID),
		blocks:    make(map[Address]*block),
		nextBlock: FirstOrderID,
		perMaker:  perMaker,
	}
	l.nodes[HeadID].next = TailID
	l.nodes[TailID].prev = HeadID
	return l
}

func (l *List) Len() int {
	return l.size
}

func (l *List) PerMaker() uint32 {
	return l.perMaker
}

// Head returns the best order, or TailID when the list is empty.
func (l *List) Head() OrderID {
	return l.nodes[HeadID].next
}

// Last returns the worst order, or HeadID when the list is empty.
func (l *List) Last() OrderID {
	return l.nodes[TailID].prev
}

// Next returns the order following id. TailID follows the last order.
func (l *List) Next(id OrderID) OrderID {
	if !l.valid(id) && id != HeadID {
		return NoOrder
	}
	return l.nodes[id].next
}

func (l *List) Prev(id OrderID) OrderID {
	if !l.valid(id) && id != TailID {
		return NoOrder
	}
	return l.nodes[id].prev
}

// Contains reports whether id is a live order.
func (l *List) Contains(id OrderID) bool {
	return l.valid(id)
}

func (l *List) Get(id OrderID) (Order, bool) {
	if !l.valid(id) {
		return Order{}, false
	}
	n := &l.nodes[id]
	return Order{
		ID:        id,
		Maker:     n.maker,
		SrcAmount: n.src,
		DstAmount: n.dst,
		PrevID:    n.prev,
		NextID:    n.next,
	}, true
}

// IDs returns the order IDs from best to worst.
func (l *List) IDs() []OrderID {
	ids := make([]OrderID, 0, l.size)
	for id := l.Head(); id != TailID; id = l.nodes[id].next {
		ids = append(ids, id)
	}
	return ids
}

// Orders returns the orders from best to worst.
func (l *List) Orders() []Order {
	orders := make([]Order, 0, l.size)
	for id := l.Head(); id != TailID; id = l.nodes[id].next {
		o, _ := l.Get(id)
		orders = append(orders, o)
	}
	return orders
}

// Add allocates an ID for maker and inserts the order after the position
// found from hint.
func (l *List) Add(maker Address, src, dst *uint256.Int, hint OrderID) (OrderID, Placement, error) {
	id, err := l.AllocateID(maker)
	if err != nil {
		return NoOrder, Placement{}, err
	}
	p, err := l.Insert(id, maker, src, dst, hint)
	if err != nil {
		l.release(maker, id)
		return NoOrder, Placement{}, err
	}
	return id, p, nil
}

// Insert links an allocated id into the list. A stale or wrong hint only
// costs extra steps.
func (l *List) Insert(id OrderID, maker Address, src, dst *uint256.Int, hint OrderID) (Placement, error) {
	if src.IsZero() || dst.IsZero() {
		return Placement{}, ErrInvalidAmount
	}
	if l.valid(id) {
		return Placement{}, fmt.Errorf("%w: %d", ErrOrderExists, id)
	}
	if !l.ownedBy(id, maker) {
		return Placement{}, fmt.Errorf("%w: %d", ErrNotAllocated, id)
	}

	prev, steps := l.position(src, dst, hint, NoOrder)
	l.touch(id)
	n := &l.nodes[id]
	n.maker = maker
	n.src.Set(src)
	n.dst.Set(dst)
	n.live = true
	l.link(id, prev)
	l.size++
	return Placement{Prev: prev, Steps: steps, Moved: true}, nil
}

// Update rewrites the amounts of id. The order keeps its slot while its new
// rate still fits between its neighbours, otherwise it is moved.
func (l *List) Update(id OrderID, src, dst *uint256.Int, hint OrderID) (Placement, error) {
	if src.IsZero() || dst.IsZero() {
		return Placement{}, ErrInvalidAmount
	}
	if !l.valid(id) {
		return Placement{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}

	l.touch(id)
	n := &l.nodes[id]
	if l.fitsInPlace(id, src, dst) {
		n.src.Set(src)
		n.dst.Set(dst)
		return Placement{Prev: n.prev, Steps: 2}, nil
	}

	prev, steps := l.position(src, dst, hint, id)
	l.unlink(id)
	n.src.Set(src)
	n.dst.Set(dst)
	l.link(id, prev)
	return Placement{Prev: prev, Steps: steps + 2, Moved: true}, nil
}

// Resize rewrites amounts without moving the order. It fails when the new
// rate would break the ordering with either neighbour.
func (l *List) Resize(id OrderID, src, dst *uint256.Int) error {
	if src.IsZero() || dst.IsZero() {
		return ErrInvalidAmount
	}
	if !l.valid(id) {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if !l.fitsInPlace(id, src, dst) {
		return fmt.Errorf("%w: %d", ErrOutOfPlace, id)
	}
	l.touch(id)
	n := &l.nodes[id]
	n.src.Set(src)
	n.dst.Set(dst)
	return nil
}

// Remove unlinks id and returns it to its maker's free pool.
func (l *List) Remove(id OrderID) error {
	if !l.valid(id) {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	l.unlink(id)
	n := &l.nodes[id]
	maker := n.maker
	*n = node{}
	l.size--
	l.release(maker, id)
	return nil
}

// FindInsertPosition returns the predecessor a new order with the given
// amounts would get, and the number of steps needed to find it from hint.
func (l *List) FindInsertPosition(src, dst *uint256.Int, hint OrderID) (OrderID, int) {
	if src.IsZero() || dst.IsZero() {
		return NoOrder, 0
	}
	return l.position(src, dst, hint, NoOrder)
}

// FindUpdatePosition returns the predecessor id would have after an update
// to the given amounts.
func (l *List) FindUpdatePosition(id OrderID, src, dst *uint256.Int, hint OrderID) (OrderID, int) {
	if !l.valid(id) || src.IsZero() || dst.IsZero() {
		return NoOrder, 0
	}
	if l.fitsInPlace(id, src, dst) {
		return l.nodes[id].prev, 2
	}
	prev, steps := l.position(src, dst, hint, id)
	return prev, steps + 2
}

func (l *List) valid(id OrderID) bool {
	return id >= FirstOrderID && int(id) < len(l.nodes) && l.nodes[id].live
}

func (l *List) link(id, prev OrderID) {
	next := l.nodes[prev].next
	l.touch(id, prev, next)
	l.nodes[id].prev = prev
	l.nodes[id].next = next
	l.nodes[prev].next = id
	l.nodes[next].prev = id
}

func (l *List) unlink(id OrderID) {
	n := &l.nodes[id]
	l.touch(id, n.prev, n.next)
	l.nodes[n.prev].next = n.next
	l.nodes[n.next].prev = n.prev
	n.prev, n.next = NoOrder, NoOrder
}
