package orderlist

import (
	. "obreserve/internal/common"

	"github.com/holiman/uint256"
)

// cmp compares the rate of order id with src/dst. Sentinels never compare:
// callers handle them before asking.
func (l *List) cmp(id OrderID, src, dst *uint256.Int) int {
	n := &l.nodes[id]
	return CompareRates(&n.src, &n.dst, src, dst)
}

// fitsInPlace reports whether id may take the given amounts without moving.
func (l *List) fitsInPlace(id OrderID, src, dst *uint256.Int) bool {
	n := &l.nodes[id]
	if n.prev != HeadID && l.cmp(n.prev, src, dst) < 0 {
		return false
	}
	if n.next != TailID && l.cmp(n.next, src, dst) > 0 {
		return false
	}
	return true
}

// next and prev step over skip, the order being repositioned.
func (l *List) nextSkip(id, skip OrderID) OrderID {
	next := l.nodes[id].next
	if next == skip && skip != NoOrder {
		next = l.nodes[skip].next
	}
	return next
}

func (l *List) prevSkip(id, skip OrderID) OrderID {
	prev := l.nodes[id].prev
	if prev == skip && skip != NoOrder {
		prev = l.nodes[skip].prev
	}
	return prev
}

// position finds the order after which an order with rate src/dst belongs:
// after every order whose rate is at least as good, so equal rates stay in
// arrival order. The walk starts at hint and moves backward or forward as
// needed; a hint that is not a live order restarts from HEAD.
func (l *List) position(src, dst *uint256.Int, hint, skip OrderID) (OrderID, int) {
	if hint != HeadID && (!l.valid(hint) || hint == skip) {
		hint = HeadID
	}

	steps := 0
	p := hint
	if p != HeadID {
		steps++
		if l.cmp(p, src, dst) < 0 {
			// Hint is worse than the new rate: walk back.
			for {
				p = l.prevSkip(p, skip)
				if p == HeadID {
					return p, steps
				}
				steps++
				if l.cmp(p, src, dst) >= 0 {
					return p, steps
				}
			}
		}
	}

	for {
		next := l.nextSkip(p, skip)
		if next == TailID {
			return p, steps
		}
		steps++
		if l.cmp(next, src, dst) < 0 {
			return p, steps
		}
		p = next
	}
}
