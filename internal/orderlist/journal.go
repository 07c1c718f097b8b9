package orderlist

import (
	. "obreserve/internal/common"
)

// journal holds the state a transaction found before its first write to
// each node and block. Only touched entries are recorded.
type journal struct {
	nodes     map[OrderID]node
	blocks    map[Address]*block // nil for blocks created in the transaction
	owners    int
	nextBlock OrderID
	size      int
}

// Begin starts recording changes so Rollback can undo them.
func (l *List) Begin() {
	l.journal = &journal{
		nodes:     make(map[OrderID]node),
		blocks:    make(map[Address]*block),
		owners:    len(l.owners),
		nextBlock: l.nextBlock,
		size:      l.size,
	}
}

// Commit keeps every change since Begin.
func (l *List) Commit() {
	l.journal = nil
}

// Rollback restores the list to its state at Begin.
func (l *List) Rollback() {
	j := l.journal
	if j == nil {
		return
	}
	l.journal = nil
	for id, n := range j.nodes {
		l.nodes[id] = n
	}
	for maker, b := range j.blocks {
		if b == nil {
			delete(l.blocks, maker)
			continue
		}
		l.blocks[maker] = b
	}
	l.owners = l.owners[:j.owners]
	l.nextBlock = j.nextBlock
	l.size = j.size
}

func (l *List) touch(ids ...OrderID) {
	if l.journal == nil {
		return
	}
	for _, id := range ids {
		if _, ok := l.journal.nodes[id]; !ok {
			l.journal.nodes[id] = l.nodes[id]
		}
	}
}

func (l *List) touchBlock(maker Address) {
	if l.journal == nil {
		return
	}
	if _, ok := l.journal.blocks[maker]; ok {
		return
	}
	if b, ok := l.blocks[maker]; ok {
		l.journal.blocks[maker] = b.clone()
		return
	}
	l.journal.blocks[maker] = nil
}
