package ledger

import (
	. "obreserve/internal/common"
)

// Begin starts recording the accounts a transaction changes so Rollback
// can put them back. Each touched account is copied once.
func (l *Ledger) Begin() {
	l.journal = make(map[Address]*account)
}

// Commit keeps every change since Begin.
func (l *Ledger) Commit() {
	l.journal = nil
}

// Rollback restores every account changed since Begin.
func (l *Ledger) Rollback() {
	j := l.journal
	l.journal = nil
	for maker, a := range j {
		if a == nil {
			delete(l.accounts, maker)
			continue
		}
		l.accounts[maker] = a
	}
}

// touch records maker's account before its first change. A nil entry
// marks an account the transaction created.
func (l *Ledger) touch(maker Address) {
	if l.journal == nil {
		return
	}
	if _, ok := l.journal[maker]; ok {
		return
	}
	if a, ok := l.accounts[maker]; ok {
		l.journal[maker] = a.clone()
		return
	}
	l.journal[maker] = nil
}
