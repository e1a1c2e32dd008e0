package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// journalEntry is a single reversible state write.
type journalEntry interface {
	// revert undoes the write. Caller holds l.mu.
	revert(l *Ledger)
}

// balanceChange restores a holder's prior balance. A nil prev means the
// holder had no entry before the write.
type balanceChange struct {
	holder common.Address
	prev   *uint256.Int
}

func (c balanceChange) revert(l *Ledger) {
	if c.prev == nil {
		delete(l.balances, c.holder)
		return
	}
	l.balances[c.holder] = c.prev
}

// allowanceChange restores a prior allowance entry.
type allowanceChange struct {
	owner, spender common.Address
	prev           *uint256.Int
}

func (c allowanceChange) revert(l *Ledger) {
	inner := l.allowances[c.owner]
	if inner == nil {
		return
	}
	if c.prev == nil {
		delete(inner, c.spender)
		return
	}
	inner[c.spender] = c.prev
}
