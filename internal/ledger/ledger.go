// Package ledger implements the fungible-token ledger primitive: per-holder
// balances, allowances, and a one-shot genesis mint. Every balance change
// funnels through MoveValue, and all writes are journaled so a caller can
// revert a whole chain of moves as one unit.
package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/levyprotocol/levyd/internal/domain"
)

// Ledger holds the token state. Reads are safe for concurrent use; writes
// are expected to be serialized by the caller (the token service holds one
// writer at a time), which keeps the journal coherent.
type Ledger struct {
	mu          sync.RWMutex
	decimals    uint8
	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
	minted      bool
	journal     []journalEntry
}

// New creates an empty ledger with the given decimal scale.
func New(decimals uint8) *Ledger {
	return &Ledger{
		decimals:    decimals,
		totalSupply: uint256.NewInt(0),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Decimals returns the ledger's decimal scale.
func (l *Ledger) Decimals() uint8 { return l.decimals }

// TotalSupply returns a copy of the total minted supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(l.totalSupply)
}

// BalanceOf returns a copy of the holder's balance (zero if unknown).
func (l *Ledger) BalanceOf(holder common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[holder]; ok {
		return new(uint256.Int).Set(b)
	}
	return uint256.NewInt(0)
}

// Allowance returns a copy of the amount spender may move on owner's behalf.
func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if inner, ok := l.allowances[owner]; ok {
		if a, ok := inner[spender]; ok {
			return new(uint256.Int).Set(a)
		}
	}
	return uint256.NewInt(0)
}

// SumBalances returns the sum over all holder balances. The ledger maintains
// the invariant SumBalances() == TotalSupply() at every observable point.
func (l *Ledger) SumBalances() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sum := uint256.NewInt(0)
	for _, b := range l.balances {
		var overflow bool
		sum, overflow = sum.AddOverflow(sum, b)
		if overflow {
			panic("ledger: balance sum overflow")
		}
	}
	return sum
}

// Mint credits the full supply to holder. It may be called exactly once;
// subsequent calls fail with domain.ErrSupplyMinted.
func (l *Ledger) Mint(holder common.Address, amount *uint256.Int) error {
	if holder == (common.Address{}) {
		return fmt.Errorf("ledger: mint: %w", domain.ErrZeroAddress)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.minted {
		return fmt.Errorf("ledger: mint: %w", domain.ErrSupplyMinted)
	}
	l.minted = true
	l.totalSupply = new(uint256.Int).Set(amount)
	l.balances[holder] = new(uint256.Int).Set(amount)
	return nil
}

// Approve sets spender's allowance over owner's balance. The write is
// journaled.
func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return fmt.Errorf("ledger: approve: %w", domain.ErrZeroAddress)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setAllowance(owner, spender, new(uint256.Int).Set(amount))
	return nil
}

// SpendAllowance reduces spender's allowance over owner's balance by amount,
// failing with domain.ErrInsufficientAllowance when the allowance is too
// small. The write is journaled.
func (l *Ledger) SpendAllowance(owner, spender common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	current := uint256.NewInt(0)
	if inner, ok := l.allowances[owner]; ok {
		if a, ok := inner[spender]; ok {
			current = a
		}
	}
	if current.Lt(amount) {
		return fmt.Errorf("ledger: spend allowance %s from %s: %w",
			amount, owner, domain.ErrInsufficientAllowance)
	}
	l.setAllowance(owner, spender, new(uint256.Int).Sub(current, amount))
	return nil
}

// MoveValue moves amount from one holder to another. It is the single funnel
// for every balance change after genesis. A zero amount is a journaled no-op.
func (l *Ledger) MoveValue(from, to common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return fmt.Errorf("ledger: move: %w", domain.ErrZeroAddress)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fromBal := l.balances[from]
	if fromBal == nil {
		fromBal = uint256.NewInt(0)
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("ledger: move %s from %s: %w",
			amount, from, domain.ErrInsufficientBalance)
	}

	l.setBalance(from, new(uint256.Int).Sub(fromBal, amount))

	toBal := l.balances[to]
	if toBal == nil {
		toBal = uint256.NewInt(0)
	}
	sum, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return fmt.Errorf("ledger: move %s to %s: balance overflow", amount, to)
	}
	l.setBalance(to, sum)
	return nil
}

// Snapshot marks the current journal position. RevertTo with the returned
// value undoes every write made after this call; Commit discards the undo
// information once the enclosing operation has settled.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// RevertTo undoes all journaled writes made after the given snapshot.
func (l *Ledger) RevertTo(snap int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.journal) - 1; i >= snap; i-- {
		l.journal[i].revert(l)
	}
	l.journal = l.journal[:snap]
}

// Commit discards undo entries recorded after the given snapshot. The writes
// themselves stay applied.
func (l *Ledger) Commit(snap int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if snap < len(l.journal) {
		l.journal = l.journal[:snap]
	}
}

// setBalance records the prior value in the journal, then applies the write.
// Caller holds l.mu.
func (l *Ledger) setBalance(holder common.Address, value *uint256.Int) {
	var prev *uint256.Int
	if b, ok := l.balances[holder]; ok {
		prev = new(uint256.Int).Set(b)
	}
	l.journal = append(l.journal, balanceChange{holder: holder, prev: prev})
	l.balances[holder] = value
}

// setAllowance records the prior value in the journal, then applies the
// write. Caller holds l.mu.
func (l *Ledger) setAllowance(owner, spender common.Address, value *uint256.Int) {
	var prev *uint256.Int
	if inner, ok := l.allowances[owner]; ok {
		if a, ok := inner[spender]; ok {
			prev = new(uint256.Int).Set(a)
		}
	}
	l.journal = append(l.journal, allowanceChange{owner: owner, spender: spender, prev: prev})
	inner, ok := l.allowances[owner]
	if !ok {
		inner = make(map[common.Address]*uint256.Int)
		l.allowances[owner] = inner
	}
	inner[spender] = value
}
