package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/levyprotocol/levyd/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestMintOnce(t *testing.T) {
	l := New(18)
	if err := l.Mint(alice, amt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := l.BalanceOf(alice); got.Uint64() != 1000 {
		t.Fatalf("balance after mint = %s, want 1000", got)
	}
	if got := l.TotalSupply(); got.Uint64() != 1000 {
		t.Fatalf("total supply = %s, want 1000", got)
	}
	err := l.Mint(alice, amt(1))
	if !errors.Is(err, domain.ErrSupplyMinted) {
		t.Fatalf("second mint err = %v, want ErrSupplyMinted", err)
	}
}

func TestMoveValue(t *testing.T) {
	l := New(18)
	if err := l.Mint(alice, amt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.MoveValue(alice, bob, amt(400)); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := l.BalanceOf(alice); got.Uint64() != 600 {
		t.Fatalf("alice = %s, want 600", got)
	}
	if got := l.BalanceOf(bob); got.Uint64() != 400 {
		t.Fatalf("bob = %s, want 400", got)
	}
	if got := l.SumBalances(); !got.Eq(l.TotalSupply()) {
		t.Fatalf("sum %s != supply %s", got, l.TotalSupply())
	}
}

func TestMoveValueInsufficient(t *testing.T) {
	l := New(18)
	if err := l.Mint(alice, amt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := l.MoveValue(alice, bob, amt(11))
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	// Nothing moved.
	if got := l.BalanceOf(alice); got.Uint64() != 10 {
		t.Fatalf("alice = %s, want 10", got)
	}
}

func TestMoveValueZeroAmount(t *testing.T) {
	l := New(18)
	if err := l.Mint(alice, amt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.MoveValue(alice, bob, amt(0)); err != nil {
		t.Fatalf("zero move: %v", err)
	}
	if got := l.BalanceOf(bob); !got.IsZero() {
		t.Fatalf("bob = %s, want 0", got)
	}
}

func TestAllowanceLifecycle(t *testing.T) {
	l := New(18)
	if err := l.Mint(alice, amt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Approve(alice, bob, amt(30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := l.Allowance(alice, bob); got.Uint64() != 30 {
		t.Fatalf("allowance = %s, want 30", got)
	}
	if err := l.SpendAllowance(alice, bob, amt(20)); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if got := l.Allowance(alice, bob); got.Uint64() != 10 {
		t.Fatalf("allowance = %s, want 10", got)
	}
	err := l.SpendAllowance(alice, bob, amt(11))
	if !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want ErrInsufficientAllowance", err)
	}
}

func TestRevertRestoresBalancesAndAllowances(t *testing.T) {
	l := New(18)
	if err := l.Mint(alice, amt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Approve(alice, bob, amt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	snap := l.Snapshot()
	if err := l.MoveValue(alice, bob, amt(300)); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := l.MoveValue(bob, carol, amt(100)); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := l.SpendAllowance(alice, bob, amt(50)); err != nil {
		t.Fatalf("spend: %v", err)
	}

	l.RevertTo(snap)

	if got := l.BalanceOf(alice); got.Uint64() != 1000 {
		t.Fatalf("alice after revert = %s, want 1000", got)
	}
	if got := l.BalanceOf(bob); !got.IsZero() {
		t.Fatalf("bob after revert = %s, want 0", got)
	}
	if got := l.BalanceOf(carol); !got.IsZero() {
		t.Fatalf("carol after revert = %s, want 0", got)
	}
	if got := l.Allowance(alice, bob); got.Uint64() != 50 {
		t.Fatalf("allowance after revert = %s, want 50", got)
	}
	if got := l.SumBalances(); !got.Eq(l.TotalSupply()) {
		t.Fatalf("sum %s != supply %s after revert", got, l.TotalSupply())
	}
}

func TestCommitDropsUndoButKeepsWrites(t *testing.T) {
	l := New(18)
	if err := l.Mint(alice, amt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	snap := l.Snapshot()
	if err := l.MoveValue(alice, bob, amt(40)); err != nil {
		t.Fatalf("move: %v", err)
	}
	l.Commit(snap)
	// A revert to the same snapshot must now be a no-op.
	l.RevertTo(snap)
	if got := l.BalanceOf(bob); got.Uint64() != 40 {
		t.Fatalf("bob = %s, want 40", got)
	}
}

func TestZeroAddressRejected(t *testing.T) {
	l := New(18)
	if err := l.Mint(alice, amt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	var zero common.Address
	if err := l.MoveValue(alice, zero, amt(1)); !errors.Is(err, domain.ErrZeroAddress) {
		t.Fatalf("move to zero err = %v, want ErrZeroAddress", err)
	}
	if err := l.Approve(alice, zero, amt(1)); !errors.Is(err, domain.ErrZeroAddress) {
		t.Fatalf("approve zero err = %v, want ErrZeroAddress", err)
	}
}
