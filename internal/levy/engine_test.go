package levy

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/levyprotocol/levyd/internal/domain"
	"github.com/levyprotocol/levyd/internal/ledger"
)

var (
	tokenAddr   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	adminAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	custodyAddr = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	routerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob         = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

var genesis = mustTime("2024-01-01T00:00:00Z")

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

// supply is 1,000,000 scaled by 18 decimals.
func fullSupply() *uint256.Int {
	s := new(big.Int).Mul(big.NewInt(1_000_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	out, overflow := uint256.FromBig(s)
	if overflow {
		panic("supply overflow")
	}
	return out
}

type taxObs struct {
	from   common.Address
	amount *uint256.Int
}

type liqObs struct {
	token, paired *uint256.Int
}

// recordingEmitter captures observations for assertions.
type recordingEmitter struct {
	taxes []taxObs
	liq   []liqObs
}

func (r *recordingEmitter) TaxCollected(from common.Address, amount *uint256.Int) {
	r.taxes = append(r.taxes, taxObs{from: from, amount: amount})
}

func (r *recordingEmitter) LiquidityAdded(tokenConsumed, pairedSupplied *uint256.Int) {
	r.liq = append(r.liq, liqObs{token: tokenConsumed, paired: pairedSupplied})
}

// converterFunc adapts a function to the Converter interface.
type converterFunc func(ctx context.Context, tax *uint256.Int) error

func (f converterFunc) Convert(ctx context.Context, tax *uint256.Int) error { return f(ctx, tax) }

type fixture struct {
	ledger  *ledger.Ledger
	engine  *Engine
	emitter *recordingEmitter
	now     *time.Time
}

// newFixture builds a ledger with the full supply minted to the admin, an
// engine at the given clock instant, and a funded non-exempt holder (alice,
// 1,000,000 raw units moved via the exempt admin so no levy applies).
func newFixture(t *testing.T, conv Converter) *fixture {
	t.Helper()
	l := ledger.New(18)
	if err := l.Mint(adminAddr, fullSupply()); err != nil {
		t.Fatalf("mint: %v", err)
	}
	em := &recordingEmitter{}
	if conv == nil {
		conv = converterFunc(func(context.Context, *uint256.Int) error { return nil })
	}
	e := NewEngine(l, conv, em, Params{
		Token:   tokenAddr,
		Admin:   adminAddr,
		Custody: custodyAddr,
		Gateway: routerAddr,
		Genesis: genesis,
	})
	now := genesis.Add(time.Minute)
	e.WithClock(func() time.Time { return now })
	fx := &fixture{ledger: l, engine: e, emitter: em, now: &now}
	if err := e.Intercept(context.Background(), adminAddr, alice, amt(1_000_000)); err != nil {
		t.Fatalf("fund alice: %v", err)
	}
	return fx
}

func (fx *fixture) setNow(t time.Time) { *fx.now = t }

func TestGenesisSupplyAndExemptions(t *testing.T) {
	fx := newFixture(t, nil)
	want := fullSupply()
	if got := fx.ledger.TotalSupply(); !got.Eq(want) {
		t.Fatalf("total supply = %s, want %s", got, want)
	}
	for _, addr := range []common.Address{adminAddr, custodyAddr, routerAddr} {
		if !fx.engine.Exempt(addr) {
			t.Fatalf("expected %s exempt", addr)
		}
	}
	if fx.engine.Exempt(alice) {
		t.Fatal("alice must not be exempt")
	}
}

func TestInterceptInWindowSplit(t *testing.T) {
	// Converter drains custody through the gateway, as the real conversion
	// does via its nested transfer.
	var fx *fixture
	conv := converterFunc(func(ctx context.Context, tax *uint256.Int) error {
		return fx.engine.Intercept(ctx, custodyAddr, routerAddr, tax)
	})
	fx = newFixture(t, conv)

	before := fx.ledger.BalanceOf(bob)
	if err := fx.engine.Intercept(context.Background(), alice, bob, amt(1000)); err != nil {
		t.Fatalf("intercept: %v", err)
	}

	if got := new(uint256.Int).Sub(fx.ledger.BalanceOf(bob), before); got.Uint64() != 950 {
		t.Fatalf("recipient gained %s, want 950", got)
	}
	if got := fx.ledger.BalanceOf(custodyAddr); !got.IsZero() {
		t.Fatalf("custody = %s, want 0 after conversion consumed it", got)
	}
	if got := fx.ledger.BalanceOf(routerAddr); got.Uint64() != 50 {
		t.Fatalf("router holds %s, want 50", got)
	}
	if len(fx.emitter.taxes) != 1 {
		t.Fatalf("tax observations = %d, want 1", len(fx.emitter.taxes))
	}
	obs := fx.emitter.taxes[0]
	if obs.from != alice || obs.amount.Uint64() != 50 {
		t.Fatalf("observed TaxCollected(%s, %s), want (alice, 50)", obs.from, obs.amount)
	}
	if got := fx.ledger.SumBalances(); !got.Eq(fx.ledger.TotalSupply()) {
		t.Fatalf("conservation broken: sum %s != supply %s", got, fx.ledger.TotalSupply())
	}
}

func TestInterceptPostWindow(t *testing.T) {
	fx := newFixture(t, nil)
	fx.setNow(fx.engine.TaxEndTime().Add(time.Second))

	if err := fx.engine.Intercept(context.Background(), alice, bob, amt(1000)); err != nil {
		t.Fatalf("intercept: %v", err)
	}
	if got := fx.ledger.BalanceOf(bob); got.Uint64() != 1000 {
		t.Fatalf("recipient = %s, want exactly 1000", got)
	}
	if len(fx.emitter.taxes) != 0 {
		t.Fatalf("unexpected TaxCollected after window end")
	}
}

func TestWindowBoundary(t *testing.T) {
	fx := newFixture(t, nil)

	// At exactly taxEndTime the levy still applies.
	fx.setNow(fx.engine.TaxEndTime())
	if err := fx.engine.Intercept(context.Background(), alice, bob, amt(100)); err != nil {
		t.Fatalf("intercept at boundary: %v", err)
	}
	if got := fx.ledger.BalanceOf(bob); got.Uint64() != 95 {
		t.Fatalf("at taxEndTime recipient = %s, want 95", got)
	}

	// One second later it never applies.
	fx.setNow(fx.engine.TaxEndTime().Add(time.Second))
	if err := fx.engine.Intercept(context.Background(), alice, bob, amt(100)); err != nil {
		t.Fatalf("intercept past boundary: %v", err)
	}
	if got := fx.ledger.BalanceOf(bob); got.Uint64() != 195 {
		t.Fatalf("past taxEndTime recipient = %s, want 195", got)
	}
}

func TestExemptPartiesSkipLevy(t *testing.T) {
	fx := newFixture(t, nil)

	// Exempt sender.
	if err := fx.engine.Intercept(context.Background(), adminAddr, bob, amt(500)); err != nil {
		t.Fatalf("intercept: %v", err)
	}
	if got := fx.ledger.BalanceOf(bob); got.Uint64() != 500 {
		t.Fatalf("bob = %s, want 500 (no levy for exempt sender)", got)
	}

	// Exempt recipient.
	if err := fx.engine.Intercept(context.Background(), alice, adminAddr, amt(500)); err != nil {
		t.Fatalf("intercept: %v", err)
	}
	if len(fx.emitter.taxes) != 0 {
		t.Fatal("exempt parties must never be taxed inside the window")
	}
}

func TestZeroAmountNoConversion(t *testing.T) {
	converted := false
	conv := converterFunc(func(context.Context, *uint256.Int) error {
		converted = true
		return nil
	})
	fx := newFixture(t, conv)

	if err := fx.engine.Intercept(context.Background(), alice, bob, amt(0)); err != nil {
		t.Fatalf("intercept: %v", err)
	}
	if converted {
		t.Fatal("zero-amount transfer must not trigger conversion")
	}
	if len(fx.emitter.taxes) != 0 {
		t.Fatal("zero-amount transfer must not emit TaxCollected")
	}
}

func TestDustAmountBelowTaxFloor(t *testing.T) {
	converted := false
	conv := converterFunc(func(context.Context, *uint256.Int) error {
		converted = true
		return nil
	})
	fx := newFixture(t, conv)

	// floor(19*5/100) == 0: full amount delivered, no tax leg.
	if err := fx.engine.Intercept(context.Background(), alice, bob, amt(19)); err != nil {
		t.Fatalf("intercept: %v", err)
	}
	if got := fx.ledger.BalanceOf(bob); got.Uint64() != 19 {
		t.Fatalf("bob = %s, want 19", got)
	}
	if converted || len(fx.emitter.taxes) != 0 {
		t.Fatal("dust transfer must not tax or convert")
	}
}

func TestSelfTransferStillTaxed(t *testing.T) {
	fx := newFixture(t, nil)

	before := fx.ledger.BalanceOf(alice)
	if err := fx.engine.Intercept(context.Background(), alice, alice, amt(1000)); err != nil {
		t.Fatalf("intercept: %v", err)
	}
	// Net 950 returns to alice; the 50 withheld leaves her balance.
	want := new(uint256.Int).Sub(before, amt(50))
	if got := fx.ledger.BalanceOf(alice); !got.Eq(want) {
		t.Fatalf("alice = %s, want %s (self-transfer loses exactly the tax)", got, want)
	}
	if len(fx.emitter.taxes) != 1 || fx.emitter.taxes[0].amount.Uint64() != 50 {
		t.Fatal("self-transfer must still emit TaxCollected(alice, 50)")
	}
}

func TestReentrantTransferNotTaxed(t *testing.T) {
	// A malicious collaborator re-enters a transfer between two non-exempt
	// holders while the conversion is outstanding. The guard must force the
	// re-entered transfer through untaxed instead of recursing.
	var fx *fixture
	conv := converterFunc(func(ctx context.Context, tax *uint256.Int) error {
		return fx.engine.Intercept(ctx, alice, bob, amt(100))
	})
	fx = newFixture(t, conv)

	if err := fx.engine.Intercept(context.Background(), alice, bob, amt(1000)); err != nil {
		t.Fatalf("intercept: %v", err)
	}
	// 950 net + 100 untaxed re-entered transfer.
	if got := fx.ledger.BalanceOf(bob); got.Uint64() != 1050 {
		t.Fatalf("bob = %s, want 1050", got)
	}
	if len(fx.emitter.taxes) != 1 {
		t.Fatalf("tax observations = %d, want exactly 1 (no nested levy)", len(fx.emitter.taxes))
	}
}

func TestConverterFailureRevertsEverything(t *testing.T) {
	sentinel := errors.New("pair paused")
	var fx *fixture
	conv := converterFunc(func(ctx context.Context, tax *uint256.Int) error {
		// Partially drain custody before failing; the revert must undo
		// this nested move too.
		if err := fx.engine.Intercept(ctx, custodyAddr, routerAddr, amt(10)); err != nil {
			return err
		}
		return sentinel
	})
	fx = newFixture(t, conv)

	aliceBefore := fx.ledger.BalanceOf(alice)
	bobBefore := fx.ledger.BalanceOf(bob)

	err := fx.engine.Intercept(context.Background(), alice, bob, amt(1000))
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want converter failure", err)
	}

	// All-or-nothing: even the already-delivered net amount is unwound.
	if got := fx.ledger.BalanceOf(alice); !got.Eq(aliceBefore) {
		t.Fatalf("alice = %s, want %s after revert", got, aliceBefore)
	}
	if got := fx.ledger.BalanceOf(bob); !got.Eq(bobBefore) {
		t.Fatalf("bob = %s, want %s after revert", got, bobBefore)
	}
	if got := fx.ledger.BalanceOf(custodyAddr); !got.IsZero() {
		t.Fatalf("custody = %s, want 0 after revert", got)
	}
	if got := fx.ledger.BalanceOf(routerAddr); !got.IsZero() {
		t.Fatalf("router = %s, want 0 after revert", got)
	}
}

func TestGuardReleasedAfterConverterFailure(t *testing.T) {
	fail := true
	conv := converterFunc(func(context.Context, *uint256.Int) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	})
	fx := newFixture(t, conv)

	if err := fx.engine.Intercept(context.Background(), alice, bob, amt(1000)); err == nil {
		t.Fatal("expected converter failure")
	}

	// The guard must have been released: the next transfer taxes normally.
	fail = false
	if err := fx.engine.Intercept(context.Background(), alice, bob, amt(1000)); err != nil {
		t.Fatalf("intercept after failure: %v", err)
	}
	if got := fx.ledger.BalanceOf(bob); got.Uint64() != 950 {
		t.Fatalf("bob = %s, want 950 (levy applies again)", got)
	}
}

func TestConservationAcrossSequence(t *testing.T) {
	var fx *fixture
	conv := converterFunc(func(ctx context.Context, tax *uint256.Int) error {
		return fx.engine.Intercept(ctx, custodyAddr, routerAddr, tax)
	})
	fx = newFixture(t, conv)

	supply := fx.ledger.TotalSupply()
	moves := []struct {
		from, to common.Address
		amount   uint64
	}{
		{alice, bob, 1000},
		{bob, alice, 333},
		{alice, alice, 77},
		{adminAddr, bob, 5000},
		{bob, alice, 1},
	}
	for i, m := range moves {
		if err := fx.engine.Intercept(context.Background(), m.from, m.to, amt(m.amount)); err != nil {
			t.Fatalf("move %d: %v", i, err)
		}
		if got := fx.ledger.SumBalances(); !got.Eq(supply) {
			t.Fatalf("after move %d: sum %s != supply %s", i, got, supply)
		}
	}
}

func TestRemainingTaxWindow(t *testing.T) {
	fx := newFixture(t, nil)
	if got := fx.engine.RemainingTaxWindow(genesis.Add(20 * time.Minute)); got != 40*time.Minute {
		t.Fatalf("remaining = %v, want 40m", got)
	}
	if got := fx.engine.RemainingTaxWindow(genesis.Add(2 * time.Hour)); got != 0 {
		t.Fatalf("remaining = %v, want 0", got)
	}
}

type recordingMover struct {
	asset, to common.Address
	amount    *uint256.Int
	calls     int
}

func (m *recordingMover) TransferForeign(_ context.Context, asset, to common.Address, amount *uint256.Int) error {
	m.asset, m.to, m.amount = asset, to, amount
	m.calls++
	return nil
}

func TestRecoverForeignAsset(t *testing.T) {
	fx := newFixture(t, nil)
	mover := &recordingMover{}
	fx.engine.WithForeignMover(mover)
	ctx := context.Background()
	other := common.HexToAddress("0x00000000000000000000000000000000000000fe")

	if err := fx.engine.RecoverForeignAsset(ctx, alice, other, amt(5)); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-admin err = %v, want ErrUnauthorized", err)
	}
	if err := fx.engine.RecoverForeignAsset(ctx, adminAddr, tokenAddr, amt(5)); !errors.Is(err, domain.ErrSelfRecovery) {
		t.Fatalf("self-asset err = %v, want ErrSelfRecovery", err)
	}
	if err := fx.engine.RecoverForeignAsset(ctx, adminAddr, other, amt(5)); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if mover.calls != 1 || mover.asset != other || mover.to != adminAddr || mover.amount.Uint64() != 5 {
		t.Fatalf("mover saw (%s, %s, %s), want (other, admin, 5)", mover.asset, mover.to, mover.amount)
	}
}
