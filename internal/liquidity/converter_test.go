package liquidity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	tokenAddr   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	pairedAddr  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	custodyAddr = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	adminAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	routerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

type approval struct {
	asset  common.Address
	amount *uint256.Int
}

type swapCall struct {
	in, minOut *uint256.Int
	recipient  common.Address
	deadline   time.Time
}

type depositCall struct {
	token, paired, tokenMin, pairedMin *uint256.Int
	lpRecipient                        common.Address
	deadline                           time.Time
}

// fakeGateway is an in-memory exchange: swaps credit the recipient's paired
// balance 1:1 with the input.
type fakeGateway struct {
	approvals []approval
	swaps     []swapCall
	deposits  []depositCall
	pairedBal map[common.Address]*uint256.Int

	swapErr    error
	depositErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{pairedBal: make(map[common.Address]*uint256.Int)}
}

func (g *fakeGateway) PairedAsset() common.Address { return pairedAddr }

func (g *fakeGateway) Approve(_ context.Context, asset common.Address, amount *uint256.Int) error {
	g.approvals = append(g.approvals, approval{asset: asset, amount: new(uint256.Int).Set(amount)})
	return nil
}

func (g *fakeGateway) SwapExactIn(_ context.Context, in, minOut *uint256.Int, recipient common.Address, deadline time.Time) error {
	if g.swapErr != nil {
		return g.swapErr
	}
	g.swaps = append(g.swaps, swapCall{
		in: new(uint256.Int).Set(in), minOut: new(uint256.Int).Set(minOut),
		recipient: recipient, deadline: deadline,
	})
	bal := g.pairedBal[recipient]
	if bal == nil {
		bal = uint256.NewInt(0)
	}
	g.pairedBal[recipient] = new(uint256.Int).Add(bal, in)
	return nil
}

func (g *fakeGateway) PairedBalance(_ context.Context, holder common.Address) (*uint256.Int, error) {
	if b, ok := g.pairedBal[holder]; ok {
		return new(uint256.Int).Set(b), nil
	}
	return uint256.NewInt(0), nil
}

func (g *fakeGateway) AddLiquidity(_ context.Context, token, paired, tokenMin, pairedMin *uint256.Int, lp common.Address, deadline time.Time) error {
	if g.depositErr != nil {
		return g.depositErr
	}
	g.deposits = append(g.deposits, depositCall{
		token: new(uint256.Int).Set(token), paired: new(uint256.Int).Set(paired),
		tokenMin: new(uint256.Int).Set(tokenMin), pairedMin: new(uint256.Int).Set(pairedMin),
		lpRecipient: lp, deadline: deadline,
	})
	return nil
}

type move struct {
	from, to common.Address
	amount   *uint256.Int
}

type recordingEmitter struct {
	token, paired *uint256.Int
	calls         int
}

func (r *recordingEmitter) LiquidityAdded(token, paired *uint256.Int) {
	r.token, r.paired = token, paired
	r.calls++
}

func newTestConverter(gw *fakeGateway) (*Converter, *recordingEmitter, *[]move) {
	em := &recordingEmitter{}
	c := NewConverter(gw, tokenAddr, custodyAddr, adminAddr, routerAddr, em)
	moves := &[]move{}
	c.BindTransfer(func(_ context.Context, from, to common.Address, amount *uint256.Int) error {
		*moves = append(*moves, move{from: from, to: to, amount: new(uint256.Int).Set(amount)})
		return nil
	})
	now := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)
	c.WithClock(func() time.Time { return now })
	return c, em, moves
}

func TestConvertSplitsExactly(t *testing.T) {
	gw := newFakeGateway()
	c, em, moves := newTestConverter(gw)

	// Odd amount: half=25, remainder=26, sum exact.
	if err := c.Convert(context.Background(), amt(51)); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(gw.swaps) != 1 || gw.swaps[0].in.Uint64() != 25 {
		t.Fatalf("swap in = %v, want 25", gw.swaps)
	}
	if len(gw.deposits) != 1 || gw.deposits[0].token.Uint64() != 26 {
		t.Fatalf("deposit token = %v, want 26", gw.deposits)
	}
	total := new(uint256.Int).Add(gw.swaps[0].in, gw.deposits[0].token)
	if total.Uint64() != 51 {
		t.Fatalf("half+remainder = %s, want 51", total)
	}
	if em.calls != 1 || em.token.Uint64() != 26 || em.paired.Uint64() != 25 {
		t.Fatalf("LiquidityAdded(%s, %s), want (26, 25)", em.token, em.paired)
	}
	// Both legs move custody value to the router.
	if len(*moves) != 2 || (*moves)[0].from != custodyAddr || (*moves)[0].to != routerAddr {
		t.Fatalf("unexpected moves: %v", *moves)
	}
}

func TestConvertZeroMinimumsAndDeadline(t *testing.T) {
	gw := newFakeGateway()
	c, _, _ := newTestConverter(gw)

	if err := c.Convert(context.Background(), amt(100)); err != nil {
		t.Fatalf("convert: %v", err)
	}
	s := gw.swaps[0]
	if !s.minOut.IsZero() {
		t.Fatalf("swap minOut = %s, want 0", s.minOut)
	}
	d := gw.deposits[0]
	if !d.tokenMin.IsZero() || !d.pairedMin.IsZero() {
		t.Fatalf("deposit minimums = (%s, %s), want zero", d.tokenMin, d.pairedMin)
	}
	wantDeadline := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)
	if !s.deadline.Equal(wantDeadline) || !d.deadline.Equal(wantDeadline) {
		t.Fatalf("deadlines (%v, %v), want the call instant", s.deadline, d.deadline)
	}
	if s.recipient != custodyAddr {
		t.Fatalf("swap recipient = %s, want custody", s.recipient)
	}
	if d.lpRecipient != adminAddr {
		t.Fatalf("lp recipient = %s, want admin", d.lpRecipient)
	}
}

func TestConvertSweepsPreexistingPairedBalance(t *testing.T) {
	gw := newFakeGateway()
	gw.pairedBal[custodyAddr] = amt(40) // left over from an earlier swap
	c, em, _ := newTestConverter(gw)

	if err := c.Convert(context.Background(), amt(100)); err != nil {
		t.Fatalf("convert: %v", err)
	}
	// Swap credits 50 more; the deposit supplies the full 90.
	if got := gw.deposits[0].paired; got.Uint64() != 90 {
		t.Fatalf("deposit paired = %s, want 90 (sweep)", got)
	}
	if em.paired.Uint64() != 90 {
		t.Fatalf("observed paired = %s, want 90", em.paired)
	}
}

func TestConvertApprovalSequence(t *testing.T) {
	gw := newFakeGateway()
	c, _, _ := newTestConverter(gw)

	if err := c.Convert(context.Background(), amt(100)); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(gw.approvals) != 3 {
		t.Fatalf("approvals = %d, want 3", len(gw.approvals))
	}
	if gw.approvals[0].asset != tokenAddr || gw.approvals[0].amount.Uint64() != 50 {
		t.Fatalf("first approval = %v, want token/50", gw.approvals[0])
	}
	if gw.approvals[1].asset != tokenAddr || gw.approvals[1].amount.Uint64() != 50 {
		t.Fatalf("second approval = %v, want token/50", gw.approvals[1])
	}
	if gw.approvals[2].asset != pairedAddr || gw.approvals[2].amount.Uint64() != 50 {
		t.Fatalf("third approval = %v, want paired/50", gw.approvals[2])
	}
}

func TestConvertPropagatesGatewayFailures(t *testing.T) {
	swapErr := errors.New("no liquidity")
	gw := newFakeGateway()
	gw.swapErr = swapErr
	c, em, _ := newTestConverter(gw)

	if err := c.Convert(context.Background(), amt(100)); !errors.Is(err, swapErr) {
		t.Fatalf("err = %v, want swap failure", err)
	}
	if em.calls != 0 {
		t.Fatal("no observation on failure")
	}

	depositErr := errors.New("pair paused")
	gw = newFakeGateway()
	gw.depositErr = depositErr
	c, em, _ = newTestConverter(gw)
	if err := c.Convert(context.Background(), amt(100)); !errors.Is(err, depositErr) {
		t.Fatalf("err = %v, want deposit failure", err)
	}
	if em.calls != 0 {
		t.Fatal("no observation on failure")
	}
}

func TestConvertRequiresBoundTransfer(t *testing.T) {
	gw := newFakeGateway()
	c := NewConverter(gw, tokenAddr, custodyAddr, adminAddr, routerAddr, &recordingEmitter{})
	if err := c.Convert(context.Background(), amt(10)); err == nil {
		t.Fatal("expected error without a bound transfer path")
	}
}
