// Package liquidity converts withheld levy amounts into paired liquidity
// positions through the exchange gateway.
//
// Both gateway legs run with zero minimum outputs: the design accepts any
// price impact rather than risk failing (and thereby reverting) the transfer
// that triggered the conversion. This is a deliberate throughput-over-
// protection tradeoff and a known value-extraction exposure.
package liquidity

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/levyprotocol/levyd/internal/domain"
)

// TransferFunc moves ledger-token value; the levy engine's Intercept is
// bound here after construction, so the conversion's own transfers travel
// the same interception path (where the reentrancy guard waves them
// through untaxed).
type TransferFunc func(ctx context.Context, from, to common.Address, amount *uint256.Int) error

// Emitter receives the liquidity-added observation.
type Emitter interface {
	LiquidityAdded(tokenConsumed, pairedSupplied *uint256.Int)
}

// Converter turns a tax amount held by protocol custody into a liquidity
// deposit credited to the administrator.
type Converter struct {
	gw       Gateway
	token    common.Address
	custody  common.Address
	admin    common.Address
	router   common.Address
	emitter  Emitter
	transfer TransferFunc
	clock    func() time.Time
}

// NewConverter constructs a Converter. BindTransfer must be called before
// Convert; the bind is deferred because the levy engine and the converter
// reference each other.
func NewConverter(gw Gateway, token, custody, admin, router common.Address, emitter Emitter) *Converter {
	return &Converter{
		gw:      gw,
		token:   token,
		custody: custody,
		admin:   admin,
		router:  router,
		emitter: emitter,
		clock:   time.Now,
	}
}

// BindTransfer installs the ledger-token transfer path.
func (c *Converter) BindTransfer(fn TransferFunc) { c.transfer = fn }

// WithClock overrides the converter clock for deterministic tests.
func (c *Converter) WithClock(clock func() time.Time) {
	if clock != nil {
		c.clock = clock
	}
}

// Convert swaps half of tax for the paired asset and deposits the remainder
// together with custody's entire paired-asset balance as liquidity. Any
// failure propagates and aborts the enclosing transfer; nothing is retried.
func (c *Converter) Convert(ctx context.Context, tax *uint256.Int) error {
	if c.transfer == nil {
		return fmt.Errorf("liquidity: convert: no transfer path bound")
	}
	if c.gw == nil {
		return fmt.Errorf("liquidity: convert: %w", domain.ErrGatewayCall)
	}

	// Exact split: half + remainder == tax, no rounding loss.
	half := new(uint256.Int).Div(tax, uint256.NewInt(2))
	remainder := new(uint256.Int).Sub(tax, half)
	zero := uint256.NewInt(0)

	// Deadline "this moment or fail" on both legs.
	deadline := c.clock()

	if err := c.gw.Approve(ctx, c.token, half); err != nil {
		return fmt.Errorf("liquidity: approve swap leg: %w", err)
	}

	// The router pulls the swap input through the ledger; the transfer
	// re-enters the levy engine under the guard and settles untaxed.
	if err := c.transfer(ctx, c.custody, c.router, half); err != nil {
		return fmt.Errorf("liquidity: move swap input: %w", err)
	}
	if err := c.gw.SwapExactIn(ctx, half, zero, c.custody, deadline); err != nil {
		return fmt.Errorf("liquidity: swap: %w", err)
	}

	// Sweep custody's full paired balance, not just this swap's output.
	paired, err := c.gw.PairedBalance(ctx, c.custody)
	if err != nil {
		return fmt.Errorf("liquidity: read paired balance: %w", err)
	}

	if err := c.gw.Approve(ctx, c.token, remainder); err != nil {
		return fmt.Errorf("liquidity: approve deposit leg: %w", err)
	}
	if err := c.gw.Approve(ctx, c.gw.PairedAsset(), paired); err != nil {
		return fmt.Errorf("liquidity: approve paired leg: %w", err)
	}

	if err := c.transfer(ctx, c.custody, c.router, remainder); err != nil {
		return fmt.Errorf("liquidity: move deposit input: %w", err)
	}
	if err := c.gw.AddLiquidity(ctx, remainder, paired, zero, zero, c.admin, deadline); err != nil {
		return fmt.Errorf("liquidity: add liquidity: %w", err)
	}

	c.emitter.LiquidityAdded(new(uint256.Int).Set(remainder), new(uint256.Int).Set(paired))
	return nil
}
