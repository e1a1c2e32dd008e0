package liquidity

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Gateway is the exchange boundary: a V2-style router that swaps the ledger
// token for the paired asset and accepts paired liquidity deposits. The
// concrete implementation lives in internal/gateway/uniswap; tests use an
// in-memory fake.
type Gateway interface {
	// PairedAsset returns the identity of the second asset of the pool.
	PairedAsset() common.Address

	// Approve grants the router spending approval for amount of asset out
	// of protocol custody.
	Approve(ctx context.Context, asset common.Address, amount *uint256.Int) error

	// SwapExactIn swaps amountIn of the ledger token for the paired asset
	// along the fee-on-transfer-tolerant entry point, crediting the output
	// to recipient. The swap fails if it cannot execute by deadline.
	SwapExactIn(ctx context.Context, amountIn, minOut *uint256.Int, recipient common.Address, deadline time.Time) error

	// PairedBalance returns holder's current paired-asset balance.
	PairedBalance(ctx context.Context, holder common.Address) (*uint256.Int, error)

	// AddLiquidity deposits the token and paired amounts into the pool,
	// directing the liquidity-position credit to lpRecipient.
	AddLiquidity(ctx context.Context, tokenDesired, pairedDesired, tokenMin, pairedMin *uint256.Int, lpRecipient common.Address, deadline time.Time) error
}
