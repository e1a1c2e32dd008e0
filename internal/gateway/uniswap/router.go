// Package uniswap implements the exchange gateway against a V2-style router
// contract over JSON-RPC. It signs and submits real transactions with the
// operator key and blocks until each one is mined.
package uniswap

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/levyprotocol/levyd/internal/domain"
)

// Config fixes the router client's contract addresses and chain parameters.
type Config struct {
	Router      common.Address
	Token       common.Address
	PairedAsset common.Address
	ChainID     *big.Int
	GasLimit    uint64
}

// Router talks to a V2 exchange router and the ERC-20 contracts around it.
// It implements liquidity.Gateway and levy.ForeignMover.
type Router struct {
	eth    *ethclient.Client
	cfg    Config
	key    *ecdsa.PrivateKey
	from   common.Address
	signer types.Signer
	logger *slog.Logger

	routerABI  abi.ABI
	factoryABI abi.ABI
	erc20ABI   abi.ABI
}

// Dial connects to the JSON-RPC endpoint and returns a Router signing with
// the given operator key.
func Dial(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey, cfg Config, logger *slog.Logger) (*Router, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("uniswap: dial %s: %w", rpcURL, err)
	}

	routerABI, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		return nil, fmt.Errorf("uniswap: parse router abi: %w", err)
	}
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("uniswap: parse factory abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("uniswap: parse erc20 abi: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		eth:        eth,
		cfg:        cfg,
		key:        key,
		from:       ethcrypto.PubkeyToAddress(key.PublicKey),
		signer:     types.LatestSignerForChainID(cfg.ChainID),
		logger:     logger.With("component", "uniswap"),
		routerABI:  routerABI,
		factoryABI: factoryABI,
		erc20ABI:   erc20ABI,
	}, nil
}

// Close releases the underlying RPC connection.
func (r *Router) Close() {
	r.eth.Close()
}

// Operator returns the address transactions are signed with.
func (r *Router) Operator() common.Address {
	return r.from
}

// PairedAsset returns the identity of the second asset of the pool.
func (r *Router) PairedAsset() common.Address {
	return r.cfg.PairedAsset
}

// EnsurePair creates the token/paired-asset pool through the router's
// factory if it does not exist yet. Safe to call on every startup; an
// existing pool is a no-op.
func (r *Router) EnsurePair(ctx context.Context) error {
	factory, err := r.factoryAddress(ctx)
	if err != nil {
		return err
	}

	pair, err := r.getPair(ctx, factory)
	if err != nil {
		return err
	}
	if pair != (common.Address{}) {
		r.logger.Debug("pair exists", "pair", pair.Hex())
		return nil
	}

	data, err := r.factoryABI.Pack("createPair", r.cfg.Token, r.cfg.PairedAsset)
	if err != nil {
		return fmt.Errorf("uniswap: pack createPair: %w", err)
	}

	r.logger.Info("creating pair",
		"token", r.cfg.Token.Hex(),
		"paired_asset", r.cfg.PairedAsset.Hex())

	if err := r.sendAndWait(ctx, factory, data); err != nil {
		return fmt.Errorf("uniswap: createPair: %w", err)
	}
	return nil
}

func (r *Router) factoryAddress(ctx context.Context) (common.Address, error) {
	data, err := r.routerABI.Pack("factory")
	if err != nil {
		return common.Address{}, fmt.Errorf("uniswap: pack factory: %w", err)
	}
	router := r.cfg.Router
	out, err := r.eth.CallContract(ctx, ethereum.CallMsg{To: &router, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("uniswap: call factory: %w", err)
	}
	vals, err := r.routerABI.Unpack("factory", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("uniswap: unpack factory: %w", err)
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("uniswap: factory returned %T, want address", vals[0])
	}
	return addr, nil
}

func (r *Router) getPair(ctx context.Context, factory common.Address) (common.Address, error) {
	data, err := r.factoryABI.Pack("getPair", r.cfg.Token, r.cfg.PairedAsset)
	if err != nil {
		return common.Address{}, fmt.Errorf("uniswap: pack getPair: %w", err)
	}
	out, err := r.eth.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("uniswap: call getPair: %w", err)
	}
	vals, err := r.factoryABI.Unpack("getPair", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("uniswap: unpack getPair: %w", err)
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("uniswap: getPair returned %T, want address", vals[0])
	}
	return addr, nil
}

// Approve grants the router spending approval for amount of asset.
func (r *Router) Approve(ctx context.Context, asset common.Address, amount *uint256.Int) error {
	data, err := r.erc20ABI.Pack("approve", r.cfg.Router, amount.ToBig())
	if err != nil {
		return fmt.Errorf("uniswap: pack approve: %w", err)
	}
	if err := r.sendAndWait(ctx, asset, data); err != nil {
		return fmt.Errorf("uniswap: approve %s: %w", asset.Hex(), err)
	}
	return nil
}

// SwapExactIn swaps amountIn of the ledger token for the paired asset using
// the fee-on-transfer-tolerant entry point, crediting the output to recipient.
func (r *Router) SwapExactIn(ctx context.Context, amountIn, minOut *uint256.Int, recipient common.Address, deadline time.Time) error {
	path := []common.Address{r.cfg.Token, r.cfg.PairedAsset}
	data, err := r.routerABI.Pack(
		"swapExactTokensForTokensSupportingFeeOnTransferTokens",
		amountIn.ToBig(), minOut.ToBig(), path, recipient,
		big.NewInt(deadline.Unix()),
	)
	if err != nil {
		return fmt.Errorf("uniswap: pack swap: %w", err)
	}

	r.logger.Info("submitting swap",
		"amount_in", amountIn.Dec(),
		"min_out", minOut.Dec(),
		"recipient", recipient.Hex())

	if err := r.sendAndWait(ctx, r.cfg.Router, data); err != nil {
		return fmt.Errorf("uniswap: swap: %w", err)
	}
	return nil
}

// PairedBalance returns holder's current paired-asset balance.
func (r *Router) PairedBalance(ctx context.Context, holder common.Address) (*uint256.Int, error) {
	return r.balanceOf(ctx, r.cfg.PairedAsset, holder)
}

// AddLiquidity deposits the token and paired amounts into the pool, directing
// the liquidity-position credit to lpRecipient.
func (r *Router) AddLiquidity(ctx context.Context, tokenDesired, pairedDesired, tokenMin, pairedMin *uint256.Int, lpRecipient common.Address, deadline time.Time) error {
	data, err := r.routerABI.Pack(
		"addLiquidity",
		r.cfg.Token, r.cfg.PairedAsset,
		tokenDesired.ToBig(), pairedDesired.ToBig(),
		tokenMin.ToBig(), pairedMin.ToBig(),
		lpRecipient, big.NewInt(deadline.Unix()),
	)
	if err != nil {
		return fmt.Errorf("uniswap: pack addLiquidity: %w", err)
	}

	r.logger.Info("submitting liquidity deposit",
		"token_desired", tokenDesired.Dec(),
		"paired_desired", pairedDesired.Dec(),
		"lp_recipient", lpRecipient.Hex())

	if err := r.sendAndWait(ctx, r.cfg.Router, data); err != nil {
		return fmt.Errorf("uniswap: addLiquidity: %w", err)
	}
	return nil
}

// TransferForeign moves amount of a foreign ERC-20 held by the operator to
// the given recipient. Used by admin recovery of mistakenly deposited assets.
func (r *Router) TransferForeign(ctx context.Context, asset, to common.Address, amount *uint256.Int) error {
	data, err := r.erc20ABI.Pack("transfer", to, amount.ToBig())
	if err != nil {
		return fmt.Errorf("uniswap: pack transfer: %w", err)
	}
	if err := r.sendAndWait(ctx, asset, data); err != nil {
		return fmt.Errorf("uniswap: transfer %s: %w", asset.Hex(), err)
	}
	return nil
}

func (r *Router) balanceOf(ctx context.Context, asset, holder common.Address) (*uint256.Int, error) {
	data, err := r.erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("uniswap: pack balanceOf: %w", err)
	}

	msg := ethereum.CallMsg{To: &asset, Data: data}
	out, err := r.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("uniswap: call balanceOf %s: %w", asset.Hex(), err)
	}

	vals, err := r.erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("uniswap: unpack balanceOf: %w", err)
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("uniswap: balanceOf returned %T, want *big.Int", vals[0])
	}
	bal, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, fmt.Errorf("uniswap: balanceOf %s overflows uint256", asset.Hex())
	}
	return bal, nil
}

// sendAndWait signs a contract call with the operator key, submits it, and
// blocks until the transaction is mined. A reverted receipt is an error.
func (r *Router) sendAndWait(ctx context.Context, to common.Address, data []byte) error {
	nonce, err := r.eth.PendingNonceAt(ctx, r.from)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := r.eth.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      r.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, r.signer, r.key)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	if err := r.eth.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, r.eth, signed)
	if err != nil {
		return fmt.Errorf("wait mined %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: tx %s reverted", domain.ErrGatewayCall, signed.Hash().Hex())
	}

	r.logger.Debug("transaction mined",
		"tx", signed.Hash().Hex(),
		"block", receipt.BlockNumber.String(),
		"gas_used", receipt.GasUsed)
	return nil
}
