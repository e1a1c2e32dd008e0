// Package levy implements the transfer-interception state machine: a
// time-bounded levy on every non-exempt transfer, routed through protocol
// custody into a liquidity conversion.
//
// The exemption set is fixed at construction (deployer, exchange gateway,
// protocol custody) and the engine deliberately exposes no mutator for it;
// the construction-only asymmetry mirrors the deployed behaviour.
package levy

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/levyprotocol/levyd/internal/domain"
	"github.com/levyprotocol/levyd/internal/ledger"
)

const (
	// TaxPercent is the share of every qualifying transfer diverted to
	// protocol custody while the window is open.
	TaxPercent = 5

	// TaxWindow is how long after genesis the levy stays active.
	TaxWindow = time.Hour

	// GenesisTokens is the fixed supply in whole tokens, minted to the
	// administrator at genesis. Scaled by the ledger's decimals.
	GenesisTokens = 1_000_000
)

// GenesisSupply returns the full minted supply scaled to base units.
func GenesisSupply(decimals uint8) *uint256.Int {
	supply := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	return supply.Mul(supply, uint256.NewInt(GenesisTokens))
}

// Converter turns a withheld tax amount into a liquidity deposit. Any error
// aborts the enclosing transfer entirely.
type Converter interface {
	Convert(ctx context.Context, tax *uint256.Int) error
}

// Emitter receives levy observations. Calls are provisional until Intercept
// returns nil: when a later step fails and the transfer is reverted, the
// caller must discard observations emitted during that attempt.
type Emitter interface {
	TaxCollected(from common.Address, amount *uint256.Int)
	LiquidityAdded(tokenConsumed, pairedSupplied *uint256.Int)
}

// ForeignMover moves balances of a foreign asset out of protocol custody.
// Used only by RecoverForeignAsset.
type ForeignMover interface {
	TransferForeign(ctx context.Context, asset, to common.Address, amount *uint256.Int) error
}

// Params fixes the engine's identities and window at construction.
type Params struct {
	Token   common.Address // the ledger's own token identity
	Admin   common.Address // administrator; receives LP credit, first exemption
	Custody common.Address // protocol custody; staging balance for conversion
	Gateway common.Address // exchange gateway router
	Genesis time.Time      // window start; taxEndTime = Genesis + TaxWindow
}

// Engine intercepts every ledger value-move and applies the levy. It is not
// safe for concurrent use: the token service serializes top-level calls, and
// nested calls (the converter's own transfers re-entering Intercept) run
// synchronously inside the enclosing one.
type Engine struct {
	ledger  *ledger.Ledger
	conv    Converter
	emitter Emitter
	foreign ForeignMover

	token   common.Address
	admin   common.Address
	custody common.Address
	gateway common.Address
	taxEnd  time.Time
	exempt  map[common.Address]bool

	// swapping suppresses levy evaluation while a conversion's nested
	// transfers are outstanding. Held only for the duration of a Convert
	// call and released on every exit path.
	swapping bool

	clock func() time.Time
}

// NewEngine constructs the levy engine. The exemption set is exactly the
// administrator, the gateway, and protocol custody.
func NewEngine(l *ledger.Ledger, conv Converter, emitter Emitter, p Params) *Engine {
	return &Engine{
		ledger:  l,
		conv:    conv,
		emitter: emitter,
		token:   p.Token,
		admin:   p.Admin,
		custody: p.Custody,
		gateway: p.Gateway,
		taxEnd:  p.Genesis.Add(TaxWindow),
		exempt: map[common.Address]bool{
			p.Admin:   true,
			p.Gateway: true,
			p.Custody: true,
		},
		clock: time.Now,
	}
}

// WithClock overrides the engine clock for deterministic tests.
func (e *Engine) WithClock(clock func() time.Time) {
	if clock != nil {
		e.clock = clock
	}
}

// WithForeignMover installs the mover used by RecoverForeignAsset.
func (e *Engine) WithForeignMover(m ForeignMover) { e.foreign = m }

// Exempt reports whether the identity is excluded from the levy.
func (e *Engine) Exempt(addr common.Address) bool { return e.exempt[addr] }

// TaxEndTime returns the instant after which the levy no longer applies.
func (e *Engine) TaxEndTime() time.Time { return e.taxEnd }

// Admin returns the administrator identity.
func (e *Engine) Admin() common.Address { return e.admin }

// Custody returns the protocol custody identity.
func (e *Engine) Custody() common.Address { return e.custody }

// InWindow reports whether the levy applies at the given instant. The window
// end is inclusive: at exactly taxEndTime the levy still applies.
func (e *Engine) InWindow(now time.Time) bool { return !now.After(e.taxEnd) }

// RemainingTaxWindow returns max(0, taxEndTime - now).
func (e *Engine) RemainingTaxWindow(now time.Time) time.Duration {
	if d := e.taxEnd.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Intercept performs the value-move(s) for a transfer of amount from one
// holder to another, applying the levy when it qualifies. Either every
// effect settles or none do: any failure, including a converter failure,
// reverts all balance changes made by this call before the error propagates.
func (e *Engine) Intercept(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	now := e.clock()

	// Post-window, exempt parties, and the conversion's own nested
	// transfers all delegate straight through.
	if now.After(e.taxEnd) || e.exempt[from] || e.exempt[to] || e.swapping {
		return e.ledger.MoveValue(from, to, amount)
	}

	tax, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(TaxPercent))
	if overflow {
		return fmt.Errorf("levy: tax computation overflow for amount %s", amount)
	}
	tax.Div(tax, uint256.NewInt(100))
	// Safe unchecked: tax <= amount by construction.
	net := new(uint256.Int).Sub(amount, tax)

	snap := e.ledger.Snapshot()

	// Net delivery always settles before the withheld share moves.
	if err := e.ledger.MoveValue(from, to, net); err != nil {
		e.ledger.RevertTo(snap)
		return err
	}

	if !tax.IsZero() {
		if err := e.ledger.MoveValue(from, e.custody, tax); err != nil {
			e.ledger.RevertTo(snap)
			return err
		}
		e.emitter.TaxCollected(from, new(uint256.Int).Set(tax))

		if err := e.convertGuarded(ctx, tax); err != nil {
			e.ledger.RevertTo(snap)
			return fmt.Errorf("levy: conversion: %w", err)
		}
	}
	return nil
}

// convertGuarded runs the liquidity conversion with the reentrancy guard
// held; the guard is released on every exit path.
func (e *Engine) convertGuarded(ctx context.Context, tax *uint256.Int) error {
	e.swapping = true
	defer func() { e.swapping = false }()
	return e.conv.Convert(ctx, new(uint256.Int).Set(tax))
}

// RecoverForeignAsset moves amount of a foreign asset from protocol custody
// to the caller. Privileged to the administrator; recovering the ledger's
// own token is forbidden. No held-amount precheck is performed - if custody
// does not hold the amount, the foreign asset's own ledger rejects the move.
func (e *Engine) RecoverForeignAsset(ctx context.Context, caller, asset common.Address, amount *uint256.Int) error {
	if caller != e.admin {
		return fmt.Errorf("levy: recover foreign asset: %w", domain.ErrUnauthorized)
	}
	if asset == e.token {
		return fmt.Errorf("levy: recover foreign asset: %w", domain.ErrSelfRecovery)
	}
	if e.foreign == nil {
		return fmt.Errorf("levy: recover foreign asset: no foreign mover configured")
	}
	if err := e.foreign.TransferForeign(ctx, asset, caller, amount); err != nil {
		return fmt.Errorf("levy: recover foreign asset %s: %w", asset, err)
	}
	return nil
}
