// Package domain defines the core types shared across the levy ledger:
// transfer records, levy observations, and the store/cache/blob interfaces
// implemented by the infrastructure packages.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// TransferKind distinguishes how a transfer entered the ledger.
type TransferKind string

const (
	TransferKindDirect   TransferKind = "transfer"
	TransferKindApproved TransferKind = "transfer_from"
	TransferKindGenesis  TransferKind = "genesis"
	TransferKindInternal TransferKind = "internal" // conversion-path moves
)

// TransferRecord is the settled outcome of one transfer through the levy
// engine. Gross is the amount the sender asked to move; Net is what the
// recipient received; Tax is what was diverted to protocol custody. For
// untaxed transfers Net == Gross and Tax is zero.
type TransferRecord struct {
	ID     uuid.UUID
	At     time.Time
	Kind   TransferKind
	From   common.Address
	To     common.Address
	Gross  *uint256.Int
	Net    *uint256.Int
	Tax    *uint256.Int
	Taxed  bool
	Window bool // true when the transfer settled inside the tax window
}

// LevyEventKind identifies a levy engine observation.
type LevyEventKind string

const (
	EventTaxCollected   LevyEventKind = "tax_collected"
	EventLiquidityAdded LevyEventKind = "liquidity_added"
)

// LevyEvent is an observation emitted by the levy engine or the liquidity
// converter. For tax_collected, From/AmountA carry the payer and withheld
// amount. For liquidity_added, AmountA is the token amount consumed by the
// deposit and AmountB the paired-asset amount supplied.
type LevyEvent struct {
	ID      uuid.UUID
	Kind    LevyEventKind
	At      time.Time
	From    common.Address
	AmountA *uint256.Int
	AmountB *uint256.Int
}
