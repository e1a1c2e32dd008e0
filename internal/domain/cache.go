package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceCache provides fast access to recently settled balances for the
// read API. It is a best-effort snapshot; the ledger is the source of truth.
type BalanceCache interface {
	SetBalance(ctx context.Context, holder common.Address, balance *uint256.Int) error
	GetBalance(ctx context.Context, holder common.Address) (*uint256.Int, error)
	Invalidate(ctx context.Context, holder common.Address) error
}

// RateLimiter provides distributed rate limiting for the public API.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under the limit
	// and counts it when it is.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// Wait blocks until a request for key is allowed or ctx is done.
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locks so periodic jobs (archival) run on
// exactly one replica.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld when another party holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams for levy
// observations and settled transfers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel names published by the token service.
const (
	ChannelTransfer  = "ch:transfer"
	ChannelTax       = "ch:tax"
	ChannelLiquidity = "ch:liquidity"
)
