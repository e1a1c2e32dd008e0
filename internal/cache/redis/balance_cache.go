package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/levyprotocol/levyd/internal/domain"
)

// BalanceCache implements domain.BalanceCache using Redis hashes.
// Each holder's balance is stored as a hash at key "balance:{address}" with
// fields "value" (decimal string) and "ts" (Unix nanosecond timestamp).
type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBalanceCache creates a BalanceCache backed by the given Client. Entries
// expire after ttl; a non-positive ttl keeps them until invalidated.
func NewBalanceCache(c *Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{rdb: c.Underlying(), ttl: ttl}
}

func balanceKey(holder common.Address) string {
	return "balance:" + holder.Hex()
}

// SetBalance stores the latest settled balance for a holder.
func (bc *BalanceCache) SetBalance(ctx context.Context, holder common.Address, balance *uint256.Int) error {
	key := balanceKey(holder)
	fields := map[string]interface{}{
		"value": balance.Dec(),
		"ts":    strconv.FormatInt(time.Now().UnixNano(), 10),
	}
	pipe := bc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if bc.ttl > 0 {
		pipe.Expire(ctx, key, bc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set balance %s: %w", holder.Hex(), err)
	}
	return nil
}

// GetBalance retrieves the cached balance for a holder.
// It returns domain.ErrNotFound when the key does not exist.
func (bc *BalanceCache) GetBalance(ctx context.Context, holder common.Address) (*uint256.Int, error) {
	vals, err := bc.rdb.HGetAll(ctx, balanceKey(holder)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get balance %s: %w", holder.Hex(), err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrNotFound
	}

	valueStr, ok := vals["value"]
	if !ok {
		return nil, domain.ErrNotFound
	}
	balance, err := uint256.FromDecimal(valueStr)
	if err != nil {
		return nil, fmt.Errorf("redis: parse balance %s: %w", holder.Hex(), err)
	}
	return balance, nil
}

// Invalidate removes the cached balance for a holder.
func (bc *BalanceCache) Invalidate(ctx context.Context, holder common.Address) error {
	if err := bc.rdb.Del(ctx, balanceKey(holder)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate balance %s: %w", holder.Hex(), err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BalanceCache = (*BalanceCache)(nil)
