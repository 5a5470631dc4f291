package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// BalanceCache keeps display copies of bonus balances. The ledger itself
// never reads from it.
type BalanceCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewBalanceCache(client RedisClient, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(userID int64) string {
	return fmt.Sprintf("bonus:%d:balance", userID)
}

func (c *BalanceCache) Get(ctx context.Context, userID int64) (int64, error) {
	val, err := c.client.Get(ctx, balanceKey(userID))
	if err != nil {
		return 0, err
	}
	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt cached balance for user %d: %w", userID, err)
	}
	return balance, nil
}

func (c *BalanceCache) Set(ctx context.Context, userID, balance int64) error {
	return c.client.Set(ctx, balanceKey(userID), strconv.FormatInt(balance, 10), c.ttl)
}

func (c *BalanceCache) Invalidate(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, balanceKey(userID))
}
