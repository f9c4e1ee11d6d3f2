package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custody-ledger/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// BalanceCache is a Redis-backed read cache for balance lookups. It is
// strictly advisory: Postgres stays the source of truth and every committed
// mutation invalidates the affected key. A nil *BalanceCache is valid and
// disables caching.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache creates a new Redis-backed balance cache
func NewBalanceCache(cfg *config.RedisConfig, ttl time.Duration) (*BalanceCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &BalanceCache{client: client, ttl: ttl}, nil
}

// NewBalanceCacheWithClient wraps an existing Redis client, used in tests.
func NewBalanceCacheWithClient(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

// Close closes the Redis connection
func (c *BalanceCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func balanceKey(userID, asset string) string {
	return fmt.Sprintf("balance:%s:%s", userID, asset)
}

// Get returns the cached balance and whether it was present. Cache errors
// read as misses; the caller falls through to Postgres.
func (c *BalanceCache) Get(ctx context.Context, userID, asset string) (decimal.Decimal, bool) {
	if c == nil || c.client == nil {
		return decimal.Zero, false
	}

	value, err := c.client.Get(ctx, balanceKey(userID, asset)).Result()
	if err != nil {
		return decimal.Zero, false
	}

	amount, err := decimal.NewFromString(value)
	if err != nil {
		// Unparseable entry: drop it rather than serve garbage.
		_ = c.client.Del(ctx, balanceKey(userID, asset)).Err()
		return decimal.Zero, false
	}

	return amount, true
}

// Set stores a balance with the configured TTL.
func (c *BalanceCache) Set(ctx context.Context, userID, asset string, amount decimal.Decimal) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, balanceKey(userID, asset), amount.String(), c.ttl).Err()
}

// Invalidate removes the cached balance for a (user, asset) pair.
func (c *BalanceCache) Invalidate(ctx context.Context, userID, asset string) error {
	if c == nil || c.client == nil {
		return nil
	}

	err := c.client.Del(ctx, balanceKey(userID, asset)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to invalidate balance cache: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable
func (c *BalanceCache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}
