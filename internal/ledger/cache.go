package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cachePrefix = "ledger:budget"

// BudgetCache stores budget query results in Redis. Keys embed a per-account
// version that every ledger mutation bumps, so stale entries are never read
// again and simply expire.
type BudgetCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewBudgetCache instantiates the cache helper. A nil client disables caching.
func NewBudgetCache(client *redis.Client, ttl time.Duration) *BudgetCache {
	return &BudgetCache{client: client, ttl: ttl}
}

func versionKey(accountID int64) string {
	return fmt.Sprintf("%s:%d:version", cachePrefix, accountID)
}

// Version returns the account's cache version, initialising it when missing.
func (c *BudgetCache) Version(ctx context.Context, accountID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(accountID)).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX so a concurrent Bump is never overwritten.
		if err := c.client.SetNX(ctx, versionKey(accountID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey(accountID)).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the versioned key for one budget query.
func (c *BudgetCache) BuildKey(ctx context.Context, accountID int64, budget string) (string, error) {
	ver, err := c.Version(ctx, accountID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:v%d:%s", cachePrefix, accountID, ver, budget), nil
}

// Fetch returns the cached transactions for key or fills it with loader.
// Concurrent misses on the same key share one loader call.
func (c *BudgetCache) Fetch(ctx context.Context, key string, loader func(context.Context) ([]Transaction, error)) ([]Transaction, error) {
	if loader == nil {
		return nil, errors.New("ledger: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached []Transaction
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return value, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Transaction), nil
	}
}

// Bump invalidates every cached budget query of the account.
func (c *BudgetCache) Bump(ctx context.Context, accountID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(accountID)).Err()
}
