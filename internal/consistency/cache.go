// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package consistency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/sagaforge/sagaforge/internal/platform/apperr"
	"github.com/sagaforge/sagaforge/internal/platform/constants"
)

/*
Cache is the Redis-backed result cache and analysis budget for the
consistency subsystem.

AI result keys embed a per-scope version counter:

	consistency:ai:{scope}:{version}:{options-fingerprint}

Every saga mutation bumps the counter via InvalidateScope, which orphans all
cached results for the scope in one O(1) write — no key scans. Orphaned
entries age out through their TTL.

The per-actor budget is a fixed-window counter (INCR, EXPIRE on first
increment). A window boundary can admit up to twice the budget across two
adjacent windows; the budget guards cost, not correctness, so the
approximation is acceptable.
*/
type Cache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewCache creates a Cache on top of a connected Redis client.
func NewCache(rdb *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{
		rdb:    rdb,
		logger: logger.With(slog.String("component", "analysis_cache")),
	}
}

// CachedResult is one stored AI analysis outcome. The provider name is kept
// so a cache hit can report the same metadata as the original run.
type CachedResult struct {
	Issues   []Issue `json:"issues"`
	Provider string  `json:"provider"`
}

// GetResult looks up the cached AI result for a scope at its current
// version. A miss returns (nil, nil). Redis being down is reported as an
// error so the caller can decide to degrade instead of fail.
func (c *Cache) GetResult(ctx context.Context, scopeID int64, opts AnalyzeOptions) (*CachedResult, error) {
	key, err := c.resultKey(ctx, scopeID, opts)
	if err != nil {
		return nil, err
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cached analysis: %w", err)
	}

	var result CachedResult
	if err := json.Unmarshal(raw, &result); err != nil {
		// A corrupt entry behaves like a miss; the next run overwrites it.
		c.logger.Warn("discarding corrupt cache entry", slog.String("key", key))
		return nil, nil
	}

	return &result, nil
}

// SetResult stores an AI result under the scope's current version with the
// standard TTL.
func (c *Cache) SetResult(ctx context.Context, scopeID int64, opts AnalyzeOptions, result CachedResult) error {
	key, err := c.resultKey(ctx, scopeID, opts)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding analysis for cache: %w", err)
	}

	if err := c.rdb.Set(ctx, key, raw, constants.AIResultTTL).Err(); err != nil {
		return fmt.Errorf("writing cached analysis: %w", err)
	}
	return nil
}

// InvalidateScope bumps the scope's version counter, orphaning every cached
// result for it. Satisfies the catalogue's invalidation hook.
func (c *Cache) InvalidateScope(ctx context.Context, scopeID int64) error {
	if err := c.rdb.Incr(ctx, c.versionKey(scopeID)).Err(); err != nil {
		return fmt.Errorf("bumping scope version: %w", err)
	}
	return nil
}

/*
ConsumeBudget spends one unit of the actor's analysis budget.

The first increment in a window sets the window expiry; later increments
ride the existing one. Exceeding the budget returns a rate-limited
application error without undoing the increment, so hammering the endpoint
never earns extra calls.

Parameters:
  - ctx: request context.
  - actorID: the authenticated actor spending the budget.

Returns:
  - int: calls remaining in the current window after this one.
  - error: rate-limited application error, or a Redis failure.
*/
func (c *Cache) ConsumeBudget(ctx context.Context, actorID string) (int, error) {
	key := constants.RedisPrefixRateLimit + actorID

	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing analysis budget: %w", err)
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, key, constants.AICallWindow).Err(); err != nil {
			return 0, fmt.Errorf("arming analysis budget window: %w", err)
		}
	}

	if count > int64(constants.AICallBudget) {
		c.logger.Info("analysis budget exhausted",
			slog.String("actor_id", actorID),
			slog.Int64("count", count))
		return 0, apperr.RateLimited(int(constants.AICallWindow.Seconds()))
	}

	return constants.AICallBudget - int(count), nil
}

// resultKey builds the versioned cache key for a scope + option set.
func (c *Cache) resultKey(ctx context.Context, scopeID int64, opts AnalyzeOptions) (string, error) {
	version, err := c.rdb.Get(ctx, c.versionKey(scopeID)).Int64()
	if errors.Is(err, redis.Nil) {
		version = 0
	} else if err != nil {
		return "", fmt.Errorf("reading scope version: %w", err)
	}

	return fmt.Sprintf("%s%d:%d:%s", constants.RedisPrefixAIResult, scopeID, version, opts.Fingerprint()), nil
}

func (c *Cache) versionKey(scopeID int64) string {
	return fmt.Sprintf("%s%d", constants.RedisPrefixScopeVersion, scopeID)
}
