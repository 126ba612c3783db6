package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

// RedisCommands is the subset of redis.UniversalClient the cache needs.
type RedisCommands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type RedisOptions struct {
	Prefix       string
	TTL          time.Duration
	LockTTL      time.Duration
	PollInterval time.Duration
}

// RedisResultCache shares extraction results between workers. A SETNX
// marker lets one worker load while the others poll for its result.
type RedisResultCache struct {
	client RedisCommands
	opts   RedisOptions
	logger *slog.Logger
}

func NewRedisClient(ctx context.Context, addr, password string) (redis.UniversalClient, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{addr},
		Password:     password,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func NewRedisResultCache(client RedisCommands, opts RedisOptions, logger *slog.Logger) *RedisResultCache {
	if opts.Prefix == "" {
		opts.Prefix = "extraction"
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisResultCache{client: client, opts: opts, logger: logger}
}

func (c *RedisResultCache) GetOrLoad(ctx context.Context, key string, load func(context.Context) (domain.ExtractionResult, error)) (domain.ExtractionResult, error) {
	valueKey := c.opts.Prefix + ":result:" + key
	lockKey := c.opts.Prefix + ":loading:" + key
	deadline := time.Now().Add(c.opts.LockTTL)

	for {
		result, found, err := c.read(ctx, valueKey)
		if err != nil {
			c.logger.Warn("result_cache_unavailable", "key", key, "error", err)
			return load(ctx)
		}
		if found {
			return result, nil
		}

		claimed, err := c.client.SetNX(ctx, lockKey, "1", c.opts.LockTTL).Result()
		if err != nil {
			c.logger.Warn("result_cache_unavailable", "key", key, "error", err)
			return load(ctx)
		}
		if claimed {
			return c.loadAndStore(ctx, key, valueKey, lockKey, load)
		}

		// Another worker holds the marker. A stale marker expires with
		// LockTTL, after which this caller loads on its own.
		if time.Now().After(deadline) {
			return load(ctx)
		}
		timer := time.NewTimer(c.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.ExtractionResult{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *RedisResultCache) read(ctx context.Context, valueKey string) (domain.ExtractionResult, bool, error) {
	raw, err := c.client.Get(ctx, valueKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ExtractionResult{}, false, nil
	}
	if err != nil {
		return domain.ExtractionResult{}, false, err
	}
	var result domain.ExtractionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.ExtractionResult{}, false, err
	}
	return result, true, nil
}

func (c *RedisResultCache) loadAndStore(ctx context.Context, key, valueKey, lockKey string, load func(context.Context) (domain.ExtractionResult, error)) (domain.ExtractionResult, error) {
	defer func() {
		if err := c.client.Del(context.WithoutCancel(ctx), lockKey).Err(); err != nil {
			c.logger.Warn("result_cache_unlock_failed", "key", key, "error", err)
		}
	}()

	result, err := load(ctx)
	if err != nil {
		return result, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return result, nil
	}
	if err := c.client.Set(ctx, valueKey, raw, c.opts.TTL).Err(); err != nil {
		c.logger.Warn("result_cache_store_failed", "key", key, "error", err)
	}
	return result, nil
}
