package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/querymend/querymend/core/config"
	"github.com/querymend/querymend/core/logger"
	"github.com/querymend/querymend/core/runtime/engines"
)

// redisCache shares cached results across instances. Keys carry a
// generation counter; Invalidate bumps it and old entries age out via TTL.
type redisCache struct {
	client *redis.Client
	gen    atomic.Int64
	log    *logger.Logger
}

func newRedisCache(cfg config.CacheConfig) (*redisCache, error) {
	log := logger.New("cache:redis")
	log.Debugf("Opening Redis connection")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Debugf("Redis connection opened successfully")
	return &redisCache{client: client, log: log}, nil
}

func (c *redisCache) key(key string) string {
	return fmt.Sprintf("querymend:result:%d:%s", c.gen.Load(), key)
}

func (c *redisCache) Get(ctx context.Context, key string) (*engines.Result, bool) {
	payload, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debugf("Redis get failed: %v", err)
		}
		return nil, false
	}

	var result engines.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		c.log.Debugf("Dropping undecodable cache entry: %v", err)
		return nil, false
	}
	return &result, true
}

func (c *redisCache) Set(ctx context.Context, key string, result *engines.Result, ttl time.Duration) {
	if ttl <= 0 || result == nil {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		c.log.Debugf("Skipping unencodable result: %v", err)
		return
	}
	if err := c.client.Set(ctx, c.key(key), payload, ttl).Err(); err != nil {
		c.log.Debugf("Redis set failed: %v", err)
	}
}

func (c *redisCache) Invalidate() {
	c.gen.Add(1)
}

func (c *redisCache) Close() {
	if err := c.client.Close(); err != nil {
		c.log.Errorf("Error closing Redis connection: %v", err)
	}
}
