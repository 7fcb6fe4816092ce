package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cardDesigner/internal/cardlayout"
)

// DefaultCacheKey 是本地缓存使用的固定 key。
const DefaultCacheKey = "card-design:cache"

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache 将扁平 JSON 存在单个 Redis key 下。
type RedisCache struct {
	client redisKV
	key    string
	ttl    time.Duration
}

// NewRedisCache 构造缓存；ttl 为 0 表示不过期。
func NewRedisCache(client redisKV, key string, ttl time.Duration) *RedisCache {
	if key == "" {
		key = DefaultCacheKey
	}
	return &RedisCache{client: client, key: key, ttl: ttl}
}

func (c *RedisCache) Read(ctx context.Context) (cardlayout.CardLayout, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return cardlayout.CardLayout{}, ErrNotFound
		}
		return cardlayout.CardLayout{}, fmt.Errorf("read cache %q: %w", c.key, err)
	}
	return cardlayout.Decode(data)
}

func (c *RedisCache) Write(ctx context.Context, layout cardlayout.CardLayout) error {
	data, err := cardlayout.Encode(layout)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cache %q: %w", c.key, err)
	}
	return nil
}
