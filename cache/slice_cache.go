package cache

import (
	"context"
	"errors"
	"time"

	"SliceFM/logger"
	"SliceFM/storage"

	"github.com/go-redis/redis/v8"
)

// SliceCache 在切片存储前加一层 Redis 缓存
type SliceCache struct {
	client  *redis.Client
	backend storage.SliceStore
	ttl     time.Duration
}

// NewSliceCache 创建切片缓存
func NewSliceCache(client *redis.Client, backend storage.SliceStore, ttl time.Duration) *SliceCache {
	return &SliceCache{client: client, backend: backend, ttl: ttl}
}

func sliceKey(key string) string {
	return "slice:" + storage.ObjectKey(key)
}

// Get 先查缓存，未命中或缓存出错时回源并回填
func (c *SliceCache) Get(ctx context.Context, key string) ([]byte, error) {
	if data, ok := c.lookup(ctx, key); ok {
		return data, nil
	}
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.store(key, data)
	return data, nil
}

func (c *SliceCache) lookup(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, sliceKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("slice cache lookup failed, falling back to store",
				logger.String("key", key),
				logger.ErrorField(err))
		}
		return nil, false
	}
	logger.Debug("slice cache hit", logger.String("key", key), logger.Int("size", len(data)))
	return data, true
}

func (c *SliceCache) store(key string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Set(ctx, sliceKey(key), data, c.ttl).Err(); err != nil {
		logger.Warn("slice cache write failed",
			logger.String("key", key),
			logger.Int("size", len(data)),
			logger.ErrorField(err))
	}
}

// Invalidate 删除前缀下的缓存切片，索引更新后调用
func (c *SliceCache) Invalidate(ctx context.Context, prefix string) (int, error) {
	var deleted int
	iter := c.client.Scan(ctx, 0, sliceKey(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, iter.Err()
}
