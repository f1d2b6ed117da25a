package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/blog-chat/internal/config"
	"github.com/weiawesome/blog-chat/internal/domain"
)

type RedisHistoryCache struct {
	client *redis.Client
	prefix string
}

func NewRedisHistoryCache(cfg config.RedisConfig, prefix string) (*RedisHistoryCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisHistoryCacheWithClient(client, prefix), nil
}

// NewRedisHistoryCacheWithClient wraps an existing client.
func NewRedisHistoryCacheWithClient(client *redis.Client, prefix string) *RedisHistoryCache {
	return &RedisHistoryCache{client: client, prefix: prefix}
}

func (c *RedisHistoryCache) BuildKey(room string, generation int64, limit int) string {
	return fmt.Sprintf("%s:page:%s:%d:%d", c.prefix, room, generation, limit)
}

func (c *RedisHistoryCache) generationKey(room string) string {
	return fmt.Sprintf("%s:gen:%s", c.prefix, room)
}

func (c *RedisHistoryCache) Get(ctx context.Context, key string) ([]domain.ChatMessage, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var msgs []domain.ChatMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return msgs, nil
}

func (c *RedisHistoryCache) Set(ctx context.Context, key string, msgs []domain.ChatMessage, ttl time.Duration) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

// Generation returns 0 for rooms that were never bumped.
func (c *RedisHistoryCache) Generation(ctx context.Context, room string) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(room)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	return gen, nil
}

func (c *RedisHistoryCache) Bump(ctx context.Context, room string) error {
	if err := c.client.Incr(ctx, c.generationKey(room)).Err(); err != nil {
		return fmt.Errorf("failed to bump generation: %w", err)
	}
	return nil
}

func (c *RedisHistoryCache) Close() error {
	return c.client.Close()
}
