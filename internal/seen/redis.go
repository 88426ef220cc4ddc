package seen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps the seen-set in Redis using SETNX for arbitration.
type RedisStore struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// RedisConfig configures a Redis connection for the seen store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, *redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil, fmt.Errorf("redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.Prefix, cfg.TTL), client, nil
}

// NewRedisStoreWithClient wraps an existing client (primarily for testing).
// A zero ttl keeps keys forever.
func NewRedisStoreWithClient(client redisClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "frontier:seen:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// InsertIfAbsent implements crawler.SeenStore.
func (r *RedisStore) InsertIfAbsent(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+id, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Contains implements crawler.SeenStore.
func (r *RedisStore) Contains(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}
