package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig locates the Redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient builds a client; it does not dial until first use.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Deduper lets one caller per key through within the TTL.
type Deduper struct {
	rdb    *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// NewDeduper creates a deduper.
func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: slog.Default().With("component", "deduper"),
	}
}

// AcquireOnce reports whether this is the first acquisition of scope/key within the
// TTL. When Redis is unavailable it lets the caller through.
func (d *Deduper) AcquireOnce(ctx context.Context, scope, key string) bool {
	dedupKey := fmt.Sprintf("dedup:%s:%s", scope, key)

	ok, err := d.rdb.SetNX(ctx, dedupKey, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			"scope", scope,
			"key", key,
			"error", err)
		return true
	}
	if !ok {
		d.logger.Debug("Skipped duplicate", "dedup_key", dedupKey)
	}
	return ok
}

// RetryCounter counts delivery attempts in Redis.
type RetryCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRetryCounter creates a counter whose keys expire after ttl.
func NewRetryCounter(rdb *redis.Client, ttl time.Duration) *RetryCounter {
	return &RetryCounter{rdb: rdb, ttl: ttl}
}

// IncrementAndGet increments the count for key and returns the new value.
func (r *RetryCounter) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing retry count: %w", err)
	}
	if count == 1 {
		r.rdb.Expire(ctx, key, r.ttl)
	}
	return count, nil
}

// Get returns the current count, zero when absent.
func (r *RetryCounter) Get(ctx context.Context, key string) (int64, error) {
	count, err := r.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return count, err
}

// Reset clears the count for key.
func (r *RetryCounter) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}
