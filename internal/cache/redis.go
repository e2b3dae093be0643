package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// LinkKeyPrefix is the prefix for resolved link keys in Redis
	LinkKeyPrefix = "link:code:"
	// DefaultTTL caps how long a resolved link stays cached
	DefaultTTL = 24 * time.Hour
)

// Entry is the cached resolution data for a code.
// ExpiresAt is kept so expiry can be enforced on a cache hit.
type Entry struct {
	DestinationURL string     `json:"u"`
	ExpiresAt      *time.Time `json:"e,omitempty"`
}

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a new Redis cache instance and pings the server
func NewRedisCache(addr, password string, db, poolSize int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheFromClient(client, ttl), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached entry for code, or nil on a miss
func (r *RedisCache) Get(ctx context.Context, code string) (*Entry, error) {
	val, err := r.client.Get(ctx, LinkKeyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from Redis: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cached link: %w", err)
	}
	return &entry, nil
}

// Set stores entry for code. The TTL never outlives the link's own expiry.
func (r *RedisCache) Set(ctx context.Context, code string, entry Entry) error {
	ttl := r.ttl
	if entry.ExpiresAt != nil {
		remaining := time.Until(*entry.ExpiresAt)
		if remaining <= 0 {
			return nil
		}
		if remaining < ttl {
			ttl = remaining
		}
	}

	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode link: %w", err)
	}
	if err := r.client.Set(ctx, LinkKeyPrefix+code, val, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in Redis: %w", err)
	}
	return nil
}

// Delete removes a code from cache
func (r *RedisCache) Delete(ctx context.Context, code string) error {
	if err := r.client.Del(ctx, LinkKeyPrefix+code).Err(); err != nil {
		return fmt.Errorf("failed to delete from Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client
func (r *RedisCache) GetClient() *redis.Client {
	return r.client
}
