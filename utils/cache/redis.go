package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound = errors.New("key not found in cache")
	// ErrUnavailable means Redis could not be reached. Callers treat it as a miss.
	ErrUnavailable = errors.New("cache unavailable")
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1]
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache wraps redis client with the operations the geocoding pipeline needs
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache instance.
// An unreachable server is not an error here; every later call reports ErrUnavailable until it is back.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	opt.DialTimeout = 2 * time.Second
	opt.ReadTimeout = 1 * time.Second
	opt.WriteTimeout = 1 * time.Second
	opt.MaxRetries = 1

	c := NewRedisCacheFromClient(redis.NewClient(opt))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		log.Printf("[CACHE] Redis not reachable at startup, continuing in degraded mode: %v", err)
	}

	return c, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Ping checks the connection
func (r *RedisCache) Ping(ctx context.Context) error {
	return classify(r.client.Ping(ctx).Err())
}

// Get retrieves a value from cache
func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", classify(err)
	}
	return val, nil
}

// Set stores a value in cache with expiration
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return classify(r.client.Set(ctx, key, value, expiration).Err())
}

// SetJSON stores a JSON-encoded value in cache
func (r *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.Set(ctx, key, jsonData, expiration)
}

// GetJSON retrieves and decodes a JSON value from cache
func (r *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	val, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("failed to decode cached value for %s: %w", key, err)
	}
	return nil
}

// SetNX sets a value only if the key doesn't exist
func (r *RedisCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

// Delete removes keys from cache
func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	return classify(r.client.Del(ctx, keys...).Err())
}

// DeleteIfEquals removes key only while it still holds value
func (r *RedisCache) DeleteIfEquals(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, r.client, []string{key}, value).Int64()
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

// KeysMatching returns all keys matching a glob pattern.
// Uses SCAN so large keyspaces are walked incrementally.
func (r *RedisCache) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, classify(err)
	}
	return keys, nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// IsUnavailable reports whether err means the cache could not be reached
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// classify maps connection-level failures onto ErrUnavailable
func classify(err error) error {
	if err == nil || err == redis.Nil {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, redis.ErrPoolTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// anything else from the server (WRONGTYPE, script errors) is a real error
	return err
}
